// Package outbuf implements a per-connection outbound double-buffer: one
// side accumulates bytes enqueued by callers while the other is handed,
// as a scatter-gather view, to an in-flight write. Enqueue never blocks
// on a write in progress; a single SwapBuffers call under the
// connection's serializer flips which side is which once the active
// side has drained.
package outbuf

import "net"

// Double is an active/passive pair of byte queues. The zero value is
// ready to use. Double is not safe for concurrent use by itself: callers
// enqueue freely because the owning Connection's serializer is what
// prevents concurrent SwapBuffers/ActiveView access while a write is in
// flight; Double enforces no locking of its own.
type Double struct {
	sides  [2][][]byte
	active int
}

// Enqueue appends b to the passive side. b is not copied; callers must
// not mutate b after calling Enqueue.
func (d *Double) Enqueue(b []byte) {
	passive := d.active ^ 1
	d.sides[passive] = append(d.sides[passive], b)
}

// QueueSize returns the number of buffers waiting on the passive side.
func (d *Double) QueueSize() int {
	return len(d.sides[d.active^1])
}

// SwapBuffers clears the (assumed exhausted) active side and flips the
// active/passive index, so the side that was passive becomes active.
// Precondition: no write is in flight against the current active side.
func (d *Double) SwapBuffers() {
	d.sides[d.active] = d.sides[d.active][:0]
	d.active ^= 1
}

// ActiveView returns a scatter-gather view of the active side, suitable
// for a single vectorized net.Conn.Write (net.Buffers implements
// io.WriterTo when the underlying conn supports writev).
func (d *Double) ActiveView() net.Buffers {
	return net.Buffers(d.sides[d.active])
}

// IsActiveEmpty reports whether the active side has nothing left to
// write — the write loop's signal to stop looping rather than swap
// again.
func (d *Double) IsActiveEmpty() bool {
	return len(d.sides[d.active]) == 0
}
