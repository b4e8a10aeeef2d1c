package conn

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	closeCh chan struct{}
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{closeCh: make(chan struct{})}
}

func (r *recordingReceiver) Deliver(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	r.frames = append(r.frames, cp)
}

func (r *recordingReceiver) OnClose() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.closeCh)
}

func (r *recordingReceiver) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

func TestServeParsesDelimitedFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := New(1, server)
	recv := newRecordingReceiver()
	c.SetReceiver(recv)
	go c.Serve()

	go func() {
		client.Write([]byte("hello\r\n\r\nworld\r\n\r\n"))
	}()

	require.Eventually(t, func() bool {
		return len(recv.received()) == 2
	}, time.Second, 5*time.Millisecond)

	frames := recv.received()
	assert.Equal(t, "hello", string(frames[0]))
	assert.Equal(t, "world", string(frames[1]))
}

func TestServeInvokesOnCloseWhenPeerHangsUp(t *testing.T) {
	client, server := net.Pipe()

	c := New(1, server)
	recv := newRecordingReceiver()
	c.SetReceiver(recv)
	go c.Serve()

	client.Close()

	select {
	case <-recv.closeCh:
	case <-time.After(time.Second):
		t.Fatal("OnClose was never invoked")
	}
}

func TestWriteDeliversQueuedFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := New(1, server)
	c.SetReceiver(newRecordingReceiver())
	go c.Serve()
	defer c.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	c.Write([]byte("payload\r\n\r\n"))

	select {
	case got := <-done:
		assert.Equal(t, "payload\r\n\r\n", string(got))
	case <-time.After(time.Second):
		t.Fatal("write never reached the peer")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, server := net.Pipe()
	c := New(1, server)
	recv := newRecordingReceiver()
	c.SetReceiver(recv)

	c.Close()
	c.Close()
	assert.True(t, c.Closed())
}

func TestWriteAfterCloseIsNoOp(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	c := New(1, server)
	c.SetReceiver(newRecordingReceiver())
	c.Close()

	assert.NotPanics(t, func() {
		c.Write([]byte("too late\r\n\r\n"))
	})
}
