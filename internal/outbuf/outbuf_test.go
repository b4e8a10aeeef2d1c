package outbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePassiveOnly(t *testing.T) {
	var d Double
	d.Enqueue([]byte("a"))
	d.Enqueue([]byte("b"))

	assert.Equal(t, 2, d.QueueSize())
	assert.True(t, d.IsActiveEmpty())
}

func TestSwapBuffersPromotesPassive(t *testing.T) {
	var d Double
	d.Enqueue([]byte("hello"))
	d.SwapBuffers()

	require.False(t, d.IsActiveEmpty())
	view := d.ActiveView()
	require.Len(t, view, 1)
	assert.Equal(t, "hello", string(view[0]))
	assert.Equal(t, 0, d.QueueSize())
}

func TestSwapBuffersClearsExhaustedActive(t *testing.T) {
	var d Double
	d.Enqueue([]byte("first"))
	d.SwapBuffers()
	d.Enqueue([]byte("second")) // goes to the new passive side

	d.SwapBuffers() // first's side is now passive and gets cleared, second becomes active
	require.False(t, d.IsActiveEmpty())
	view := d.ActiveView()
	require.Len(t, view, 1)
	assert.Equal(t, "second", string(view[0]))
}
