package reqqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat/internal/protocol"
)

func TestPushPopFIFO(t *testing.T) {
	var q Queue
	q.Push(protocol.Request{Query: protocol.ListChatroom})
	q.Push(protocol.Request{Query: protocol.JoinChatroom})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, protocol.ListChatroom, first.Query)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, protocol.JoinChatroom, second.Query)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestExtractFrontDrainsInOrder(t *testing.T) {
	var q Queue
	q.Push(protocol.Request{Query: protocol.Syn})
	q.Push(protocol.Request{Query: protocol.Ack})

	items := q.ExtractFront()
	require.Len(t, items, 2)
	assert.Equal(t, protocol.Syn, items[0].Query)
	assert.Equal(t, protocol.Ack, items[1].Query)
	assert.True(t, q.IsEmpty())
}

func TestSwapExchangesContents(t *testing.T) {
	var a, b Queue
	a.Push(protocol.Request{Query: protocol.CreateChatroom})
	b.Push(protocol.Request{Query: protocol.LeaveChatroom})

	a.Swap(&b)

	aItems := a.ExtractFront()
	bItems := b.ExtractFront()
	require.Len(t, aItems, 1)
	require.Len(t, bItems, 1)
	assert.Equal(t, protocol.LeaveChatroom, aItems[0].Query)
	assert.Equal(t, protocol.CreateChatroom, bItems[0].Query)
}

func TestSwapConcurrentNoDeadlock(t *testing.T) {
	var a, b Queue
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.Swap(&b) }()
		go func() { defer wg.Done(); b.Swap(&a) }()
	}
	wg.Wait()
}
