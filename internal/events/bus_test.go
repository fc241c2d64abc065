package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/models"
	"github.com/AndreasThinks/nodeice-board/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

type collector struct {
	mu     sync.Mutex
	events []Event
	cids   []string
}

func (c *collector) HandleEvent(ctx context.Context, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.cids = append(c.cids, observability.ExtractCorrelationID(ctx))
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestBus_DeliversToAllListenersInOrder(t *testing.T) {
	bus := NewBus(8)
	first, second := &collector{}, &collector{}
	bus.Register(first)
	bus.Register(second)
	bus.Start()

	ctx := observability.WithCorrelationID(context.Background(), "cid-1")
	require.True(t, bus.Publish(ctx, PostCreated{Post: models.Post{ID: 1}}))
	require.True(t, bus.Publish(ctx, CommentCreated{Comment: models.Comment{ID: 2, PostID: 1}}))

	require.NoError(t, bus.Close(context.Background()))

	for _, c := range []*collector{first, second} {
		require.Len(t, c.events, 2)
		assert.Equal(t, NamePostCreated, c.events[0].Name())
		assert.Equal(t, NameCommentCreated, c.events[1].Name())
		assert.Equal(t, []string{"cid-1", "cid-1"}, c.cids)
	}
}

func TestBus_PublisherCancellationDoesNotReachListeners(t *testing.T) {
	bus := NewBus(1)
	var got error
	done := make(chan struct{})
	bus.Register(ListenerFunc(func(ctx context.Context, _ Event) {
		got = ctx.Err()
		close(done)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, bus.Publish(ctx, PostCreated{}))
	cancel()
	bus.Start()

	<-done
	assert.NoError(t, got)
	require.NoError(t, bus.Close(context.Background()))
}

func TestBus_FullQueueDropsEvent(t *testing.T) {
	bus := NewBus(1)
	c := &collector{}
	bus.Register(c)

	// not started: the first event fills the queue
	assert.True(t, bus.Publish(context.Background(), PostCreated{Post: models.Post{ID: 1}}))
	assert.False(t, bus.Publish(context.Background(), PostCreated{Post: models.Post{ID: 2}}))

	bus.Start()
	require.NoError(t, bus.Close(context.Background()))
	assert.Equal(t, 1, c.count())
}

func TestBus_ListenerPanicIsContained(t *testing.T) {
	bus := NewBus(4)
	c := &collector{}
	bus.Register(ListenerFunc(func(context.Context, Event) { panic("boom") }))
	bus.Register(c)
	bus.Start()

	bus.Publish(context.Background(), PostCreated{})
	bus.Publish(context.Background(), PostCreated{})

	assert.Eventually(t, func() bool { return c.count() == 2 }, testEventuallyTimeout, testPollInterval)
	require.NoError(t, bus.Close(context.Background()))
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Start()
	require.NoError(t, bus.Close(context.Background()))
	require.NoError(t, bus.Close(context.Background()))

	assert.False(t, bus.Publish(context.Background(), PostCreated{}))
}

func TestBus_CloseHonoursDeadline(t *testing.T) {
	bus := NewBus(4)
	release := make(chan struct{})
	bus.Register(ListenerFunc(func(context.Context, Event) { <-release }))
	bus.Start()
	bus.Publish(context.Background(), PostCreated{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Close(ctx), context.DeadlineExceeded)
	close(release)
}
