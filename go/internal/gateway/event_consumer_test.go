package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu        sync.Mutex
	events    []changefeed.Event
	closeAlls int
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, ev changefeed.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBroadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeAlls++
}

func (b *recordingBroadcaster) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events), b.closeAlls
}

func TestFeedConsumer_ResubscribesOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	feeds := make(chan chan changefeed.Event, 2)
	subscribe := func(ctx context.Context) (<-chan changefeed.Event, error) {
		ch := make(chan changefeed.Event, 1)
		feeds <- ch
		return ch, nil
	}

	b := &recordingBroadcaster{}
	src, err := FeedSource(subscribe, clock)(b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Start(ctx) }()

	first := <-feeds
	first <- changefeed.Event{ID: uuid.New(), SessionID: uuid.New()}
	close(first)

	require.Eventually(t, func() bool {
		events, closes := b.counts()
		return events == 1 && closes == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	select {
	case <-feeds:
		t.Fatal("resubscribed before the retry delay elapsed")
	default:
	}
	clock.Advance(time.Second)

	select {
	case <-feeds:
	case <-time.After(time.Second):
		t.Fatal("no resubscribe after the retry delay")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}
