package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Close()
	defer b.Close()

	bus.Publish(DataStoreChanged{Reason: ReasonRebuild})
	bus.Publish(DataStoreChanged{Reason: ReasonMerge, Rows: 3})

	for _, sub := range []*Subscription{a, b} {
		got := sub.Drain()
		require.Len(t, got, 2)
		assert.Equal(t, ReasonRebuild, got[0].Reason)
		assert.Equal(t, ReasonMerge, got[1].Reason)
		assert.Equal(t, 3, got[1].Rows)
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(DataStoreChanged{Reason: ReasonPropagation})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
	assert.Len(t, sub.Drain(), 1000)
}

func TestSubscription_NextWaits(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var got DataStoreChanged
	var err error
	go func() {
		defer wg.Done()
		got, err = sub.Next(context.Background())
	}()

	bus.Publish(DataStoreChanged{Reason: ReasonRemoteImport})
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, ReasonRemoteImport, got.Reason)
}

func TestSubscription_NextHonoursContextAndClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sub.Close()
	sub.Close()
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Closed subscribers no longer receive events.
	bus.Publish(DataStoreChanged{Reason: ReasonMerge})
	assert.Empty(t, sub.Drain())
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(DataStoreChanged{Reason: ReasonMerge}) })
}
