package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversByKind(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	finished := bus.Subscribe(DownloadFinished, 4)
	failed := bus.Subscribe(DownloadFailed, 4)
	all := bus.SubscribeAll(4)

	bus.Publish(Event{Kind: DownloadFinished, RequestID: "r1", OccurredAt: time.Now()})

	select {
	case e := <-finished:
		assert.Equal(t, "r1", e.RequestID)
	case <-time.After(time.Second):
		t.Fatal("finished subscriber did not receive event")
	}

	select {
	case e := <-all:
		assert.Equal(t, DownloadFinished, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("all-events subscriber did not receive event")
	}

	select {
	case e := <-failed:
		t.Fatalf("failed subscriber received unexpected event %v", e)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(DownloadStarted, 1)
	bus.Publish(Event{Kind: DownloadStarted, RequestID: "r1"})
	// The buffer is full now; this publish must not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Kind: DownloadStarted, RequestID: "r2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	e := <-ch
	require.Equal(t, "r1", e.RequestID)
}

func TestBusCloseClosesChannels(t *testing.T) {
	bus := NewBus()
	ch := bus.SubscribeAll(1)
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after bus.Close")

	// Publishing after close must be a no-op, not a panic.
	bus.Publish(Event{Kind: DownloadStarted})
}

func TestBusCloseDuringPublishDoesNotPanic(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(DownloadStarted, 1)
	bus.SubscribeAll(1)

	// A send racing Close on a closing channel would panic and crash the
	// test binary.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				bus.Publish(Event{Kind: DownloadStarted, RequestID: "r"})
			}
		}()
	}
	bus.Close()
	wg.Wait()
}
