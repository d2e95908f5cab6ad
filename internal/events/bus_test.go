package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()

	id, ch := bus.Subscribe(nil)
	defer bus.Unsubscribe(id)

	event := New(EventJobStarted, "job-1", map[string]any{"type": "enrich"})
	bus.Publish(event)

	select {
	case got := <-ch:
		assert.Equal(t, EventJobStarted, got.Type)
		assert.Equal(t, "job-1", got.TargetID)
		assert.NotEmpty(t, got.ID)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_Filter(t *testing.T) {
	bus := NewBus()

	id, ch := bus.Subscribe(TypeFilter(EventJobCompleted, EventJobFailed))
	defer bus.Unsubscribe(id)

	bus.Publish(New(EventJobStarted, "job-1", nil))
	bus.Publish(New(EventJobCompleted, "job-1", nil))

	select {
	case got := <-ch:
		assert.Equal(t, EventJobCompleted, got.Type)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected event: %s", got.Type)
	default:
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(WithBufferSize(1))

	id, ch := bus.Subscribe(nil)
	defer bus.Unsubscribe(id)

	bus.Publish(New(EventJobStarted, "job-1", nil))
	// Channel is full; this must not block
	done := make(chan struct{})
	go func() {
		bus.Publish(New(EventJobProgress, "job-1", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	got := <-ch
	assert.Equal(t, EventJobStarted, got.Type)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	id, ch := bus.Subscribe(nil)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(id)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "channel closes on unsubscribe")

	// Double unsubscribe is harmless
	bus.Unsubscribe(id)
}
