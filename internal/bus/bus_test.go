package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct{ n int }

func (testEvent) EventType() string { return "test" }

func TestPublishDeliversInFIFOOrderPerSubscriber(t *testing.T) {
	b := New(64)
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})

	b.Subscribe("test", func(e Event) error {
		mu.Lock()
		seen = append(seen, e.(testEvent).n)
		if len(seen) == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		b.Publish(testEvent{n: i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestHandlerErrorDoesNotStopOtherHandlers(t *testing.T) {
	b := New(8)

	var secondCalled bool
	b.Subscribe("test", func(e Event) error { return fmt.Errorf("boom") })
	b.Subscribe("test", func(e Event) error { secondCalled = true; return nil })

	b.PublishNow(testEvent{n: 1})
	assert.True(t, secondCalled)
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := New(8)

	var secondCalled bool
	b.Subscribe("test", func(e Event) error { panic("boom") })
	b.Subscribe("test", func(e Event) error { secondCalled = true; return nil })

	require.NotPanics(t, func() { b.PublishNow(testEvent{n: 1}) })
	assert.True(t, secondCalled)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(8)
	var calls int
	id := b.Subscribe("test", func(e Event) error { calls++; return nil })
	b.PublishNow(testEvent{n: 1})
	b.Unsubscribe("test", id)
	b.PublishNow(testEvent{n: 2})
	assert.Equal(t, 1, calls)
}

func TestSubscriberCount(t *testing.T) {
	b := New(8)
	assert.Equal(t, 0, b.SubscriberCount("test"))
	b.Subscribe("test", func(e Event) error { return nil })
	assert.Equal(t, 1, b.SubscriberCount("test"))
}
