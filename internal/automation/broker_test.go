package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishToSubscribers(t *testing.T) {
	broker := NewBroker()
	runID := "11111111-1111-1111-1111-111111111111"

	sub := broker.Subscribe(runID)
	other := broker.Subscribe("22222222-2222-2222-2222-222222222222")

	step := 1
	broker.Publish(runID, Event{Type: EventTypeProgress, Step: &step})

	event := <-sub.Events()
	assert.Equal(t, EventTypeProgress, event.Type)
	assert.Equal(t, runID, event.RunID)
	require.NotNil(t, event.Step)
	assert.Equal(t, 1, *event.Step)

	// The other run's subscriber saw nothing.
	select {
	case e := <-other.Events():
		t.Fatalf("unexpected event on other subscriber: %+v", e)
	default:
	}
}

func TestBroker_PublishWithoutSubscribers(t *testing.T) {
	broker := NewBroker()
	// Must not panic or block.
	broker.Publish("33333333-3333-3333-3333-333333333333", Event{Type: EventTypeComplete})
}

func TestBroker_Unsubscribe(t *testing.T) {
	broker := NewBroker()
	runID := "44444444-4444-4444-4444-444444444444"

	sub := broker.Subscribe(runID)
	assert.Equal(t, 1, broker.SubscriberCount(runID))

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount(runID))

	// Channel is closed after removal.
	_, open := <-sub.Events()
	assert.False(t, open)

	// Unsubscribing twice is safe.
	broker.Unsubscribe(sub)
}

func TestBroker_DropsStalledSubscriber(t *testing.T) {
	broker := NewBroker()
	runID := "55555555-5555-5555-5555-555555555555"

	sub := broker.Subscribe(runID)
	for i := 0; i < subscriberBuffer+1; i++ {
		broker.Publish(runID, Event{Type: EventTypeProgress})
	}

	// The overflowing publish removed the subscriber and closed its channel.
	assert.Equal(t, 0, broker.SubscriberCount(runID))

	received := 0
	for range sub.Events() {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestBroker_MultipleSubscribersSameRun(t *testing.T) {
	broker := NewBroker()
	runID := "66666666-6666-6666-6666-666666666666"

	first := broker.Subscribe(runID)
	second := broker.Subscribe(runID)
	assert.Equal(t, 2, broker.SubscriberCount(runID))

	broker.Publish(runID, Event{Type: EventTypeComplete, Status: "success"})

	for _, sub := range []*Subscriber{first, second} {
		event := <-sub.Events()
		assert.Equal(t, EventTypeComplete, event.Type)
		assert.Equal(t, "success", event.Status)
	}
}
