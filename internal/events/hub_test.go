package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	var got Event
	var mu sync.Mutex
	h.Subscribe(TopicConfigUpdated, func(_ context.Context, evt Event) {
		mu.Lock()
		defer mu.Unlock()
		got = evt
	})

	h.Publish(context.Background(), TopicConfigUpdated, "payload", map[string]string{"k": "v"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, TopicConfigUpdated, got.Topic)
	assert.Equal(t, "payload", got.Payload)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestHub_PublishIgnoresOtherTopics(t *testing.T) {
	h := NewHub()
	called := false
	h.Subscribe(TopicCredentialChanged, func(_ context.Context, evt Event) {
		called = true
	})

	h.Publish(context.Background(), TopicConfigUpdated, nil, nil)
	assert.False(t, called)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	count := 0
	unsubscribe := h.Subscribe(TopicCredentialsSynced, func(_ context.Context, evt Event) {
		count++
	})

	h.Publish(context.Background(), TopicCredentialsSynced, nil, nil)
	require.Equal(t, 1, count)

	unsubscribe()
	h.Publish(context.Background(), TopicCredentialsSynced, nil, nil)
	assert.Equal(t, 1, count)
}

func TestHub_MultipleSubscribersAllReceive(t *testing.T) {
	h := NewHub()
	var mu sync.Mutex
	received := 0
	handler := func(_ context.Context, evt Event) {
		mu.Lock()
		defer mu.Unlock()
		received++
	}
	h.Subscribe(TopicConfigUpdated, handler)
	h.Subscribe(TopicConfigUpdated, handler)

	h.Publish(context.Background(), TopicConfigUpdated, nil, nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, received)
}
