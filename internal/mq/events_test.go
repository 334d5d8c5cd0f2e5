package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewear/apiserver/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu       sync.Mutex
	channels []string
	messages []Message
	err      error
}

func (b *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.channels = append(b.channels, channel)
	b.messages = append(b.messages, Message{ID: "m1", Data: data, Attributes: attrs})
	return "m1", nil
}

func (b *recordingBackend) Subscribe(context.Context, string, Handler) error { return nil }
func (b *recordingBackend) Close() error                                     { return nil }

func TestEventPublisher_Publish(t *testing.T) {
	backend := &recordingBackend{}
	pub := NewEventPublisher(New(backend), "rewear-events", logging.Nop())

	pub.Publish(context.Background(), EventOrderCreated, map[string]any{"points": 60})

	require.Len(t, backend.messages, 1)
	assert.Equal(t, "rewear-events", backend.channels[0])
	assert.Equal(t, "application/json", backend.messages[0].Attributes[AttrContentType])

	event, err := DecodeEvent(backend.messages[0])
	require.NoError(t, err)
	assert.Equal(t, EventOrderCreated, event.Type)
	assert.NotEmpty(t, event.ID)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, 60, payload["points"])
}

func TestEventPublisher_SwallowsFailures(t *testing.T) {
	backend := &recordingBackend{err: errors.New("broker down")}
	pub := NewEventPublisher(New(backend), "rewear-events", logging.Nop())

	assert.NotPanics(t, func() {
		pub.Publish(context.Background(), EventSwapRequested, struct{}{})
	})
}

func TestEventPublisher_NilIsNoop(t *testing.T) {
	var pub *EventPublisher
	assert.NotPanics(t, func() {
		pub.Publish(context.Background(), EventListingModerated, nil)
	})

	disabled := NewEventPublisher(nil, "rewear-events", logging.Nop())
	assert.NotPanics(t, func() {
		disabled.Publish(context.Background(), EventListingModerated, nil)
	})
}

func TestDecodeEvent_FallsBackToAttribute(t *testing.T) {
	data, err := json.Marshal(Event{ID: "e1", OccurredAt: time.Now(), Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	event, err := DecodeEvent(Message{ID: "m", Data: data, Attributes: map[string]string{"event-type": EventSwapRequested}})
	require.NoError(t, err)
	assert.Equal(t, EventSwapRequested, event.Type)

	_, err = DecodeEvent(Message{ID: "bad", Data: []byte("not json")})
	assert.Error(t, err)
}
