package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/internal/logging"
	"github.com/rewear/apiserver/internal/metrics"
)

// Event types published by the marketplace.
const (
	EventListingModerated = "listing.moderated"
	EventOrderCreated     = "order.created"
	EventSwapRequested    = "swap.requested"
)

const attrEventType = "event-type"

const publishTimeout = 5 * time.Second

// Event is the envelope every published message carries.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// EventPublisher serializes domain events onto a channel. A nil MQ turns it
// into a no-op. Publish failures are logged and never returned, since the
// state change they describe has already been committed.
type EventPublisher struct {
	mq      *MQ
	channel string
	log     logging.Logger
}

func NewEventPublisher(mq *MQ, channel string, log logging.Logger) *EventPublisher {
	return &EventPublisher{mq: mq, channel: channel, log: log}
}

// Publish sends payload as an event of the given type.
func (p *EventPublisher) Publish(ctx context.Context, eventType string, payload any) {
	if p == nil || p.mq == nil {
		return
	}

	data, err := EncodeEvent(eventType, payload, time.Now().UTC())
	if err != nil {
		p.log.Error(ctx, "encode event failed", "type", eventType, "error", err)
		metrics.EventsPublished.WithLabelValues(eventType, metrics.ResultError).Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	attrs := map[string]string{
		AttrContentType: "application/json",
		attrEventType:   eventType,
	}
	_, err = p.mq.Publish(ctx, p.channel, data, attrs)
	metrics.EventsPublished.WithLabelValues(eventType, metrics.Result(err)).Inc()
	if err != nil {
		p.log.Warn(ctx, "publish event failed", "type", eventType, "channel", p.channel, "error", err)
	}
}

// EncodeEvent wraps payload in an Event envelope.
func EncodeEvent(eventType string, payload any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at,
		Payload:    raw,
	})
}

// DecodeEvent parses a message produced by EventPublisher.
func DecodeEvent(msg Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	if event.Type == "" {
		event.Type = msg.Attributes[attrEventType]
	}
	return event, nil
}
