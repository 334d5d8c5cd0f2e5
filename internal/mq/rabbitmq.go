package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rewear/apiserver/config"
)

// RabbitMQClient delivers events through the default exchange to a queue
// named after the channel. Publishing uses one shared AMQP channel guarded by
// a mutex; every Subscribe call opens its own AMQP channel.
type RabbitMQClient struct {
	conn *amqp.Connection
	cfg  config.RabbitMQConfig

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("RABBITMQ_URL is required for the rabbitmq backend")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return &RabbitMQClient{conn: conn, cfg: cfg, pub: pub, declared: make(map[string]bool)}, nil
}

// Publish sends one event. The event-type attribute travels as the AMQP
// message type, the rest as headers.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errNoChannel
	}

	msg := amqp.Publishing{
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Transient,
		Headers:      amqp.Table{},
		Body:         data,
	}
	if r.cfg.QueueDurable {
		msg.DeliveryMode = amqp.Persistent
	}
	for k, v := range attrs {
		switch k {
		case AttrContentType:
			msg.ContentType = v
		case attrEventType:
			msg.Type = v
		default:
			msg.Headers[k] = v
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declare(r.pub, channel); err != nil {
		return "", err
	}
	if err := r.pub.PublishWithContext(ctx, "", channel, false, false, msg); err != nil {
		return "", fmt.Errorf("rabbitmq publish to %s: %w", channel, err)
	}
	return msg.MessageId, nil
}

// Subscribe blocks until ctx is done or the broker closes the delivery
// stream. A failed message is requeued once and dropped when it fails again.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errNoChannel
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if r.cfg.PrefetchCount > 0 {
		if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("rabbitmq qos: %w", err)
		}
	}
	r.mu.Lock()
	err = r.declare(ch, channel)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, channel, "rewear-notify-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery stream closed")
			}
			if err := handler(ctx, deliveryMessage(d)); err != nil {
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	_ = r.pub.Close()
	r.mu.Unlock()
	return r.conn.Close()
}

// declare makes sure the queue exists. Callers hold r.mu.
func (r *RabbitMQClient) declare(ch *amqp.Channel, queue string) error {
	if r.declared[queue] {
		return nil
	}
	if _, err := ch.QueueDeclare(queue, r.cfg.QueueDurable, r.cfg.QueueAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", queue, err)
	}
	r.declared[queue] = true
	return nil
}

func deliveryMessage(d amqp.Delivery) Message {
	attrs := make(map[string]string, len(d.Headers)+2)
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		} else {
			attrs[k] = fmt.Sprint(v)
		}
	}
	if d.ContentType != "" {
		attrs[AttrContentType] = d.ContentType
	}
	if d.Type != "" {
		attrs[attrEventType] = d.Type
	}
	return Message{ID: d.MessageId, Data: d.Body, Attributes: attrs}
}
