package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher publishes campaign events with bounded retries.
type EventPublisher struct {
	writer MessageWriter
	budget time.Duration
}

// NewEventPublisher constructs a publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string, budget time.Duration) *EventPublisher {
	return NewEventPublisherWithWriter(k.NewWriter(topic), budget)
}

// NewEventPublisherWithWriter wires an existing writer.
func NewEventPublisherWithWriter(writer MessageWriter, budget time.Duration) *EventPublisher {
	if budget <= 0 {
		budget = 10 * time.Second
	}
	return &EventPublisher{writer: writer, budget: budget}
}

// PublishCampaignEvent emits the event keyed by campaign id, retrying with
// exponential backoff until the publish budget is spent.
func (p *EventPublisher) PublishCampaignEvent(ctx context.Context, event CampaignEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event publisher: marshal event: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(event.CampaignID),
		Value: value,
		Time:  event.OccurredAt,
	}

	op := backoff.NewExponentialBackOff()
	op.InitialInterval = 100 * time.Millisecond
	op.MaxElapsedTime = p.budget
	if err := backoff.Retry(func() error {
		return p.writer.WriteMessages(ctx, record)
	}, backoff.WithContext(op, ctx)); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

// PublishCampaignEvent implements the publisher contract.
func (NopPublisher) PublishCampaignEvent(context.Context, CampaignEvent) error { return nil }

// Close implements the publisher contract.
func (NopPublisher) Close() error { return nil }
