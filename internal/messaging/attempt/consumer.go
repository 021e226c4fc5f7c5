package attempt

import (
	"context"
	"encoding/json"
	"log"

	"codehunt/internal/domain/hunt"
	"codehunt/internal/kafka"
)

// Handler reacts to decoded attempt events.
type Handler interface {
	HandleAttempt(ctx context.Context, event hunt.AttemptEvent) error
}

// HandlerFunc makes ordinary functions usable as attempt handlers.
type HandlerFunc func(ctx context.Context, event hunt.AttemptEvent) error

// HandleAttempt implements Handler.
func (f HandlerFunc) HandleAttempt(ctx context.Context, event hunt.AttemptEvent) error {
	return f(ctx, event)
}

// Consumer wraps the low-level Kafka consumer and decodes attempt events.
type Consumer struct {
	consumer *kafka.Consumer
}

// NewConsumer wires the handler through the low-level consumer.
func NewConsumer(brokers []string, groupID, topic string, handler Handler) (*Consumer, error) {
	llHandler := kafka.HandlerFunc(func(ctx context.Context, value []byte) error {
		var event hunt.AttemptEvent
		if err := json.Unmarshal(value, &event); err != nil {
			// A malformed event will never decode on redelivery either.
			log.Printf("attempt consumer decode error, dropping message: %v", err)
			return nil
		}
		return handler.HandleAttempt(ctx, event)
	})
	cons, err := kafka.NewConsumer(brokers, groupID, topic, llHandler)
	if err != nil {
		return nil, err
	}
	return &Consumer{consumer: cons}, nil
}

// Start begins consuming events.
func (c *Consumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close cleans up resources.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}
