package attempt

import (
	"context"
	"encoding/json"

	"codehunt/internal/domain/hunt"
	"codehunt/internal/kafka"
)

// Publisher converts attempt events into Kafka messages, keyed by user so a
// user's attempts stay ordered on one partition.
type Publisher struct {
	producer *kafka.Producer
}

// NewPublisher constructs a Publisher.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{producer: producer}
}

// Publish pushes one attempt event onto Kafka.
func (p *Publisher) Publish(ctx context.Context, event hunt.AttemptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, event.UserID, payload)
}
