package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	eventStreamName   = "COORDINATOR_EVENTS"
	eventStreamMaxAge = 24 * time.Hour
)

// NATSPublisher publishes lifecycle events to a JetStream stream.
type NATSPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSPublisher creates the events stream if needed and returns a
// publisher over it.
func NewNATSPublisher(js nats.JetStreamContext, logger *zap.Logger) (*NATSPublisher, error) {
	_, err := js.StreamInfo(eventStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     eventStreamName,
			Subjects: []string{"task.*", "worker.*"},
			Storage:  nats.FileStorage,
			MaxAge:   eventStreamMaxAge,
			MaxMsgs:  -1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event stream: %w", err)
		}
	}

	return &NATSPublisher{
		logger: logger.Named("events"),
		js:     js,
	}, nil
}

// Publish emits one event on its subject.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(event.Subject, data, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", event.Subject),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Event published",
		zap.String("subject", event.Subject),
		zap.String("task_id", event.TaskID))

	return nil
}
