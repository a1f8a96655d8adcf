// Package report publishes per-device dispatch outcomes so fleet coverage
// can be tracked outside the operator's terminal. Publishing is best
// effort: a dead broker must never fail a fleet run.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"adbfleet/internal/fleet"
	"adbfleet/internal/lg"
)

// Outcome states for one device in a dispatch.
const (
	StatusAffected = "affected"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// Event describes the outcome of one operation on one device.
type Event struct {
	RunID     string    `json:"run_id"`
	Operation string    `json:"operation"`
	Device    string    `json:"device"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by run id so a run's
// events land in one partition, in order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal report event: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.RunID),
			Value: value,
			Time:  event.Time,
		})
	}
	return p.writer.WriteMessages(ctx, messages...)
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Discard is the sink used when no brokers are configured.
var Discard Publisher = noopPublisher{}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...Event) error { return nil }
func (noopPublisher) Close() error                            { return nil }

// FromSummary flattens a dispatch summary into events.
func FromSummary(runID, operation, targetSpec string, summary fleet.Summary) []Event {
	now := time.Now().UTC()
	event := func(device, status, errText string) Event {
		return Event{
			RunID:     runID,
			Operation: operation,
			Device:    device,
			Target:    targetSpec,
			Status:    status,
			Error:     errText,
			Time:      now,
		}
	}

	var events []Event
	for _, device := range summary.Affected {
		events = append(events, event(device, StatusAffected, ""))
	}
	for _, device := range summary.Skipped {
		events = append(events, event(device, StatusSkipped, ""))
	}
	for device, err := range summary.Failed {
		events = append(events, event(device, StatusFailed, err.Error()))
	}
	return events
}

// PublishSummary sends a summary's events, logging instead of failing when
// the sink is unreachable.
func PublishSummary(ctx context.Context, pub Publisher, runID, operation, targetSpec string, summary fleet.Summary) {
	events := FromSummary(runID, operation, targetSpec, summary)
	if len(events) == 0 {
		return
	}
	if err := pub.Publish(ctx, events...); err != nil {
		lg.FromContext(ctx).Warn("failed to publish dispatch report", lg.Error(err))
	}
}
