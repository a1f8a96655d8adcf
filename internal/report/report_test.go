package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbfleet/internal/fleet"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestFromSummary(t *testing.T) {
	summary := fleet.Summary{
		Affected: []string{"a"},
		Skipped:  []string{"b"},
		Failed:   map[string]error{"c": errors.New("boom")},
	}

	events := FromSummary("run-1", "uninstall", "example", summary)
	require.Len(t, events, 3)

	byDevice := make(map[string]Event, len(events))
	for _, event := range events {
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "uninstall", event.Operation)
		assert.Equal(t, "example", event.Target)
		byDevice[event.Device] = event
	}
	assert.Equal(t, StatusAffected, byDevice["a"].Status)
	assert.Equal(t, StatusSkipped, byDevice["b"].Status)
	assert.Equal(t, StatusFailed, byDevice["c"].Status)
	assert.Equal(t, "boom", byDevice["c"].Error)
}

func TestKafkaPublisher(t *testing.T) {
	writer := &fakeWriter{}
	pub := &KafkaPublisher{writer: writer}

	events := FromSummary("run-1", "clear-data", "a.b", fleet.Summary{Affected: []string{"emu-5554"}})
	require.NoError(t, pub.Publish(context.Background(), events...))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("run-1"), writer.messages[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, "emu-5554", decoded.Device)
	assert.Equal(t, StatusAffected, decoded.Status)
}

func TestPublishSummaryNeverFails(t *testing.T) {
	pub := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	// Must not panic or propagate; the fleet run already happened.
	PublishSummary(context.Background(), pub, "run-1", "stress", "a.b",
		fleet.Summary{Affected: []string{"emu-5554"}})
}

func TestPublishSummaryEmpty(t *testing.T) {
	writer := &fakeWriter{}
	PublishSummary(context.Background(), &KafkaPublisher{writer: writer}, "run-1", "stress", "a.b", fleet.Summary{})
	assert.Empty(t, writer.messages)
}
