package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/jobs"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

type captureQueue struct {
	payloads []jobs.SendEmailPayload
}

func (q *captureQueue) EnqueueSendEmail(_ context.Context, p jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, p)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

var at = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func alertEvent(severity inventory.AlertSeverity, qty int64) inventory.Event {
	return inventory.Event{
		Kind: inventory.EventAlertRaised,
		SKU:  "WH-001",
		At:   at,
		Alert: &inventory.Alert{
			ID: "a-1", Type: inventory.AlertOutOfStock, Severity: severity,
			WarehouseID: "W1", Message: "W1 is out of stock", Quantity: qty, TriggeredAt: at,
		},
	}
}

func TestKafkaPublisherKeysBySKU(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w}
	err := p.Publish(context.Background(), []inventory.Event{
		alertEvent(inventory.SeverityCritical, 0),
		{Kind: inventory.EventSyncFailed, SKU: "WH-002", At: at, Channel: inventory.ChannelEbay, Error: "timeout"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "WH-001", string(w.msgs[0].Key))
	assert.Equal(t, "inventory.alert.raised", string(w.msgs[0].Headers[0].Value))

	var decoded inventory.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, inventory.ChannelEbay, decoded.Channel)

	w.err = errors.New("broker down")
	require.Error(t, p.Publish(context.Background(), []inventory.Event{alertEvent(inventory.SeverityWarning, 1)}))
	require.NoError(t, p.Publish(context.Background(), nil))
}

func TestEmailNotifierQueuesCriticalAlertsOnly(t *testing.T) {
	q := &captureQueue{}
	n := NewEmailNotifier(q, "ops@example.com, buyer@example.com", nil)

	err := n.Publish(context.Background(), []inventory.Event{
		alertEvent(inventory.SeverityWarning, 8),
		alertEvent(inventory.SeverityCritical, 12500),
		{Kind: inventory.EventMovementApplied, SKU: "WH-001", At: at},
	})
	require.NoError(t, err)
	require.Len(t, q.payloads, 2)
	assert.Equal(t, "ops@example.com", q.payloads[0].To)
	assert.Equal(t, "buyer@example.com", q.payloads[1].To)
	assert.Equal(t, "[stocksync] out-of-stock on WH-001", q.payloads[0].Subject)
	assert.Contains(t, q.payloads[0].Body, "12,500")
	assert.Contains(t, q.payloads[0].Body, "W1 is out of stock")
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &KafkaPublisher{writer: &captureWriter{}}
	bad := &KafkaPublisher{writer: &captureWriter{err: errors.New("down")}}
	err := Fanout{ok, nil, bad}.Publish(context.Background(), []inventory.Event{alertEvent(inventory.SeverityCritical, 0)})
	require.ErrorContains(t, err, "down")
	assert.Len(t, ok.writer.(*captureWriter).msgs, 1)
}
