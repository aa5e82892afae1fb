package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/logger"
)

type recordingAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	return nil
}

func TestProcessMessage(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		wantAck     int
		wantNack    int
		wantRequeue bool
	}{
		{name: "success acks", wantAck: 1},
		{name: "transient failure requeues", handlerErr: errors.New("db down"), wantNack: 1, wantRequeue: true},
		{name: "permanent failure drops", handlerErr: Permanent(errors.New("bad json")), wantNack: 1},
		{name: "wrapped permanent failure drops", handlerErr: fmt.Errorf("handle: %w", Permanent(errors.New("bad json"))), wantNack: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConsumer(nil, logger.NewWithWriter("messaging-test", io.Discard), QueueOrderNotifications, "test", 1)
			ack := &recordingAck{}

			var gotRequestID string
			c.processMessage(context.Background(), amqp091.Delivery{
				Acknowledger: ack,
				Headers:      amqp091.Table{headerRequestID: "req-123"},
				Body:         []byte(`{}`),
			}, func(ctx context.Context, body []byte) error {
				gotRequestID = logger.RequestIDFromContext(ctx)
				return tt.handlerErr
			})

			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack {
				t.Fatalf("acked=%d nacked=%d, want %d/%d", ack.acked, ack.nacked, tt.wantAck, tt.wantNack)
			}
			if ack.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
			if gotRequestID != "req-123" {
				t.Errorf("request id = %q, want req-123", gotRequestID)
			}
		})
	}
}

func TestRequestIDFromHeaders_Generated(t *testing.T) {
	if id := requestIDFromHeaders(nil); id == "" {
		t.Error("expected a generated request id")
	}
}

func TestNewPublishing(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"order_id": "ORD_1"})

	p := newPublishing(body, "ORD_1", "req-9")
	if p.DeliveryMode != amqp091.Persistent {
		t.Errorf("DeliveryMode = %d, want persistent", p.DeliveryMode)
	}
	if p.ContentType != "application/json" || p.MessageId != "ORD_1" {
		t.Errorf("publishing = %+v", p)
	}
	if p.Headers[headerRequestID] != "req-9" {
		t.Errorf("headers = %v", p.Headers)
	}

	if p := newPublishing(body, "ORD_1", ""); p.Headers != nil {
		t.Errorf("headers without request id = %v", p.Headers)
	}
}
