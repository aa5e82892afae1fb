package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestLoggerWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("order-service", &buf)

	log.Error("payment_confirm_failed", "Confirm failed", "req-1", errors.New("boom"), map[string]interface{}{
		"order_id": "ORD-1",
	})

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}

	if record["service"] != "order-service" {
		t.Errorf("service = %v", record["service"])
	}
	if record["action"] != "payment_confirm_failed" {
		t.Errorf("action = %v", record["action"])
	}
	if record["request_id"] != "req-1" {
		t.Errorf("request_id = %v", record["request_id"])
	}
	errGroup, ok := record["error"].(map[string]interface{})
	if !ok || errGroup["msg"] != "boom" {
		t.Errorf("error group = %v", record["error"])
	}
	details, ok := record["details"].(map[string]interface{})
	if !ok || details["order_id"] != "ORD-1" {
		t.Errorf("details = %v", record["details"])
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Errorf("RequestIDFromContext = %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
	if GenerateRequestID() == GenerateRequestID() {
		t.Errorf("request ids must be unique")
	}
}
