package audit

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("got %q, want %q", got, "req-123")
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("got %q from empty context, want empty", got)
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("got %q, want blank ids dropped", got)
	}
}

func TestLogEvent(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if err := LogEvent(ctx, "auth.login", map[string]any{"user_id": "u1"}); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := LogEvent(ctx, "auth.logout", nil); err != nil {
		t.Fatalf("log event without fields: %v", err)
	}
	if err := LogEvent(ctx, "  ", nil); err == nil {
		t.Fatal("expected error for a blank event name")
	}
}
