package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := New(level, "text")
		if logger == nil {
			t.Fatalf("New(%q) returned nil", level)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	logger := New("info", "json")
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("empty context should have no request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
}

func TestFromContext_Fallback(t *testing.T) {
	if got := FromContext(context.Background()); got != slog.Default() {
		t.Error("expected default logger for bare context")
	}

	logger := New("info", "text")
	ctx := WithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Error("expected context logger")
	}
}

func TestL_AddsRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if L(ctx) == nil {
		t.Fatal("L returned nil")
	}
}
