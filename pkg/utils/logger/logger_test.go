package logger

import (
	"context"
	"testing"

	"weldon/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := SetGlobal(FromZap(zap.New(core)))
	defer SetGlobal(prev)

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.Command, "submitSolution")
	Info(ctx, "dispatched", zap.Int("status", 1))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" {
		t.Fatalf("trace_id mismatch: %v", fields["trace_id"])
	}
	if fields["command"] != "submitSolution" {
		t.Fatalf("command mismatch: %v", fields["command"])
	}
	if _, ok := fields["role"]; ok {
		t.Fatalf("role should not be set")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNilGlobalIsSilent(t *testing.T) {
	prev := SetGlobal(nil)
	defer SetGlobal(prev)
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}
