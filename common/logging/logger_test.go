package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/flowlake/flowlake/common/middleware"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  slog.Level
		format string
	}{
		{name: "json format with info level", level: slog.LevelInfo, format: "json"},
		{name: "text format with debug level", level: slog.LevelDebug, format: "text"},
		{name: "default format (json) with error level", level: slog.LevelError, format: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil || logger.Logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "text")
	logger.Info("cycle finished", Rows(3))

	output := buf.String()
	if !strings.Contains(output, "msg=\"cycle finished\"") {
		t.Errorf("expected text formatted message, got: %s", output)
	}
	if !strings.Contains(output, "rows=3") {
		t.Errorf("expected rows field, got: %s", output)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	ctx = ContextWithCycleID(ctx, "cycle-abc")

	logger.WithContext(ctx).Info("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if entry["request_id"] != "req-123" {
		t.Errorf("expected request_id field, got: %s", buf.String())
	}
	if entry[FieldCycleID] != "cycle-abc" {
		t.Errorf("expected cycle_id field, got: %s", buf.String())
	}
}

func TestWithContext_Empty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	logger.WithContext(context.Background()).Info("plain")

	if strings.Contains(buf.String(), "request_id") || strings.Contains(buf.String(), FieldCycleID) {
		t.Errorf("expected no contextual fields, got: %s", buf.String())
	}
}

func TestCycleIDFromContext(t *testing.T) {
	if got := CycleIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty cycle id, got %q", got)
	}
	ctx := ContextWithCycleID(context.Background(), "c-1")
	if got := CycleIDFromContext(ctx); got != "c-1" {
		t.Errorf("expected c-1, got %q", got)
	}
}

func TestLevelContextMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelDebug, "json")
	ctx := ContextWithCycleID(context.Background(), "c-2")

	logger.DebugContext(ctx, "debug message")
	logger.InfoContext(ctx, "info message")
	logger.WarnContext(ctx, "warn message")
	logger.ErrorContext(ctx, "error message")

	output := buf.String()
	for _, want := range []string{"DEBUG", "INFO", "WARN", "ERROR", "c-2"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestWithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json")

	logger.WithGroup("cycle").Info("test message", "rows", 42)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if _, ok := entry["cycle"]; !ok {
		t.Errorf("expected 'cycle' group in output, got: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json").With(Service("replicator"))
	logger.Info("hello")

	if !strings.Contains(buf.String(), "\"service\":\"replicator\"") {
		t.Errorf("expected service field, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{" Error ", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetDefault(t *testing.T) {
	originalDefault := slog.Default()
	defer slog.SetDefault(originalDefault)

	logger := New(slog.LevelInfo, "json")
	SetDefault(logger)

	if slog.Default() != logger.Logger {
		t.Error("SetDefault did not update slog.Default()")
	}
}
