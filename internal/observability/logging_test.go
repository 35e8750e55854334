package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	logger.Info("configured provider", "detail", "api_key=sk-abcdefghijklmnopqrstuvwx12345678901234567890abcdefgh done")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Fatalf("api key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker, got: %s", out)
	}
}

func TestNewLoggerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("auth", "password", "hunter2-is-long", "user", "alice")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked into log output: %s", out)
	}
	if !strings.Contains(out, "alice") {
		t.Fatalf("non-sensitive value dropped: %s", out)
	}
}

func TestNewLoggerRedactsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	err := errors.New("request failed: bearer eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl")
	logger.Error("llm call", "error", err)

	out := buf.String()
	if strings.Contains(out, "eyJhbGciOi.eyJzdWIiOi") {
		t.Fatalf("jwt leaked into log output: %s", out)
	}
}

func TestNewLoggerCustomPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:          "info",
		Format:         "text",
		Output:         &buf,
		RedactPatterns: []string{`internal-\d{6}`},
	})

	logger.Info("looked up record internal-123456")

	if strings.Contains(buf.String(), "internal-123456") {
		t.Fatalf("custom pattern not applied: %s", buf.String())
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Errorf("info record passed warn-level filter")
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn record missing")
	}
}

func TestContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := WithTurnID(context.Background(), "turn-abc")
	ctx = WithSessionID(ctx, 42)
	logger.InfoContext(ctx, "processing")

	out := buf.String()
	if !strings.Contains(out, "turn-abc") {
		t.Errorf("turn_id missing from record: %s", out)
	}
	if !strings.Contains(out, `"session_id":42`) {
		t.Errorf("session_id missing from record: %s", out)
	}
}

func TestWithAttrsRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	scoped := logger.With("token", "super-secret-value-123456")
	scoped.Info("scoped log")

	if strings.Contains(buf.String(), "super-secret-value") {
		t.Fatalf("pre-bound sensitive attr leaked: %s", buf.String())
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSessionIDFromMissing(t *testing.T) {
	if _, ok := SessionIDFrom(context.Background()); ok {
		t.Errorf("expected no session id on empty context")
	}
}
