package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("agent ready", "agent", "alice")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (got %q)", err, buf.String())
	}
	if record["msg"] != "agent ready" {
		t.Errorf("msg = %v, want %q", record["msg"], "agent ready")
	}
	if record["agent"] != "alice" {
		t.Errorf("agent = %v, want alice", record["agent"])
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "should appear") {
		t.Errorf("surviving line = %q, want the warn record", lines[0])
	}
}

func TestNewLogger_RedactsSecrets(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		attrs []any
		leak  string
	}{
		{
			name: "anthropic key in message",
			msg:  "using key sk-ant-" + strings.Repeat("a", 95),
			leak: "sk-ant-" + strings.Repeat("a", 95),
		},
		{
			name:  "nsec in attr",
			msg:   "loaded signer",
			attrs: []any{"key", "nsec1" + strings.Repeat("q", 58)},
			leak:  "nsec1" + strings.Repeat("q", 58),
		},
		{
			name: "api key assignment",
			msg:  "config api_key=abcdefghijklmnop1234",
			leak: "abcdefghijklmnop1234",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Format: "json", Output: &buf})

			logger.Info(tt.msg, tt.attrs...)

			out := buf.String()
			if strings.Contains(out, tt.leak) {
				t.Errorf("secret leaked into log output: %q", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("expected [REDACTED] marker in output: %q", out)
			}
		})
	}
}

func TestNewLogger_RedactsWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	child := logger.With("token", "eyJhbGciOi.eyJzdWIiOi.signature")
	_ = child

	derived := logger.With("signer", "nsec1"+strings.Repeat("q", 58))
	derived.Info("derived logger")

	out := buf.String()
	if strings.Contains(out, "nsec1q") {
		t.Errorf("secret leaked through WithAttrs: %q", out)
	}
}

func TestNewLogger_Defaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Debug("hidden at default level")
	if buf.Len() != 0 {
		t.Errorf("debug record emitted at default info level: %q", buf.String())
	}

	logger.Info("visible")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Errorf("default format is not JSON: %v", err)
	}
}

func TestRedactHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "error", Format: "json", Output: &buf})

	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at error level")
	}
}
