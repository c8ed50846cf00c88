package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewProduction(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", true)

	l.Debug("hidden")
	l.With("component", "gateway").Info("client connected", "id", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("production output is not JSON: %v", err)
	}
	if entry["msg"] != "client connected" || entry["component"] != "gateway" || entry["id"] != "abc" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewDevelopment(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", false)
	l.Debug("frame", "bpm", 110)

	out := buf.String()
	if !strings.Contains(out, "msg=frame") || !strings.Contains(out, "bpm=110") {
		t.Errorf("unexpected text output %q", out)
	}
}
