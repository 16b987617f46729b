package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("node joined", Session("lab-a"), NodeUID("uid-1"), Int("nodes", 3))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not valid JSON: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", entry["level"])
	}
	if entry["msg"] != "node joined" {
		t.Errorf("Expected msg 'node joined', got %v", entry["msg"])
	}
	fields := entry["fields"].(map[string]any)
	if fields["session"] != "lab-a" {
		t.Errorf("Expected session field, got %v", fields["session"])
	}
	if fields["nodes"] != float64(3) {
		t.Errorf("Expected nodes field 3, got %v", fields["nodes"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")

	lines := strings.Count(buf.String(), "\n")
	if lines != 2 {
		t.Errorf("Expected 2 log lines, got %d", lines)
	}
}

func TestWithPresetsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)
	child := logger.With(Session("lab-a"), String("component", "controller"))

	child.Info("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not valid JSON: %v", err)
	}
	fields := entry["fields"].(map[string]any)
	if fields["component"] != "controller" {
		t.Errorf("Expected preset component field, got %v", fields["component"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
