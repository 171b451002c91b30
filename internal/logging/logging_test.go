package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for input, want := range tests {
		got, err := ParseLevel(input)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v (%v)", input, want, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.LevelInfo, true)

	logger.Debug("hidden")
	logger.Info("rows deleted", "rows", 3, "transaction", "")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug message should be filtered: %q", out)
	}
	if !strings.Contains(out, "rows deleted") || !strings.Contains(out, "rows=3") {
		t.Errorf("Expected the message and its attribute, got %q", out)
	}
	if strings.Contains(out, "transaction") {
		t.Errorf("Empty attributes should be dropped: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("Expected no colour codes, got %q", out)
	}
}
