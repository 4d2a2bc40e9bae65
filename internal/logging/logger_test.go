package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_UsesJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "debug", Writer: &buf, Component: "engine"})
	lg.Debug("boot", "k", "v")

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("expected DEBUG level, got %s", out)
	}
	if !strings.Contains(out, `"component":"engine"`) {
		t.Fatalf("expected component field, got %s", out)
	}
}

func TestNewLogger_TextFormatAndDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Writer: &buf, Format: "TEXT"})
	lg.Debug("hidden")
	lg.Info("shown", "op", "claim_task")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug to be filtered at default level, got %s", out)
	}
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "op=claim_task") {
		t.Fatalf("expected text handler output, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) should return a logger")
	}
}
