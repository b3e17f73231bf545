package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

func TestNew_Outputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "discard", "", "STDERR"} {
		t.Run(output, func(t *testing.T) {
			l := New(config.LoggingConfig{Level: "error", Format: "json", Output: output}, "1.0.0")
			if l == nil || l.Logger == nil {
				t.Fatal("New() returned no logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test").
		Info("profile activated", "profile", "evening")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	want := map[string]any{
		"service": "cuebox",
		"version": "test",
		"msg":     "profile activated",
		"profile": "evening",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "test")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn entry missing")
	}
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "text"}, "test")

	child := l.With("run", "r1")
	if child == l {
		t.Fatal("With() returned the parent")
	}
	child.Info("one")
	l.Component("queue").Info("two")
	l.Plugin("clock").Info("three")

	for _, want := range []string{"run=r1", "component=queue", "component=plugin", "plugin=clock"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}
