package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/cuebox/internal/infrastructure/config"
)

// Logger is the cuebox logger. Packages declare their own small Logger
// interfaces (Debug, Info, Warn, Error) and *Logger satisfies each of them.
type Logger struct {
	*slog.Logger
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New builds the logger described by the logging section of config.yaml.
// Output is stdout, stderr or discard; anything else means stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		w = os.Stderr
	case "discard":
		w = io.Discard
	}
	return NewWithWriter(w, cfg, version)
}

// NewWithWriter is New with an explicit destination. Every entry carries
// the service name and version.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{slog.New(h).With("service", "cuebox", "version", version)}
}

// parseLevel maps a level name to slog, case-insensitively. Unknown names
// mean info.
func parseLevel(name string) slog.Level {
	if l, ok := levels[strings.ToLower(name)]; ok {
		return l
	}
	return slog.LevelInfo
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component tags entries with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Plugin tags entries with component=plugin and the plugin name.
func (l *Logger) Plugin(name string) *Logger {
	return l.With("component", "plugin", "plugin", name)
}
