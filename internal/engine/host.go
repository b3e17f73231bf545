package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/state"
)

// storeTimeout bounds the store delete made when a serialized cell is removed.
const storeTimeout = 5 * time.Second

// host is the Engine as seen by one plugin.
type host struct {
	e      *Engine
	name   string
	logger plugin.Logger
}

var _ plugin.Host = (*host)(nil)

func (h *host) GetState(key string) (any, bool) {
	return h.e.graph.Get(h.name, key)
}

func (h *host) SetState(key string, value any) error {
	_, err := h.e.graph.Set(h.name, key, value)
	return err
}

func (h *host) DefineState(spec state.Spec) error {
	return h.e.graph.Define(h.name, spec)
}

// RemoveState deletes a cell and, for serialized cells, its stored value.
func (h *host) RemoveState(key string) error {
	spec, _ := h.e.graph.Spec(h.name, key)
	if !h.e.graph.Remove(h.name, key) {
		return fmt.Errorf("%w: %s.%s", state.ErrUnknownCell, h.name, key)
	}
	if spec.Serialized && h.e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := h.e.store.Delete(ctx, h.name, key); err != nil {
			h.logger.Warn("deleting stored state value failed", "key", key, "error", err)
		}
	}
	return nil
}

// Trigger validates values against the trigger's context schema and
// dispatches. Problems are logged; the plugin only learns whether anything
// started.
func (h *host) Trigger(ctx context.Context, trigger string, values map[string]any, extra ...any) bool {
	if err := h.e.plugins.ValidateTriggerContext(h.name, trigger, values); err != nil {
		if errors.Is(err, plugin.ErrUnknownTrigger) {
			h.logger.Error("raising undeclared trigger", "trigger", trigger)
		} else {
			h.logger.Warn("trigger context rejected", "trigger", trigger, "error", err)
		}
		return false
	}
	return h.e.dispatcher.Trigger(ctx, h.name, trigger, values, extra...)
}

func (h *host) RedoDependencies() {
	h.e.profiles.RedoDependencies()
}

func (h *host) Logger() plugin.Logger {
	return h.logger
}

// taggedLogger prepends fixed attributes to every entry.
type taggedLogger struct {
	base Logger
	args []any
}

func (l taggedLogger) with(args []any) []any {
	out := make([]any, 0, len(l.args)+len(args))
	out = append(out, l.args...)
	return append(out, args...)
}

func (l taggedLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.with(args)...) }
func (l taggedLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.with(args)...) }
func (l taggedLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.with(args)...) }
func (l taggedLogger) Error(msg string, args ...any) { l.base.Error(msg, l.with(args)...) }
