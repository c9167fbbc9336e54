package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by a per-component minimum level.
// The component is read from the "component" attribute, either attached via
// Logger.With or passed on the record. Records without one use the default
// level. Levels can change at runtime; all handlers derived through
// WithAttrs/WithGroup share them.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *componentLevels
	component string
}

type componentLevels struct {
	mu     sync.RWMutex
	def    slog.Level
	levels map[string]slog.Level
}

// NewComponentFilterHandler wraps next. A nil next discards every record.
func NewComponentFilterHandler(next slog.Handler, def slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next:   next,
		levels: &componentLevels{def: def, levels: make(map[string]slog.Level)},
	}
}

// SetLevel sets the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.levels[component] = level
	h.levels.mu.Unlock()
}

// ClearLevel restores the default level for one component.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	delete(h.levels.levels, component)
	h.levels.mu.Unlock()
}

// Level returns the effective minimum level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	if l, ok := h.levels.levels[component]; ok {
		return l
	}
	return h.levels.def
}

// DefaultLevel returns the level used for components without their own.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.levels.def
}

// Enabled reports whether any record at level could pass. When the
// component is not known yet, the lowest configured level decides.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.Level(h.component)
	}
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	lowest := h.levels.def
	for _, l := range h.levels.levels {
		lowest = min(lowest, l)
	}
	return level >= lowest
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) || h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == "component" {
			clone.component = a.Value.String()
		}
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
