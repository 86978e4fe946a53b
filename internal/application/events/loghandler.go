package events

import (
	"context"
	"log/slog"
)

// LogHandler is a slog.Handler that forwards every record to next and
// mirrors records at or above min as log events on the bus.
type LogHandler struct {
	next  slog.Handler
	bus   *Bus
	min   slog.Level
	attrs []slog.Attr
	group string
}

// NewLogHandler wraps next.
func NewLogHandler(next slog.Handler, bus *Bus, min slog.Level) *LogHandler {
	return &LogHandler{next: next, bus: bus, min: min}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level >= h.min {
		h.bus.Publish(toLogEvent(r, h.attrs, h.group))
	}
	return err
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr{}, h.attrs...), qualify(h.group, attrs)...)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

func qualify(group string, attrs []slog.Attr) []slog.Attr {
	if group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: group + "." + a.Key, Value: a.Value}
	}
	return out
}
