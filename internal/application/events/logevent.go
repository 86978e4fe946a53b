package events

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// toLogEvent flattens a record into "msg k=v k=v".
func toLogEvent(r slog.Record, base []slog.Attr, group string) domain.LogEvent {
	var sb strings.Builder
	sb.WriteString(r.Message)
	write := func(a slog.Attr) {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Resolve().Any())
	}
	for _, a := range base {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if group != "" {
			a.Key = group + "." + a.Key
		}
		write(a)
		return true
	})
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.LogEvent{
		Level:     strings.ToLower(r.Level.String()),
		Message:   sb.String(),
		Timestamp: ts,
	}
}
