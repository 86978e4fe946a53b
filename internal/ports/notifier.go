package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// EventSink consumes events from the runtime: dashboard, console, telegram, journal.
type EventSink interface {
	Handle(ctx context.Context, ev domain.Event) error
}
