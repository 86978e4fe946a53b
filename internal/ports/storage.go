package ports

import (
	"context"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Journal persiste el historial de trades, liquidaciones y sesiones.
type Journal interface {
	EventSink

	// RecentTrades devuelve los últimos intentos de copia, más nuevos primero.
	RecentTrades(ctx context.Context, limit int) ([]domain.TradeEvent, error)

	// SkipReasonCounts agrega los SKIP registrados por reason.
	SkipReasonCounts(ctx context.Context) (map[domain.SkipReason]int, error)

	// LastSession devuelve el último resumen de sesión, ok=false si no hay ninguno.
	LastSession(ctx context.Context) (domain.SessionSummary, bool, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
