package storage

// sqlite.go: journal de trades, liquidaciones y sesiones.
//
// Estrategia:
//   - `trades`: una fila por intento de copia o entrada (COPY o SKIP).
//   - `settlements`: una fila por posición liquidada.
//   - `sessions`: el resumen final de cada sesión, como JSON.
//   - Prune automático al arrancar: trades y liquidaciones > 30d.
//
// El journal es un EventSink más del bus: no bloquea al runtime y nunca es
// la fuente de verdad del portfolio.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id      TEXT,
    market_id     TEXT     NOT NULL,
    title         TEXT,
    outcome       TEXT,
    side          TEXT     NOT NULL,
    target_price  REAL     NOT NULL DEFAULT 0,
    target_size   REAL     NOT NULL DEFAULT 0,
    verdict       TEXT     NOT NULL,
    reason        TEXT,
    detail        TEXT,
    fill_price    REAL     NOT NULL DEFAULT 0,
    fill_quantity REAL     NOT NULL DEFAULT 0,
    mode          TEXT     NOT NULL,
    source        TEXT     NOT NULL,
    at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settlements (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id       TEXT     NOT NULL,
    title           TEXT,
    outcome         TEXT     NOT NULL,
    winning_outcome TEXT     NOT NULL,
    quantity        REAL     NOT NULL,
    payout          REAL     NOT NULL,
    realized_pnl    REAL     NOT NULL,
    at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    ended_at   DATETIME NOT NULL,
    summary    TEXT     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_at      ON trades(at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_verdict ON trades(verdict, reason);
CREATE INDEX IF NOT EXISTS idx_sessions_end   ON sessions(ended_at DESC);
`

const retention = 30 * 24 * time.Hour

// SQLiteJournal implementa ports.Journal usando SQLite (pure Go, sin CGo).
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db, now: time.Now}
	j.pruneOld(context.Background())
	return j, nil
}

// Handle persiste los eventos que forman parte del historial. El resto se ignora.
func (j *SQLiteJournal) Handle(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.TradeEvent:
		return j.saveTrade(ctx, e)
	case domain.PositionResolvedEvent:
		return j.saveSettlement(ctx, e)
	case domain.SessionCompleteEvent:
		return j.saveSession(ctx, e.Summary)
	}
	return nil
}

func (j *SQLiteJournal) saveTrade(ctx context.Context, e domain.TradeEvent) error {
	at := e.Timestamp
	if at.IsZero() {
		at = j.now()
	}
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO trades
			(trade_id, market_id, title, outcome, side, target_price, target_size,
			 verdict, reason, detail, fill_price, fill_quantity, mode, source, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TradeID, e.MarketID, e.Title, e.Outcome, string(e.Side), e.TargetPrice, e.TargetSize,
		string(e.Verdict), string(e.Reason), e.Detail, e.FillPrice, e.FillQuantity,
		string(e.Mode), string(e.Source), at.UTC(),
	); err != nil {
		return fmt.Errorf("storage.saveTrade: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) saveSettlement(ctx context.Context, e domain.PositionResolvedEvent) error {
	at := e.Timestamp
	if at.IsZero() {
		at = j.now()
	}
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO settlements
			(market_id, title, outcome, winning_outcome, quantity, payout, realized_pnl, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.MarketID, e.Title, e.Outcome, e.WinningOutcome, e.Quantity, e.Payout, e.RealizedPnL, at.UTC(),
	); err != nil {
		return fmt.Errorf("storage.saveSettlement: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) saveSession(ctx context.Context, s domain.SessionSummary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("storage.saveSession: marshal: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at, ended_at, summary)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			summary  = excluded.summary`,
		s.SessionID, s.StartedAt.UTC(), s.EndedAt.UTC(), string(raw),
	); err != nil {
		return fmt.Errorf("storage.saveSession: %w", err)
	}
	return nil
}

// RecentTrades devuelve los últimos intentos, más nuevos primero.
func (j *SQLiteJournal) RecentTrades(ctx context.Context, limit int) ([]domain.TradeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT trade_id, market_id, title, outcome, side, target_price, target_size,
		       verdict, reason, detail, fill_price, fill_quantity, mode, source, at
		FROM trades
		ORDER BY at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		var tradeID, title, outcome, reason, detail sql.NullString
		var side, verdict, mode, source string
		if err := rows.Scan(
			&tradeID, &e.MarketID, &title, &outcome, &side, &e.TargetPrice, &e.TargetSize,
			&verdict, &reason, &detail, &e.FillPrice, &e.FillQuantity, &mode, &source, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentTrades: scan row: %w", err)
		}
		e.TradeID = tradeID.String
		e.Title = title.String
		e.Outcome = outcome.String
		e.Side = domain.Side(side)
		e.Verdict = domain.CopyVerdict(verdict)
		e.Reason = domain.SkipReason(reason.String)
		e.Detail = detail.String
		e.Mode = domain.ExecutionMode(mode)
		e.Source = domain.OrderSource(source)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SkipReasonCounts agrega los SKIP por reason.
func (j *SQLiteJournal) SkipReasonCounts(ctx context.Context) (map[domain.SkipReason]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT reason, COUNT(*) FROM trades
		WHERE verdict = ? AND reason IS NOT NULL AND reason != ''
		GROUP BY reason`, string(domain.VerdictSkip))
	if err != nil {
		return nil, fmt.Errorf("storage.SkipReasonCounts: query: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.SkipReason]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("storage.SkipReasonCounts: scan row: %w", err)
		}
		out[domain.SkipReason(reason)] = n
	}
	return out, rows.Err()
}

// LastSession devuelve el último resumen guardado.
func (j *SQLiteJournal) LastSession(ctx context.Context) (domain.SessionSummary, bool, error) {
	var raw string
	err := j.db.QueryRowContext(ctx,
		`SELECT summary FROM sessions ORDER BY ended_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionSummary{}, false, nil
	}
	if err != nil {
		return domain.SessionSummary{}, false, fmt.Errorf("storage.LastSession: %w", err)
	}
	var s domain.SessionSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.SessionSummary{}, false, fmt.Errorf("storage.LastSession: decode: %w", err)
	}
	return s, true, nil
}

// Close cierra la conexión a la base de datos.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (j *SQLiteJournal) pruneOld(ctx context.Context) {
	cutoff := j.now().UTC().Add(-retention)
	j.db.ExecContext(ctx, `DELETE FROM trades WHERE at < ?`, cutoff)
	j.db.ExecContext(ctx, `DELETE FROM settlements WHERE at < ?`, cutoff)
}
