package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Console implementa ports.EventSink escribiendo a la terminal.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool // sólo resúmenes de sesión
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(quiet bool) *Console {
	return &Console{out: os.Stdout, quiet: quiet}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, quiet bool) *Console {
	return &Console{out: w, quiet: quiet}
}

// Handle imprime trades, liquidaciones y el resumen al parar.
func (c *Console) Handle(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case domain.SessionCompleteEvent:
		c.printSummary(e.Summary)
	case domain.TradeEvent:
		if !c.quiet {
			c.printTrade(e)
		}
	case domain.PositionResolvedEvent:
		if !c.quiet {
			fmt.Fprintf(c.out, "[%s] SETTLED %s %s → %s  qty %.2f payout $%.2f pnl %+.2f\n",
				clock(e.Timestamp), domain.TruncateTitle(e.Title, e.MarketID, 40),
				e.Outcome, e.WinningOutcome, e.Quantity, e.Payout, e.RealizedPnL)
		}
	case domain.StateEvent:
		if !c.quiet {
			line := fmt.Sprintf("[%s] bot %s", clock(time.Time{}), e.State)
			if e.Cause != "" {
				line += " (" + e.Cause + ")"
			}
			fmt.Fprintln(c.out, line)
		}
	}
	return nil
}

// printTrade imprime lo esencial en una línea.
func (c *Console) printTrade(e domain.TradeEvent) {
	title := domain.TruncateTitle(e.Title, e.MarketID, 40)
	if e.Copied() {
		fmt.Fprintf(c.out, "[%s] COPY %-4s %8.2f @ %.3f  %s (%s) [%s/%s]\n",
			clock(e.Timestamp), e.Side, e.FillQuantity, e.FillPrice, title, e.Outcome, e.Mode, e.Source)
		return
	}
	fmt.Fprintf(c.out, "[%s] SKIP %-4s %8.2f @ %.3f  %s (%s) %s\n",
		clock(e.Timestamp), e.Side, e.TargetSize, e.TargetPrice, title, e.Outcome, e.Reason)
}

// printSummary imprime el resumen de la sesión en tablas.
func (c *Console) printSummary(s domain.SessionSummary) {
	fmt.Fprintf(c.out, "\n=== SESSION %s (%s) ===\n", s.SessionID, s.Mode)

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Field", "Value")
	pf := s.Portfolio
	rows := [][]string{
		{"Target wallet", s.TargetWallet},
		{"Started", s.StartedAt.Format(time.RFC3339)},
		{"Ended", s.EndedAt.Format(time.RFC3339)},
		{"Runtime", s.Runtime},
		{"Stop cause", s.StopCause},
		{"Polls (errors)", fmt.Sprintf("%d (%d)", s.Stats.PollCount, s.Stats.PollErrors)},
		{"Trades detected", fmt.Sprintf("%d", s.Stats.TradesDetected)},
		{"Copied / skipped", fmt.Sprintf("%d / %d", s.Stats.TradesCopied, s.Stats.TradesSkipped)},
		{"Resolution entries", fmt.Sprintf("%d", s.Stats.ResolutionEntries)},
		{"Settlements", fmt.Sprintf("%d", s.Stats.Settlements)},
		{"Cash", fmt.Sprintf("$%.2f", pf.Cash)},
		{"Equity", fmt.Sprintf("$%.2f", pf.Equity)},
		{"Realized PnL", fmt.Sprintf("%+.2f", pf.RealizedPnL)},
		{"Unrealized PnL", fmt.Sprintf("%+.2f", pf.UnrealizedPnL)},
	}
	for _, r := range rows {
		tbl.Append(r[0], r[1])
	}
	tbl.Render()

	if len(s.Stats.SkipReasons) > 0 {
		reasons := make([]domain.SkipReason, 0, len(s.Stats.SkipReasons))
		for r := range s.Stats.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool {
			ni, nj := s.Stats.SkipReasons[reasons[i]], s.Stats.SkipReasons[reasons[j]]
			if ni != nj {
				return ni > nj
			}
			return reasons[i] < reasons[j]
		})

		fmt.Fprintln(c.out, "\nSkip reasons")
		rt := tablewriter.NewWriter(c.out)
		rt.Header("Reason", "Count")
		for _, r := range reasons {
			rt.Append(string(r), fmt.Sprintf("%d", s.Stats.SkipReasons[r]))
		}
		rt.Render()
	}

	if len(pf.Positions) > 0 {
		fmt.Fprintln(c.out, "\nOpen positions")
		pt := tablewriter.NewWriter(c.out)
		pt.Header("Market", "Outcome", "Qty", "Avg", "Mark", "Value", "uPnL")
		for _, p := range pf.Positions {
			pt.Append(
				domain.TruncateTitle(p.Title, p.Key.MarketID, 40),
				p.Key.Outcome,
				fmt.Sprintf("%.2f", p.Quantity),
				fmt.Sprintf("%.3f", p.AvgPrice),
				fmt.Sprintf("%.3f", p.MarkPrice),
				fmt.Sprintf("$%.2f", p.MarketValue),
				fmt.Sprintf("%+.2f", p.UnrealizedPnL),
			)
		}
		pt.Render()
	}
	fmt.Fprintln(c.out)
}

func clock(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Local().Format("15:04:05")
}
