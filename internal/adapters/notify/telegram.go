package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

// MessageSender es el subconjunto de *bot.Bot que usa Telegram.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram implementa ports.EventSink enviando copias, liquidaciones,
// paradas y resúmenes de sesión a un chat. Los SKIP no se envían.
type Telegram struct {
	sender MessageSender
	chatID int64
}

// NewTelegram crea el sink con un bot real. No valida el token contra la API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	return NewTelegramWithSender(b, chatID), nil
}

// NewTelegramWithSender crea el sink sobre un sender arbitrario.
func NewTelegramWithSender(sender MessageSender, chatID int64) *Telegram {
	return &Telegram{sender: sender, chatID: chatID}
}

// Handle formatea el evento y lo envía. Los eventos sin mensaje se ignoran.
func (t *Telegram) Handle(ctx context.Context, ev domain.Event) error {
	text := formatTelegram(ev)
	if text == "" {
		return nil
	}
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		slog.Debug("telegram send failed", "type", ev.Type(), "err", err)
		return fmt.Errorf("notify.Telegram: %w", err)
	}
	return nil
}

func formatTelegram(ev domain.Event) string {
	esc := html.EscapeString
	switch e := ev.(type) {
	case domain.TradeEvent:
		if !e.Copied() {
			return ""
		}
		return fmt.Sprintf("<b>COPY %s</b> %.2f @ %.3f\n%s (%s)\n<i>%s · %s</i>",
			e.Side, e.FillQuantity, e.FillPrice,
			esc(domain.TruncateTitle(e.Title, e.MarketID, 80)), esc(e.Outcome), e.Mode, e.Source)
	case domain.PositionResolvedEvent:
		return fmt.Sprintf("<b>SETTLED</b> %s\n%s → %s · payout $%.2f · PnL %+.2f",
			esc(domain.TruncateTitle(e.Title, e.MarketID, 80)),
			esc(e.Outcome), esc(e.WinningOutcome), e.Payout, e.RealizedPnL)
	case domain.StateEvent:
		if e.State != domain.StateStopped || e.Cause == "" {
			return ""
		}
		return fmt.Sprintf("<b>Bot stopped</b>: %s", esc(e.Cause))
	case domain.SessionCompleteEvent:
		s := e.Summary
		var sb strings.Builder
		fmt.Fprintf(&sb, "<b>Session %s</b> (%s, %s)\n", esc(s.SessionID), s.Mode, esc(s.Runtime))
		fmt.Fprintf(&sb, "detected %d · copied %d · skipped %d\n",
			s.Stats.TradesDetected, s.Stats.TradesCopied, s.Stats.TradesSkipped)
		fmt.Fprintf(&sb, "equity $%.2f · realized %+.2f · unrealized %+.2f",
			s.Portfolio.Equity, s.Portfolio.RealizedPnL, s.Portfolio.UnrealizedPnL)
		return sb.String()
	}
	return ""
}
