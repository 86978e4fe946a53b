package oracle

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	defaultBinanceBase = "https://api.binance.com"
	klinesPath         = "/api/v3/klines"

	// Binance allows 6000 weight/min and klines weighs 2.
	binanceRatePerSec = 10

	strongConfidence = 0.99
	weakConfidence   = 0.70
	fallbackCap      = 0.85
)

var cryptoRe = regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|solana|sol|xrp)\b`)

var symbols = map[string]string{
	"bitcoin":  "BTCUSDT",
	"btc":      "BTCUSDT",
	"ethereum": "ETHUSDT",
	"eth":      "ETHUSDT",
	"solana":   "SOLUSDT",
	"sol":      "SOLUSDT",
	"xrp":      "XRPUSDT",
}

// PriceFeed resolves crypto "Up or Down" markets by comparing the Binance
// 1m candle open at window start with the close at window end.
type PriceFeed struct {
	http    *httpclient.Client
	base    string
	limiter *rate.Limiter
	loc     *time.Location
	minMove float64
	now     func() time.Time
}

// NewPriceFeed builds the source. minMove is the relative move below which
// the result is reported with low confidence, since the settlement feed may
// differ from Binance by a few ticks.
func NewPriceFeed(base string, minMove float64, opts ...httpclient.Option) (*PriceFeed, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("oracle.NewPriceFeed: %w", err)
	}
	if base == "" {
		base = defaultBinanceBase
	}
	return &PriceFeed{
		http:    httpclient.New(opts...),
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(binanceRatePerSec, 5),
		loc:     loc,
		minMove: minMove,
		now:     time.Now,
	}, nil
}

func (p *PriceFeed) ID() string { return SourcePriceFeed }

func (p *PriceFeed) CanHandle(m domain.Market) bool {
	title := strings.ToLower(m.Title)
	return strings.Contains(title, "up or down") && cryptoRe.MatchString(title)
}

func (p *PriceFeed) CheckResolution(ctx context.Context, m domain.Market) (domain.OracleResult, error) {
	now := p.now()
	year := now.In(p.loc).Year()
	if !m.EndDate.IsZero() {
		year = m.EndDate.In(p.loc).Year()
	}

	start, end, ok := ParseWindow(m.Title, year, p.loc)
	if !ok {
		return p.fallback(m, now), nil
	}
	if now.Before(end) {
		return domain.UnknownResult(p.ID(), m.ID, "window closes "+end.Format(time.RFC3339)), nil
	}

	symbol := symbols[strings.ToLower(cryptoRe.FindString(m.Title))]
	open, closePrice, err := p.window(ctx, symbol, start, end)
	if err != nil {
		return domain.OracleResult{}, err
	}
	if open <= 0 {
		return domain.UnknownResult(p.ID(), m.ID, "no candles for window"), nil
	}

	direction := "Up"
	if closePrice < open {
		direction = "Down"
	}
	winner, ok := matchOutcome(m, direction)
	if !ok {
		return domain.UnknownResult(p.ID(), m.ID, "no outcome named "+direction), nil
	}

	move := math.Abs(closePrice-open) / open
	conf := strongConfidence
	if move < p.minMove {
		conf = weakConfidence
	}
	return domain.OracleResult{
		SourceID:       p.ID(),
		MarketID:       m.ID,
		State:          domain.EffectivelyResolved,
		WinningOutcome: winner,
		Confidence:     conf,
		Justification: fmt.Sprintf("%s open %.4f close %.4f (%+.3f%%)",
			symbol, open, closePrice, (closePrice-open)/open*100),
	}, nil
}

// fallback uses the price leader when the title has no parseable window.
// Confidence is capped so it never authorizes an entry on its own.
func (p *PriceFeed) fallback(m domain.Market, now time.Time) domain.OracleResult {
	leader, ok := m.Leader()
	if !ok || !m.PastEnd(now) {
		return domain.UnknownResult(p.ID(), m.ID, "no window in title")
	}
	return domain.OracleResult{
		SourceID:       p.ID(),
		MarketID:       m.ID,
		State:          domain.Likely,
		WinningOutcome: leader.Name,
		Confidence:     math.Min(leader.Mark(), fallbackCap),
		Justification:  fmt.Sprintf("no window in title, %s leads at %.3f", leader.Name, leader.Mark()),
	}
}

// window returns the open of the first 1m candle and the close of the last
// one inside [start, end). open=0 when the window is not fully covered.
func (p *PriceFeed) window(ctx context.Context, symbol string, start, end time.Time) (float64, float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "1m")
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", "1000")

	var rows [][]any
	if err := p.http.GetJSON(ctx, p.limiter, p.base+klinesPath+"?"+q.Encode(), &rows); err != nil {
		return 0, 0, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	first, last := rows[0], rows[len(rows)-1]
	if len(first) < 7 || len(last) < 7 {
		return 0, 0, fmt.Errorf("binance klines %s: short row: %w", symbol, domain.ErrMalformed)
	}
	closeTime, _ := last[6].(float64)
	if int64(closeTime) < end.UnixMilli()-1 {
		return 0, 0, nil
	}
	open, err1 := strconv.ParseFloat(fmt.Sprint(first[1]), 64)
	closePrice, err2 := strconv.ParseFloat(fmt.Sprint(last[4]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("binance klines %s: prices: %w", symbol, domain.ErrMalformed)
	}
	return open, closePrice, nil
}
