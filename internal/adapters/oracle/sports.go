package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	defaultESPNBase = "https://site.api.espn.com/apis/site/v2/sports"
	espnRatePerSec  = 5
	scoreboardTTL   = 20 * time.Second
	finalConfidence = 0.98
)

var (
	// "Lakers vs. Celtics", "Will the Lakers beat the Celtics?"
	teamsRe      = regexp.MustCompile(`(?i)^(?:will\s+)?(?:the\s+)?(.+?)\s+(?:vs\.?|beat|defeat)\s+(?:the\s+)?(.+?)(?:\?|$|\s+in\s+|\s+on\s+)`)
	sportWordsRe = regexp.MustCompile(`(?i)\b(nfl|nba|mlb|nhl|ncaa|football|basketball|baseball|hockey|playoffs|super bowl)\b`)
	sportSlugRe  = regexp.MustCompile(`^(nfl|nba|mlb|nhl|cfb|cbb|ncaaf|ncaab)-`)
)

type espnScoreboard struct {
	Events []espnEvent `json:"events"`
}

type espnEvent struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Competitions []espnCompetition `json:"competitions"`
}

type espnCompetition struct {
	Status struct {
		Type struct {
			Completed bool   `json:"completed"`
			State     string `json:"state"`
		} `json:"type"`
	} `json:"status"`
	Competitors []espnCompetitor `json:"competitors"`
}

type espnCompetitor struct {
	Winner bool   `json:"winner"`
	Score  string `json:"score"`
	Team   struct {
		DisplayName      string `json:"displayName"`
		ShortDisplayName string `json:"shortDisplayName"`
		Name             string `json:"name"`
		Abbreviation     string `json:"abbreviation"`
	} `json:"team"`
}

func (c espnCompetitor) names() []string {
	t := c.Team
	return []string{t.DisplayName, t.ShortDisplayName, t.Name, t.Abbreviation}
}

func (c espnCompetitor) matches(team string) bool {
	team = strings.ToLower(strings.TrimSpace(team))
	if team == "" {
		return false
	}
	for _, n := range c.names() {
		n = strings.ToLower(n)
		if n == "" {
			continue
		}
		if n == team || (len(n) > 3 && strings.Contains(team, n)) || strings.Contains(n, team) {
			return true
		}
	}
	return false
}

type cachedBoard struct {
	events  []espnEvent
	fetched time.Time
}

// Sports resolves game markets from ESPN scoreboards.
type Sports struct {
	http    *httpclient.Client
	base    string
	leagues []string
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedBoard
}

// NewSports builds the source. leagues are ESPN paths such as "basketball/nba".
func NewSports(base string, leagues []string, opts ...httpclient.Option) *Sports {
	if base == "" {
		base = defaultESPNBase
	}
	return &Sports{
		http:    httpclient.New(opts...),
		base:    strings.TrimRight(base, "/"),
		leagues: leagues,
		limiter: rate.NewLimiter(espnRatePerSec, 3),
		now:     time.Now,
		cache:   make(map[string]cachedBoard),
	}
}

func (s *Sports) ID() string { return SourceSports }

func (s *Sports) CanHandle(m domain.Market) bool {
	if _, _, ok := ExtractTeams(m.Title); !ok {
		return false
	}
	return sportWordsRe.MatchString(m.Title) || sportSlugRe.MatchString(m.Slug)
}

// ExtractTeams returns the two sides of a "X vs Y" or "Will X beat Y" title.
func ExtractTeams(title string) (string, string, bool) {
	mm := teamsRe.FindStringSubmatch(strings.TrimSpace(title))
	if mm == nil {
		return "", "", false
	}
	a, b := strings.TrimSpace(mm[1]), strings.TrimSpace(mm[2])
	if a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

func (s *Sports) CheckResolution(ctx context.Context, m domain.Market) (domain.OracleResult, error) {
	teamA, teamB, ok := ExtractTeams(m.Title)
	if !ok {
		return domain.UnknownResult(s.ID(), m.ID, "could not extract teams"), nil
	}

	comp, found, err := s.findGame(ctx, teamA, teamB)
	if err != nil {
		return domain.OracleResult{}, err
	}
	if !found {
		return domain.UnknownResult(s.ID(), m.ID, fmt.Sprintf("game not found: %s vs %s", teamA, teamB)), nil
	}

	st := comp.Status.Type
	if !st.Completed && !strings.EqualFold(st.State, "post") {
		return domain.UnknownResult(s.ID(), m.ID, "game not final"), nil
	}

	winner, ok := gameWinner(comp)
	if !ok {
		return domain.UnknownResult(s.ID(), m.ID, "final without winner"), nil
	}

	outcome, ok := s.outcomeFor(m, winner, teamA, teamB)
	if !ok {
		return domain.UnknownResult(s.ID(), m.ID, fmt.Sprintf("cannot match %q to outcomes", winner.Team.DisplayName)), nil
	}
	return domain.OracleResult{
		SourceID:       s.ID(),
		MarketID:       m.ID,
		State:          domain.EffectivelyResolved,
		WinningOutcome: outcome,
		Confidence:     finalConfidence,
		Justification:  "final: " + winner.Team.DisplayName + " won",
	}, nil
}

// outcomeFor maps the winning team to a market outcome. Yes/No markets
// ("Will X beat Y") resolve Yes when the first team won.
func (s *Sports) outcomeFor(m domain.Market, winner espnCompetitor, teamA, teamB string) (string, bool) {
	if isYesNo(m) {
		switch {
		case winner.matches(teamA):
			return "Yes", true
		case winner.matches(teamB):
			return "No", true
		}
		return "", false
	}
	for _, n := range winner.names() {
		if o, ok := matchOutcome(m, n); ok {
			return o, true
		}
	}
	return "", false
}

func gameWinner(comp espnCompetition) (espnCompetitor, bool) {
	for _, c := range comp.Competitors {
		if c.Winner {
			return c, true
		}
	}
	if len(comp.Competitors) != 2 {
		return espnCompetitor{}, false
	}
	a, errA := strconv.Atoi(comp.Competitors[0].Score)
	b, errB := strconv.Atoi(comp.Competitors[1].Score)
	switch {
	case errA != nil || errB != nil || a == b:
		return espnCompetitor{}, false
	case a > b:
		return comp.Competitors[0], true
	default:
		return comp.Competitors[1], true
	}
}

// findGame looks for a game between both teams across all leagues.
func (s *Sports) findGame(ctx context.Context, teamA, teamB string) (espnCompetition, bool, error) {
	boards := make([][]espnEvent, len(s.leagues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, league := range s.leagues {
		g.Go(func() error {
			evs, err := s.scoreboard(gctx, league)
			if err != nil {
				slog.Debug("espn scoreboard failed", "league", league, "err", err)
				return nil
			}
			boards[i] = evs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return espnCompetition{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return espnCompetition{}, false, err
	}

	for _, evs := range boards {
		for _, ev := range evs {
			if len(ev.Competitions) == 0 {
				continue
			}
			comp := ev.Competitions[0]
			if len(comp.Competitors) != 2 {
				continue
			}
			c0, c1 := comp.Competitors[0], comp.Competitors[1]
			if (c0.matches(teamA) && c1.matches(teamB)) || (c0.matches(teamB) && c1.matches(teamA)) {
				return comp, true, nil
			}
		}
	}
	return espnCompetition{}, false, nil
}

func (s *Sports) scoreboard(ctx context.Context, league string) ([]espnEvent, error) {
	s.mu.Lock()
	if cb, ok := s.cache[league]; ok && s.now().Sub(cb.fetched) < scoreboardTTL {
		s.mu.Unlock()
		return cb.events, nil
	}
	s.mu.Unlock()

	var board espnScoreboard
	if err := s.http.GetJSON(ctx, s.limiter, s.base+"/"+league+"/scoreboard", &board); err != nil {
		return nil, fmt.Errorf("espn %s: %w", league, err)
	}

	s.mu.Lock()
	s.cache[league] = cachedBoard{events: board.Events, fetched: s.now()}
	s.mu.Unlock()
	return board.Events, nil
}
