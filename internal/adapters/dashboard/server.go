// Package dashboard exposes the bot over HTTP: control and settings
// endpoints, portfolio and journal reads, the websocket event stream and
// Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polycopy/config"
	"github.com/alejandrodnm/polycopy/internal/application/runtime"
	"github.com/alejandrodnm/polycopy/internal/domain"
	"github.com/alejandrodnm/polycopy/internal/ports"
)

const (
	stopTimeout = 30 * time.Second
	userCause   = "stopped by user"
)

// Controller is the runtime surface the dashboard drives.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context, cause string) (domain.SessionSummary, bool)
	Kill() bool
	Status() runtime.Status
	LastSession() (domain.SessionSummary, bool)
	UpdateSettings(p config.SettingsPatch) (config.Settings, error)
}

// Portfolio provides ledger snapshots.
type Portfolio interface {
	Snapshot() domain.PortfolioState
}

// History is the in-memory recent event buffer.
type History interface {
	History() []domain.Event
}

// Deps groups the dashboard collaborators. Journal, History and Metrics may be nil.
type Deps struct {
	Runtime   Controller
	Settings  *config.SettingsStore
	Portfolio Portfolio
	Journal   ports.Journal
	History   History
	Hub       *Hub
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Server serves the dashboard API.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewServer builds the server.
func NewServer(deps Deps) *Server {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Server{deps: deps, log: l}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/bot/start", s.handleStart)
	mux.HandleFunc("POST /api/bot/stop", s.handleStop)
	mux.HandleFunc("POST /api/bot/kill", s.handleKill)
	mux.HandleFunc("GET /api/bot/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/trades/recent", s.handleRecentTrades)
	mux.HandleFunc("GET /api/trades/skips", s.handleSkipReasons)
	mux.HandleFunc("GET /api/sessions/last", s.handleLastSession)
	mux.HandleFunc("GET /api/events/recent", s.handleRecentEvents)
	if s.deps.Hub != nil {
		mux.HandleFunc("GET /ws", s.deps.Hub.ServeWS)
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	return s.guard(mux)
}

// guard refuses state-changing requests sent by pages of another origin.
// Requests without an Origin header (curl, scripts) pass.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !sameOrigin(r) {
			s.log.Warn("dashboard: cross-origin request refused",
				"method", r.Method, "path", r.URL.Path, "origin", r.Header.Get("Origin"))
			writeError(w, http.StatusForbidden, errCrossOrigin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errCrossOrigin = errors.New("cross-origin request refused")

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.deps.Hub != nil {
			s.deps.Hub.Close()
		}
		return srv.Shutdown(shutdownCtx)
	}
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.deps.Runtime.Start(r.Context())
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		s.log.Info("bot started from dashboard", "session", id)
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	summary, ok := s.deps.Runtime.Stop(ctx, userCause)
	if !ok {
		writeError(w, http.StatusConflict, errors.New("not running"))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleKill(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Runtime.Kill() {
		writeError(w, http.StatusConflict, errors.New("not running"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"killed": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runtime.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Get())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.SettingsPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := s.deps.Runtime.UpdateSettings(patch)
	switch {
	case errors.Is(err, runtime.ErrSessionSettings):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		s.log.Info("settings updated from dashboard")
		writeJSON(w, http.StatusOK, next)
	}
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Portfolio.Snapshot())
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSON(w, http.StatusOK, []domain.TradeEvent{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be in [1, 1000]"))
			return
		}
		limit = n
	}
	trades, err := s.deps.Journal.RecentTrades(r.Context(), limit)
	if err != nil {
		s.log.Warn("recent trades query failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if trades == nil {
		trades = []domain.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleSkipReasons(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSON(w, http.StatusOK, map[domain.SkipReason]int{})
		return
	}
	counts, err := s.deps.Journal.SkipReasonCounts(r.Context())
	if err != nil {
		s.log.Warn("skip reasons query failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleLastSession prefers the in-memory summary and falls back to the journal.
func (s *Server) handleLastSession(w http.ResponseWriter, r *http.Request) {
	if sum, ok := s.deps.Runtime.LastSession(); ok {
		writeJSON(w, http.StatusOK, sum)
		return
	}
	if s.deps.Journal != nil {
		sum, ok, err := s.deps.Journal.LastSession(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, sum)
			return
		}
	}
	writeError(w, http.StatusNotFound, errors.New("no session yet"))
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, _ *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, []Envelope{})
		return
	}
	evs := s.deps.History.History()
	out := make([]Envelope, 0, len(evs))
	for _, ev := range evs {
		out = append(out, Envelope{Type: ev.Type(), Data: ev})
	}
	writeJSON(w, http.StatusOK, out)
}
