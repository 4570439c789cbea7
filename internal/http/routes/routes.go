package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/aggregate"
	appmw "github.com/briangreenhill/roomwatch/internal/http/middleware"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

const (
	HeaderCompletedAt = "X-Roomwatch-Completed-At"
	HeaderCache       = "X-Roomwatch-Cache"
	HeaderStale       = "X-Roomwatch-Stale"
)

// Snapshots is satisfied by *aggregate.Orchestrator
type Snapshots interface {
	Snapshot(ctx context.Context, date rooms.Date, force bool) (rooms.Snapshot, aggregate.Info, error)
	Refresh(ctx context.Context, date rooms.Date) (rooms.Snapshot, error)
	Stats() cache.Stats
}

// Bootstrap is satisfied by *bootstrap.Cache
type Bootstrap interface {
	Document(ctx context.Context) (string, error)
	Rebuild(ctx context.Context) error
	Stats() cache.Stats
}

type StatsReporter interface {
	Stats() cache.Stats
}

type Server struct {
	Router    *chi.Mux
	Snapshots Snapshots
	Bootstrap Bootstrap
	Hours     StatsReporter
	Location  *time.Location
	Clock     clock.PassiveClock
}

type ServerOptions struct {
	Snapshots Snapshots
	Bootstrap Bootstrap
	Hours     StatsReporter
	Location  *time.Location
	Clock     clock.PassiveClock
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
	Logger  zerolog.Logger
}

func New(opts ServerOptions) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, took time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("took", took).
			Msg("request")
	}))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.ServerTime(opts.Clock))

	s := &Server{
		Router:    r,
		Snapshots: opts.Snapshots,
		Bootstrap: opts.Bootstrap,
		Hours:     opts.Hours,
		Location:  opts.Location,
		Clock:     opts.Clock,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Group(func(nr chi.Router) {
		nr.Use(appmw.NoStore)
		nr.Get("/", s.handleHome)
		nr.Get("/api/snapshots/{date}", s.handleSnapshot)
		nr.Post("/api/refresh", s.handleRefresh)
		nr.Get("/api/status", s.handleStatus)
		nr.Get("/api/time", s.handleTime)
	})

	return s
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Bootstrap.Document(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("bootstrap document")
		http.Error(w, "availability is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(doc)); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write bootstrap document")
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := rooms.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	snap, info, err := s.Snapshots.Snapshot(r.Context(), date, force)
	if err != nil {
		s.populateFailed(w, r, date, err)
		return
	}

	w.Header().Set(HeaderCache, string(info.Outcome))
	if info.Stale {
		w.Header().Set(HeaderStale, "1")
	}
	writeSnapshot(w, r, snap)
}

// handleRefresh forces a new snapshot for ?date= (default today) and then
// rebuilds the bootstrap document so "/" reflects it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	date := rooms.Today(s.Clock.Now(), s.Location)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := rooms.ParseDate(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
		date = d
	}

	snap, err := s.Snapshots.Refresh(r.Context(), date)
	if err != nil {
		s.populateFailed(w, r, date, err)
		return
	}
	if err := s.Bootstrap.Rebuild(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("rebuild bootstrap after refresh")
	}

	w.Header().Set(HeaderCache, string(cache.OutcomeMiss))
	writeSnapshot(w, r, snap)
}

type statusResponse struct {
	ServerTime time.Time     `json:"serverTime"`
	Timezone   string        `json:"timezone"`
	Caches     []cache.Stats `json:"caches"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ServerTime: s.Clock.Now().UTC(),
		Timezone:   s.Location.String(),
		Caches:     []cache.Stats{s.Snapshots.Stats()},
	}
	if s.Hours != nil {
		resp.Caches = append(resp.Caches, s.Hours.Stats())
	}
	resp.Caches = append(resp.Caches, s.Bootstrap.Stats())
	writeJSON(w, r, http.StatusOK, resp)
}

type timeResponse struct {
	Now    string `json:"now"`
	UnixMs int64  `json:"unixMs"`
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	now := s.Clock.Now()
	writeJSON(w, r, http.StatusOK, timeResponse{
		Now:    now.In(s.Location).Format(time.RFC3339),
		UnixMs: now.UnixMilli(),
	})
}

func (s *Server) populateFailed(w http.ResponseWriter, r *http.Request, date rooms.Date, err error) {
	// the client went away; nobody to answer
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	hlog.FromRequest(r).Error().Err(err).Str("date", date.String()).Msg("snapshot unavailable")
	writeError(w, r, http.StatusServiceUnavailable, errors.New("snapshot unavailable, try again shortly"))
}

func writeSnapshot(w http.ResponseWriter, r *http.Request, snap rooms.Snapshot) {
	w.Header().Set(HeaderCompletedAt, snap.CompletedAt.UTC().Format(time.RFC3339Nano))
	writeJSON(w, r, http.StatusOK, snap)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}
