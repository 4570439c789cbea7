// Package app wires configuration into the running service: caches, sources,
// the orchestrator, the bootstrap document, HTTP routes and warm jobs.
package app

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/aggregate"
	"github.com/briangreenhill/roomwatch/internal/bootstrap"
	"github.com/briangreenhill/roomwatch/internal/config"
	"github.com/briangreenhill/roomwatch/internal/http/routes"
	"github.com/briangreenhill/roomwatch/internal/jobs"
	"github.com/briangreenhill/roomwatch/internal/metrics"
	"github.com/briangreenhill/roomwatch/internal/render"
	"github.com/briangreenhill/roomwatch/internal/rooms"
	"github.com/briangreenhill/roomwatch/internal/sources"
)

type App struct {
	Config       *config.Config
	Log          zerolog.Logger
	Registry     *sources.Registry
	Orchestrator *aggregate.Orchestrator
	Bootstrap    *bootstrap.Cache
	Hours        *cache.Cache[rooms.Schedule]
	Metrics      *metrics.Metrics
	Server       *routes.Server

	clock  clock.PassiveClock
	chrome *render.Chrome
	runner *jobs.Runner
}

// NewLogger builds the root logger from LOG_LEVEL and LOG_FORMAT
func NewLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	if w == nil {
		w = os.Stdout
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Options exist for tests and the CLI; the service uses the zero value.
type Options struct {
	Clock clock.PassiveClock
	// Registerer defaults to a fresh registry with Go runtime collectors
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Renderer replaces the Chrome renderer for rendered-widget facilities
	Renderer sources.Renderer
}

func New(cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Registerer == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registerer, opts.Gatherer = reg, reg
	}

	a := &App{Config: cfg, Log: log, clock: opts.Clock}
	a.Metrics = metrics.New(opts.Registerer)

	// sources give up before the populate deadline
	fetchBudget := cfg.PopulateTimeout * 4 / 5
	cacheOpts := []cache.Option{
		cache.WithClock(opts.Clock),
		cache.WithObserver(a.Metrics),
		cache.WithPopulateTimeout(cfg.PopulateTimeout),
	}

	renderer := opts.Renderer
	if renderer == nil && needsRenderer(cfg.Facilities()) {
		a.chrome = render.NewChrome(render.Options{
			RemoteURL: cfg.ChromeWSURL,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.RenderTimeout,
			Logger:    log.With().Str("component", "chrome").Logger(),
		})
		renderer = a.chrome
	}

	client := sources.NewClient(
		sources.WithUserAgent(cfg.UserAgent),
		sources.WithRequestTimeout(cfg.FetchTimeout),
		sources.WithRetries(cfg.FetchRetries),
	)
	a.Hours = cache.New[rooms.Schedule]("hours", cacheOpts...)

	reg, err := sources.Build(cfg.Facilities(), sources.Deps{
		Client:         client,
		Renderer:       renderer,
		Hours:          a.Hours,
		HoursTTL:       cfg.HoursTTL,
		HoursTransport: sources.NewHoursTransport(http.DefaultTransport),
		Location:       cfg.Location(),
		Clock:          opts.Clock,
		Logger:         log.With().Str("component", "sources").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg

	a.Orchestrator = aggregate.New(reg, cache.New[rooms.Snapshot]("snapshots", cacheOpts...), aggregate.Options{
		TTL:          cfg.SnapshotTTL,
		FetchTimeout: fetchBudget,
		Clock:        opts.Clock,
		Observer:     a.Metrics,
		Logger:       log.With().Str("component", "aggregate").Logger(),
	})

	tmpl, err := bootstrap.LoadTemplate(cfg.TemplatePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Bootstrap = bootstrap.New(a.Orchestrator, cache.New[string]("bootstrap", cacheOpts...), bootstrap.Options{
		TTL:      cfg.BootstrapTTL,
		Days:     cfg.BootstrapDays,
		Location: cfg.Location(),
		Template: tmpl,
		Clock:    opts.Clock,
		Logger:   log.With().Str("component", "bootstrap").Logger(),
	})

	var metricsHandler http.Handler
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	a.Server = routes.New(routes.ServerOptions{
		Snapshots: a.Orchestrator,
		Bootstrap: a.Bootstrap,
		Hours:     a.Hours,
		Location:  cfg.Location(),
		Clock:     opts.Clock,
		Metrics:   metricsHandler,
		Logger:    log,
	})

	if cfg.HasWarming() {
		h := jobs.NewWarmHandler(a.Orchestrator, a.Bootstrap, cfg.Location(), opts.Clock, log.With().Str("component", "warm").Logger())
		a.runner, err = jobs.NewRunner(jobs.RunnerOptions{
			RedisAddr: cfg.RedisAddr,
			Schedule:  cfg.WarmSchedule,
			Location:  cfg.Location(),
			Days:      cfg.BootstrapDays,
			Handler:   h,
			Logger:    log,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	log.Info().
		Strs("facilities", reg.List()).
		Bool("warming", cfg.HasWarming()).
		Str("timezone", cfg.Location().String()).
		Msg("app configured")
	return a, nil
}

// Clock is the clock every component was built with
func (a *App) Clock() clock.PassiveClock { return a.clock }

// Start launches background warming when configured
func (a *App) Start() error {
	if a.runner == nil {
		return nil
	}
	return a.runner.Start()
}

// Close stops background work and the browser
func (a *App) Close() {
	if a.runner != nil {
		a.runner.Shutdown()
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
}

func needsRenderer(fcs []config.Facility) bool {
	for _, fc := range fcs {
		if fc.Kind == rooms.KindRenderedWidget {
			return true
		}
	}
	return false
}
