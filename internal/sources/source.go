// Package sources fetches one upstream and normalizes it into a
// rooms.Facility. Every failure is returned as a *FetchFault.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/config"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

// Source is one configured upstream
type Source interface {
	// ID returns the facility id from configuration
	ID() string

	Name() string

	Kind() rooms.Kind

	// Fetch returns the facility as of now for date
	Fetch(ctx context.Context, date rooms.Date) (rooms.Facility, error)
}

// Renderer loads a page in a browser, waits until selector matches and
// returns the resulting document.
type Renderer interface {
	Render(ctx context.Context, url, selector string) (string, error)
}

// Deps are the collaborators shared by all sources
type Deps struct {
	Client   *Client
	Renderer Renderer

	// Hours caches weekly schedules keyed by facility and week
	Hours    *cache.Cache[rooms.Schedule]
	HoursTTL time.Duration

	// HoursTransport is shared so every facility reading the same hours
	// page revalidates one HTTP cache entry
	HoursTransport http.RoundTripper

	Location *time.Location
	Clock    clock.PassiveClock
	Logger   zerolog.Logger
}

func (d *Deps) applyDefaults() {
	if d.Client == nil {
		d.Client = NewClient()
	}
	if d.Hours == nil {
		d.Hours = cache.New[rooms.Schedule]("hours")
	}
	if d.HoursTTL <= 0 {
		d.HoursTTL = time.Hour
	}
	if d.HoursTransport == nil {
		d.HoursTransport = NewHoursTransport(d.Client.http.Transport)
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
}

// NewHoursTransport wraps base in an in-memory HTTP cache honouring
// Cache-Control and ETag revalidation.
func NewHoursTransport(base http.RoundTripper) http.RoundTripper {
	t := httpcache.NewMemoryCacheTransport()
	if base != nil {
		t.Transport = base
	}
	return t
}

// New builds the adapter for fc. Every rooms.Kind must be handled here.
func New(fc config.Facility, deps Deps) (Source, error) {
	deps.applyDefaults()
	switch fc.Kind {
	case rooms.KindStructuredAPI:
		return NewStructuredAPI(fc, deps)
	case rooms.KindRenderedWidget:
		return NewRenderedWidget(fc, deps)
	default:
		return nil, fmt.Errorf("facility %s: unsupported source kind %s", fc.ID, fc.Kind)
	}
}

// Registry keeps sources in configuration order
type Registry struct {
	sources []Source
	byID    map[string]Source
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Source)}
}

// Build creates one source per facility, in order
func Build(fcs []config.Facility, deps Deps) (*Registry, error) {
	deps.applyDefaults()
	r := NewRegistry()
	for _, fc := range fcs {
		s, err := New(fc, deps)
		if err != nil {
			return nil, err
		}
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a source. IDs must be unique.
func (r *Registry) Register(s Source) error {
	if _, exists := r.byID[s.ID()]; exists {
		return fmt.Errorf("source %q already registered", s.ID())
	}
	r.byID[s.ID()] = s
	r.sources = append(r.sources, s)
	return nil
}

// Get retrieves a source by id
func (r *Registry) Get(id string) (Source, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// List returns source ids in registration order
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		ids = append(ids, s.ID())
	}
	return ids
}

// Sources returns the sources in registration order
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Len() int { return len(r.sources) }
