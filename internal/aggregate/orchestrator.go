// Package aggregate merges every configured source into one snapshot per
// date and caches it.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/rooms"
	"github.com/briangreenhill/roomwatch/internal/sources"
)

// FetchObserver receives one call per source fetch
type FetchObserver interface {
	ObserveFetch(facility string, took time.Duration, faultKind string)
}

type nopFetchObserver struct{}

func (nopFetchObserver) ObserveFetch(string, time.Duration, string) {}

type Options struct {
	// TTL is how long a snapshot is served without refetching
	TTL time.Duration
	// FetchTimeout bounds each source independently
	FetchTimeout time.Duration

	Clock    clock.PassiveClock
	Observer FetchObserver
	Logger   zerolog.Logger
}

// Orchestrator fans out to all sources for a date and caches the merged
// snapshot under the date key.
type Orchestrator struct {
	sources      []sources.Source
	cache        *cache.Cache[rooms.Snapshot]
	ttl          time.Duration
	fetchTimeout time.Duration
	clock        clock.PassiveClock
	obs          FetchObserver
	log          zerolog.Logger
}

// Info describes how a snapshot was served
type Info struct {
	Outcome   cache.Outcome
	WrittenAt time.Time
	// Stale is set when a refresh failed and the previous snapshot was
	// returned instead
	Stale bool
}

func New(reg *sources.Registry, c *cache.Cache[rooms.Snapshot], opts Options) *Orchestrator {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Observer == nil {
		opts.Observer = nopFetchObserver{}
	}
	return &Orchestrator{
		sources:      reg.Sources(),
		cache:        c,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		obs:          opts.Observer,
		log:          opts.Logger,
	}
}

// Snapshot returns the snapshot for date, fetching it when the cached one is
// missing, expired or force is set.
func (o *Orchestrator) Snapshot(ctx context.Context, date rooms.Date, force bool) (rooms.Snapshot, Info, error) {
	key := date.String()
	res, err := o.cache.GetOrPopulate(ctx, key, o.ttl, func(ctx context.Context) (rooms.Snapshot, error) {
		return o.collect(ctx, date), nil
	}, force)
	if err == nil {
		return res.Value, Info{Outcome: res.Outcome(), WrittenAt: res.WrittenAt}, nil
	}

	// The caller gave up; nothing to serve.
	if ctx.Err() != nil {
		return rooms.Snapshot{}, Info{}, err
	}
	if prev, ok := o.cache.Peek(key); ok {
		o.log.Warn().Err(err).Str("date", key).Time("written_at", prev.WrittenAt).Msg("serving stale snapshot")
		return prev.Value, Info{Outcome: cache.OutcomeHit, WrittenAt: prev.WrittenAt, Stale: true}, nil
	}
	return rooms.Snapshot{}, Info{}, err
}

// Refresh forces a new snapshot for date
func (o *Orchestrator) Refresh(ctx context.Context, date rooms.Date) (rooms.Snapshot, error) {
	snap, _, err := o.Snapshot(ctx, date, true)
	return snap, err
}

// Stats reports the snapshot cache
func (o *Orchestrator) Stats() cache.Stats {
	return o.cache.Stats()
}

// Sources lists the configured sources in snapshot order
func (o *Orchestrator) Sources() []sources.Source {
	out := make([]sources.Source, len(o.sources))
	copy(out, o.sources)
	return out
}

// collect never fails: each source either yields a facility or a degraded
// one in its configured position.
func (o *Orchestrator) collect(ctx context.Context, date rooms.Date) rooms.Snapshot {
	runID := uuid.NewString()
	log := o.log.With().Str("run_id", runID).Str("date", date.String()).Logger()
	start := o.clock.Now()

	facilities := make([]rooms.Facility, len(o.sources))
	var g errgroup.Group
	for i, src := range o.sources {
		g.Go(func() error {
			facilities[i] = o.fetchOne(ctx, src, date, log)
			return nil
		})
	}
	_ = g.Wait()

	completed := o.clock.Now()
	snap := rooms.Snapshot{
		RunID:       runID,
		Date:        date,
		Facilities:  facilities,
		CompletedAt: completed,
		DurationMs:  completed.Sub(start).Milliseconds(),
	}
	log.Info().
		Int("facilities", len(facilities)).
		Strs("degraded", snap.Degraded()).
		Int64("duration_ms", snap.DurationMs).
		Msg("snapshot collected")
	return snap
}

type fetchResult struct {
	facility rooms.Facility
	err      error
}

func (o *Orchestrator) fetchOne(ctx context.Context, src sources.Source, date rooms.Date, log zerolog.Logger) rooms.Facility {
	ctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()
	start := o.clock.Now()

	ch := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fetchResult{err: &sources.FetchFault{
					Kind:     sources.UpstreamMalformed,
					Facility: src.ID(),
					Err:      fmt.Errorf("panic: %v", r),
				}}
			}
		}()
		f, err := src.Fetch(ctx, date)
		ch <- fetchResult{facility: f, err: err}
	}()

	var res fetchResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = fmt.Errorf("fetch %s: %w", src.ID(), ctx.Err())
	}
	took := o.clock.Since(start)

	if res.err != nil {
		fault := sources.FaultOf(src.ID(), res.err)
		ev := log.Warn()
		if errors.Is(res.err, context.DeadlineExceeded) {
			ev = ev.Bool("timeout", true)
		}
		ev.Err(res.err).Str("facility", src.ID()).Str("fault", fault.Kind).Msg("source degraded")
		o.obs.ObserveFetch(src.ID(), took, fault.Kind)
		return rooms.Degraded(src.ID(), src.Name(), src.Kind(), fault, o.clock.Now())
	}

	f := res.facility
	if f.Rooms == nil {
		f.Rooms = []rooms.Room{}
	}
	log.Debug().Str("facility", src.ID()).Int("rooms", len(f.Rooms)).Dur("took", took).Msg("source fetched")
	o.obs.ObserveFetch(src.ID(), took, "")
	return f
}
