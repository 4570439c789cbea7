package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

var (
	// ErrPopulateTimeout is returned when a population does not settle within
	// the configured populate timeout
	ErrPopulateTimeout = errors.New("cache population timed out")
)

type call[V any] struct {
	done      chan struct{}
	val       V
	writtenAt time.Time
	err       error
}

// Cache is a TTL cache with at most one population in flight per key.
// The zero value is not usable; create one with New.
type Cache[V any] struct {
	name     string
	clock    clock.PassiveClock
	timeout  time.Duration
	observer Observer

	mu       sync.Mutex
	entries  map[string]Entry[V]
	inflight map[string]*call[V]
}

type options struct {
	clock    clock.PassiveClock
	timeout  time.Duration
	observer Observer
}

type Option func(*options)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

// WithPopulateTimeout bounds every population. Zero disables the bound.
func WithPopulateTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// New creates an empty cache. name labels metrics and stats.
func New[V any](name string, opts ...Option) *Cache[V] {
	o := options{clock: clock.RealClock{}, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		name:     name,
		clock:    o.clock,
		timeout:  o.timeout,
		observer: o.observer,
		entries:  make(map[string]Entry[V]),
		inflight: make(map[string]*call[V]),
	}
}

// Name returns the label given to New
func (c *Cache[V]) Name() string { return c.name }

// GetOrPopulate returns the fresh entry for key, or joins the population
// already running for key, or starts one. force skips the fresh entry but
// still joins a running population.
//
// The population runs detached from ctx so that one caller giving up does
// not fail the others; ctx only bounds how long this caller waits.
func (c *Cache[V]) GetOrPopulate(ctx context.Context, key string, ttl time.Duration, populate PopulateFunc[V], force bool) (Result[V], error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !force && e.FreshAt(c.clock.Now()) {
		c.mu.Unlock()
		c.observer.ObserveLookup(c.name, OutcomeHit)
		return Result[V]{Value: e.Value, FromCache: true, WrittenAt: e.WrittenAt}, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.observer.ObserveLookup(c.name, OutcomeDeduped)
		return c.wait(ctx, cl, true)
	}
	cl := &call[V]{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	c.observer.ObserveLookup(c.name, OutcomeMiss)
	go c.run(ctx, key, ttl, cl, populate)
	return c.wait(ctx, cl, false)
}

func (c *Cache[V]) wait(ctx context.Context, cl *call[V], deduped bool) (Result[V], error) {
	select {
	case <-cl.done:
		if cl.err != nil {
			return Result[V]{Deduped: deduped}, cl.err
		}
		return Result[V]{Value: cl.val, Deduped: deduped, WrittenAt: cl.writtenAt}, nil
	case <-ctx.Done():
		return Result[V]{Deduped: deduped}, ctx.Err()
	}
}

type outcome[V any] struct {
	val V
	err error
}

func (c *Cache[V]) run(parent context.Context, key string, ttl time.Duration, cl *call[V], populate PopulateFunc[V]) {
	start := c.clock.Now()

	base := context.WithoutCancel(parent)
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, c.timeout)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	defer cancel()

	ch := make(chan outcome[V], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome[V]{err: fmt.Errorf("populate %s: panic: %v", key, r)}
			}
		}()
		v, err := populate(ctx)
		ch <- outcome[V]{val: v, err: err}
	}()

	var o outcome[V]
	select {
	case o = <-ch:
	case <-ctx.Done():
	}
	// A result racing the deadline is discarded with it.
	if c.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o = outcome[V]{err: fmt.Errorf("%w: %s after %s", ErrPopulateTimeout, key, c.timeout)}
	}

	// writtenAt is the completion time so the TTL bounds data age, not
	// request age.
	now := c.clock.Now()
	c.mu.Lock()
	if o.err == nil {
		c.entries[key] = Entry[V]{Value: o.val, WrittenAt: now, TTL: ttl}
	}
	delete(c.inflight, key)
	cl.val, cl.err, cl.writtenAt = o.val, o.err, now
	c.mu.Unlock()

	// observed before waiters wake, so a returned call has been counted
	c.observer.ObservePopulate(c.name, now.Sub(start), o.err)
	close(cl.done)
}

// Peek returns the entry for key regardless of freshness
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Invalidate removes the entry for key. A population already in flight is
// not cancelled and will write its result when it finishes.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports entry ages sorted by key
func (c *Cache[V]) Stats() Stats {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Name: c.name, Entries: len(c.entries), InFlight: len(c.inflight), Keys: make([]KeyStats, 0, len(c.entries))}
	for k, e := range c.entries {
		age := now.Sub(e.WrittenAt)
		s.Keys = append(s.Keys, KeyStats{
			Key:       k,
			WrittenAt: e.WrittenAt,
			Age:       age,
			AgeMs:     age.Milliseconds(),
			Fresh:     e.FreshAt(now),
		})
	}
	sort.Slice(s.Keys, func(i, j int) bool { return s.Keys[i].Key < s.Keys[j].Key })
	return s
}
