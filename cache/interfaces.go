// Package cache provides an in-memory keyed cache with TTL-based expiry and
// single-flight population: concurrent callers for one key share a single
// upstream fetch.
package cache

import (
	"context"
	"time"
)

// Entry represents a cached value with its freshness metadata
type Entry[V any] struct {
	Value     V
	WrittenAt time.Time
	TTL       time.Duration
}

// FreshAt reports whether the entry is still within its TTL at now.
// Staleness depends only on WrittenAt, TTL and the clock, never on the value.
func (e Entry[V]) FreshAt(now time.Time) bool {
	return now.Sub(e.WrittenAt) < e.TTL
}

// Result describes how a GetOrPopulate call was satisfied
type Result[V any] struct {
	Value     V
	FromCache bool
	Deduped   bool
	WrittenAt time.Time
}

// Outcome classifies the result for logging and response headers
func (r Result[V]) Outcome() Outcome {
	switch {
	case r.FromCache:
		return OutcomeHit
	case r.Deduped:
		return OutcomeDeduped
	default:
		return OutcomeMiss
	}
}

// PopulateFunc produces a fresh value for a key
type PopulateFunc[V any] func(ctx context.Context) (V, error)

// Outcome is the lookup classification reported to an Observer
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeDeduped Outcome = "deduped"
)

// Observer receives cache events, typically to export metrics
type Observer interface {
	// ObserveLookup is called once per GetOrPopulate call
	ObserveLookup(cache string, outcome Outcome)

	// ObservePopulate is called once per finished population
	ObservePopulate(cache string, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveLookup(string, Outcome)                 {}
func (nopObserver) ObservePopulate(string, time.Duration, error) {}

// KeyStats describes one cached key
type KeyStats struct {
	Key       string        `json:"key"`
	WrittenAt time.Time     `json:"writtenAt"`
	Age       time.Duration `json:"-"`
	AgeMs     int64         `json:"ageMs"`
	Fresh     bool          `json:"fresh"`
}

// Stats is a point-in-time view of a cache for health reporting
type Stats struct {
	Name     string     `json:"name"`
	Entries  int        `json:"entries"`
	InFlight int        `json:"inFlight"`
	Keys     []KeyStats `json:"keys"`
}
