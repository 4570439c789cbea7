package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/briangreenhill/roomwatch/cache"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveLookup("snapshots", cache.OutcomeHit)
	m.ObserveLookup("snapshots", cache.OutcomeHit)
	m.ObserveLookup("snapshots", cache.OutcomeMiss)
	if got := testutil.ToFloat64(m.lookups.WithLabelValues("snapshots", "hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %f", got)
	}

	m.ObservePopulate("snapshots", 200*time.Millisecond, nil)
	m.ObservePopulate("snapshots", time.Second, errors.New("boom"))
	if got := testutil.ToFloat64(m.populateErrs.WithLabelValues("snapshots")); got != 1 {
		t.Fatalf("expected 1 populate error, got %f", got)
	}
	if n := testutil.CollectAndCount(m.populate); n != 1 {
		t.Fatalf("expected one populate series, got %d", n)
	}

	m.ObserveFetch("faes", time.Second, "upstream-unavailable")
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("faes")); got != 1 {
		t.Fatalf("expected faes degraded, got %f", got)
	}
	m.ObserveFetch("faes", time.Second, "")
	if got := testutil.ToFloat64(m.degraded.WithLabelValues("faes")); got != 0 {
		t.Fatalf("expected faes recovered, got %f", got)
	}
	if got := testutil.ToFloat64(m.faults.WithLabelValues("faes", "upstream-unavailable")); got != 1 {
		t.Fatalf("expected 1 fault, got %f", got)
	}
}

func TestMetricsImplementsObserver(t *testing.T) {
	var _ cache.Observer = New(prometheus.NewRegistry())
}
