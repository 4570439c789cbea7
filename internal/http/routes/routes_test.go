package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/aggregate"
	appmw "github.com/briangreenhill/roomwatch/internal/http/middleware"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

// 02:00 UTC on Jan 21 is Jan 20 in New York
var now = time.Date(2026, 1, 21, 2, 0, 0, 0, time.UTC)

type mockSnapshots struct {
	err       error
	info      aggregate.Info
	requested []rooms.Date
	forced    []bool
	refreshed []rooms.Date
}

func (m *mockSnapshots) Snapshot(_ context.Context, d rooms.Date, force bool) (rooms.Snapshot, aggregate.Info, error) {
	m.requested = append(m.requested, d)
	m.forced = append(m.forced, force)
	if m.err != nil {
		return rooms.Snapshot{}, aggregate.Info{}, m.err
	}
	return snapshotFor(d), m.info, nil
}

func (m *mockSnapshots) Refresh(_ context.Context, d rooms.Date) (rooms.Snapshot, error) {
	m.refreshed = append(m.refreshed, d)
	if m.err != nil {
		return rooms.Snapshot{}, m.err
	}
	return snapshotFor(d), nil
}

func (m *mockSnapshots) Stats() cache.Stats { return cache.Stats{Name: "snapshots", Entries: 2} }

func snapshotFor(d rooms.Date) rooms.Snapshot {
	return rooms.Snapshot{
		RunID:       "run-1",
		Date:        d,
		Facilities:  []rooms.Facility{{ID: "faes", Name: "FAES", Kind: rooms.KindStructuredAPI, Rooms: []rooms.Room{}}},
		CompletedAt: time.Date(2026, 1, 20, 14, 0, 1, 0, time.UTC),
		DurationMs:  1000,
	}
}

type mockBootstrap struct {
	doc      string
	err      error
	rebuilds int
}

func (m *mockBootstrap) Document(context.Context) (string, error) { return m.doc, m.err }
func (m *mockBootstrap) Rebuild(context.Context) error            { m.rebuilds++; return nil }
func (m *mockBootstrap) Stats() cache.Stats                       { return cache.Stats{Name: "bootstrap"} }

type mockHours struct{}

func (mockHours) Stats() cache.Stats { return cache.Stats{Name: "hours", Entries: 4} }

func newServer(t *testing.T, snaps *mockSnapshots, boot *mockBootstrap) *Server {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return New(ServerOptions{
		Snapshots: snaps,
		Bootstrap: boot,
		Hours:     mockHours{},
		Location:  loc,
		Clock:     clocktesting.NewFakePassiveClock(now),
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Logger:    zerolog.Nop(),
	})
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestSnapshotRoute(t *testing.T) {
	snaps := &mockSnapshots{info: aggregate.Info{Outcome: cache.OutcomeDeduped}}
	s := newServer(t, snaps, &mockBootstrap{})

	rec := serve(s, http.MethodGet, "/api/snapshots/2026-01-20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "deduped", rec.Header().Get(HeaderCache))
	assert.Equal(t, "2026-01-20T14:00:01Z", rec.Header().Get(HeaderCompletedAt))
	assert.Equal(t, "2026-01-21T02:00:00Z", rec.Header().Get(appmw.ServerTimeHeader))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get(HeaderStale))

	var got rooms.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, rooms.NewDate(2026, time.January, 20), got.Date)
	assert.Equal(t, []bool{false}, snaps.forced)
}

func TestSnapshotRouteForce(t *testing.T) {
	snaps := &mockSnapshots{info: aggregate.Info{Outcome: cache.OutcomeMiss}}
	s := newServer(t, snaps, &mockBootstrap{})

	rec := serve(s, http.MethodGet, "/api/snapshots/2026-01-20?force=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{true}, snaps.forced)
}

func TestSnapshotRouteStale(t *testing.T) {
	snaps := &mockSnapshots{info: aggregate.Info{Outcome: cache.OutcomeHit, Stale: true}}
	s := newServer(t, snaps, &mockBootstrap{})

	rec := serve(s, http.MethodGet, "/api/snapshots/2026-01-20")
	assert.Equal(t, "hit", rec.Header().Get(HeaderCache))
	assert.Equal(t, "1", rec.Header().Get(HeaderStale))
}

func TestSnapshotRouteErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"bad date", "/api/snapshots/2026-13-01", nil, http.StatusBadRequest},
		{"not a date", "/api/snapshots/today", nil, http.StatusBadRequest},
		{"populate timeout", "/api/snapshots/2026-01-20", cache.ErrPopulateTimeout, http.StatusServiceUnavailable},
		{"bad refresh date", "/api/refresh?date=01-20-2026", nil, http.StatusBadRequest},
		{"refresh timeout", "/api/refresh", cache.ErrPopulateTimeout, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, &mockSnapshots{err: tt.err}, &mockBootstrap{})
			method := http.MethodGet
			if strings.HasPrefix(tt.target, "/api/refresh") {
				method = http.MethodPost
			}
			rec := serve(s, method, tt.target)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRefreshRoute(t *testing.T) {
	t.Run("defaults to today in facility time", func(t *testing.T) {
		snaps := &mockSnapshots{}
		boot := &mockBootstrap{}
		s := newServer(t, snaps, boot)

		rec := serve(s, http.MethodPost, "/api/refresh")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []rooms.Date{rooms.NewDate(2026, time.January, 20)}, snaps.refreshed)
		assert.Equal(t, 1, boot.rebuilds)
		assert.Equal(t, "miss", rec.Header().Get(HeaderCache))
	})

	t.Run("explicit date", func(t *testing.T) {
		snaps := &mockSnapshots{}
		s := newServer(t, snaps, &mockBootstrap{})

		rec := serve(s, http.MethodPost, "/api/refresh?date=2026-01-23")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []rooms.Date{rooms.NewDate(2026, time.January, 23)}, snaps.refreshed)
	})

	t.Run("get not allowed", func(t *testing.T) {
		s := newServer(t, &mockSnapshots{}, &mockBootstrap{})
		assert.Equal(t, http.StatusMethodNotAllowed, serve(s, http.MethodGet, "/api/refresh").Code)
	})
}

func TestHomeRoute(t *testing.T) {
	s := newServer(t, &mockSnapshots{}, &mockBootstrap{doc: "<html><head></head></html>"})
	rec := serve(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html><head></head></html>", rec.Body.String())

	s = newServer(t, &mockSnapshots{}, &mockBootstrap{err: errors.New("boom")})
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/").Code)
}

func TestStatusRoute(t *testing.T) {
	s := newServer(t, &mockSnapshots{}, &mockBootstrap{})
	rec := serve(s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, now, got.ServerTime)
	assert.Equal(t, "America/New_York", got.Timezone)
	require.Len(t, got.Caches, 3)
	assert.Equal(t, "snapshots", got.Caches[0].Name)
	assert.Equal(t, "hours", got.Caches[1].Name)
	assert.Equal(t, "bootstrap", got.Caches[2].Name)
}

func TestTimeRoute(t *testing.T) {
	s := newServer(t, &mockSnapshots{}, &mockBootstrap{})
	rec := serve(s, http.MethodGet, "/api/time")
	require.Equal(t, http.StatusOK, rec.Code)

	var got timeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2026-01-20T21:00:00-05:00", got.Now)
	assert.Equal(t, now.UnixMilli(), got.UnixMs)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, &mockSnapshots{}, &mockBootstrap{})

	rec := serve(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(appmw.ServerTimeHeader))

	rec = serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, "# metrics", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}
