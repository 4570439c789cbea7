package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/aggregate"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

type fakeSnapshots struct {
	mu    sync.Mutex
	calls []rooms.Date
	fail  map[rooms.Date]bool
	name  string
}

func (f *fakeSnapshots) Snapshot(_ context.Context, d rooms.Date, _ bool) (rooms.Snapshot, aggregate.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	if f.fail[d] {
		return rooms.Snapshot{}, aggregate.Info{}, errors.New("populate timed out")
	}
	return rooms.Snapshot{
		RunID: "run-" + d.String(),
		Date:  d,
		Facilities: []rooms.Facility{{
			ID:    "hsl",
			Name:  f.name,
			Kind:  rooms.KindRenderedWidget,
			Rooms: []rooms.Room{},
		}},
	}, aggregate.Info{}, nil
}

func (f *fakeSnapshots) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// 03:30 UTC on Jan 20 is still Jan 19 in New York
var t0 = time.Date(2026, 1, 20, 3, 30, 0, 0, time.UTC)

func newCache(t *testing.T, snaps Snapshotter, template string) (*Cache, *clocktesting.FakeClock) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	fc := clocktesting.NewFakeClock(t0)
	b := New(snaps, cache.New[string]("bootstrap", cache.WithClock(fc)), Options{
		Days:     3,
		Location: loc,
		Template: template,
		Clock:    fc,
		Logger:   zerolog.Nop(),
	})
	return b, fc
}

func extractPayload(t *testing.T, doc string) Payload {
	t.Helper()
	start := strings.Index(doc, scriptOpen)
	require.GreaterOrEqual(t, start, 0, "script block missing")
	rest := doc[start+len(scriptOpen):]
	end := strings.Index(rest, scriptClose)
	require.GreaterOrEqual(t, end, 0)

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(rest[:end]), &p))
	return p
}

func TestDocumentEmbedsUpcomingDays(t *testing.T) {
	snaps := &fakeSnapshots{name: "Health Sciences"}
	b, _ := newCache(t, snaps, "<html><head><title>x</title></head><body></body></html>")

	doc, err := b.Document(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "<html><head><title>x</title>"+scriptOpen))
	assert.True(t, strings.HasSuffix(doc, nowOpen+strconv.FormatInt(t0.UnixMilli(), 10)+scriptClose+"</head><body></body></html>"))

	p := extractPayload(t, doc)
	assert.Equal(t, t0, p.GeneratedAt.UTC())
	require.Len(t, p.Days, 3)
	for _, d := range []rooms.Date{
		rooms.NewDate(2026, time.January, 19),
		rooms.NewDate(2026, time.January, 20),
		rooms.NewDate(2026, time.January, 21),
	} {
		assert.Equal(t, "run-"+d.String(), p.Days[d].RunID)
	}
}

func TestDocumentOmitsFailedDays(t *testing.T) {
	snaps := &fakeSnapshots{fail: map[rooms.Date]bool{rooms.NewDate(2026, time.January, 20): true}}
	b, _ := newCache(t, snaps, "")

	doc, err := b.Document(context.Background())
	require.NoError(t, err)

	p := extractPayload(t, doc)
	assert.Len(t, p.Days, 2)
	assert.NotContains(t, p.Days, rooms.NewDate(2026, time.January, 20))
	assert.Contains(t, doc, "<title>Study room availability</title>")
}

func TestDocumentIsCached(t *testing.T) {
	snaps := &fakeSnapshots{}
	b, fc := newCache(t, snaps, "")

	first, err := b.Document(context.Background())
	require.NoError(t, err)
	second, err := b.Document(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, snaps.count())

	// the cached body is reused but the server time is read per call
	fc.Step(30 * time.Second)
	third, err := b.Document(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snaps.count())
	assert.Contains(t, third, nowOpen+strconv.FormatInt(t0.Add(30*time.Second).UnixMilli(), 10)+scriptClose)
	assert.NotEqual(t, first, third)

	fc.Step(30 * time.Second)
	_, err = b.Document(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, snaps.count())

	b.Invalidate()
	_, err = b.Document(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, snaps.count())

	require.NoError(t, b.Rebuild(context.Background()))
	assert.Equal(t, 12, snaps.count())
	assert.Equal(t, 1, b.Stats().Entries)
}

func TestPayloadCannotCloseScript(t *testing.T) {
	snaps := &fakeSnapshots{name: "</script><script>alert(1)</script>"}
	b, _ := newCache(t, snaps, "<head></head>")

	doc, err := b.Document(context.Background())
	require.NoError(t, err)
	// the payload script and the server time script
	assert.Equal(t, 2, strings.Count(doc, "</script>"))

	p := extractPayload(t, doc)
	for _, snap := range p.Days {
		assert.Equal(t, snaps.name, snap.Facilities[0].Name)
	}
}

type unnamedKindSnapshots struct{}

func (unnamedKindSnapshots) Snapshot(_ context.Context, d rooms.Date, _ bool) (rooms.Snapshot, aggregate.Info, error) {
	return rooms.Snapshot{Date: d, Facilities: []rooms.Facility{{ID: "annex", Rooms: []rooms.Room{}}}}, aggregate.Info{}, nil
}

func TestDocumentToleratesUnnamedKind(t *testing.T) {
	b, _ := newCache(t, unnamedKindSnapshots{}, "<head></head>")

	doc, err := b.Document(context.Background())
	require.NoError(t, err)
	assert.Contains(t, doc, `"kind":"unknown"`)
	assert.Len(t, extractPayload(t, doc).Days, 3)
}

func TestStampNow(t *testing.T) {
	at := time.UnixMilli(1768880000123)
	assert.Equal(t, "<head>"+nowOpen+"1768880000123"+scriptClose+"</head>", StampNow("<head></head>", at))
	assert.Equal(t, nowOpen+"1768880000123"+scriptClose+"<p>x</p>", StampNow("<p>x</p>", at))
}

func TestSplice(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "before head close",
			template: "<html><head></head><body></body></html>",
			want:     "<html><head>" + scriptOpen + `{"a":"\u003cb"}` + scriptClose + "</head><body></body></html>",
		},
		{
			name:     "uppercase head",
			template: "<HEAD></HEAD>",
			want:     "<HEAD>" + scriptOpen + `{"a":"\u003cb"}` + scriptClose + "</HEAD>",
		},
		{
			name:     "first head close only",
			template: "<head></head><template></head></template>",
			want:     "<head>" + scriptOpen + `{"a":"\u003cb"}` + scriptClose + "</head><template></head></template>",
		},
		{
			name:     "case folding changes byte length",
			template: "<title>İİİİ Library</title></head>",
			want:     "<title>İİİİ Library</title>" + scriptOpen + `{"a":"\u003cb"}` + scriptClose + "</head>",
		},
		{
			name:     "mixed case head",
			template: "<title>ſ</title></HeAd>",
			want:     "<title>ſ</title>" + scriptOpen + `{"a":"\u003cb"}` + scriptClose + "</HeAd>",
		},
		{
			name:     "no head",
			template: "<p>hi</p>",
			want:     scriptOpen + `{"a":"\u003cb"}` + scriptClose + "<p>hi</p>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Splice(tt.template, []byte(`{"a":"<b"}`)))
		})
	}
}

func TestLoadTemplate(t *testing.T) {
	def, err := LoadTemplate("")
	require.NoError(t, err)
	assert.Contains(t, def, "</head>")

	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<head></head>"), 0o600))
	got, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "<head></head>", got)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}
