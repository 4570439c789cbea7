// Package bootstrap builds the HTML document served at "/": the page template
// with the next several days of snapshots embedded as a script block, so the
// first paint needs no API round trip.
package bootstrap

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/aggregate"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

//go:embed index.html
var defaultTemplate string

const (
	documentKey = "document"
	scriptOpen  = `<script id="bootstrap-data">window.__ROOMWATCH__=`
	scriptClose = `;</script>`
	nowOpen     = `<script id="server-now">window.__ROOMWATCH_NOW__=`
	headClose   = "</head>"
)

// Snapshotter is satisfied by *aggregate.Orchestrator
type Snapshotter interface {
	Snapshot(ctx context.Context, date rooms.Date, force bool) (rooms.Snapshot, aggregate.Info, error)
}

type Options struct {
	TTL time.Duration
	// Days is how many days starting today are embedded
	Days     int
	Location *time.Location
	// Template is the page markup; empty uses the embedded default
	Template string
	Clock    clock.PassiveClock
	Logger   zerolog.Logger
}

// Cache holds the rendered document under a single key
type Cache struct {
	snaps    Snapshotter
	cache    *cache.Cache[string]
	ttl      time.Duration
	days     int
	loc      *time.Location
	template string
	clock    clock.PassiveClock
	log      zerolog.Logger
}

// Payload is the JSON assigned to window.__ROOMWATCH__. The server time is
// not part of it: the cached document may be up to one TTL old, so Document
// stamps window.__ROOMWATCH_NOW__ on every call instead.
type Payload struct {
	GeneratedAt time.Time                     `json:"generatedAt"`
	Days        map[rooms.Date]rooms.Snapshot `json:"days"`
}

func New(snaps Snapshotter, c *cache.Cache[string], opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Days <= 0 {
		opts.Days = 8
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Template == "" {
		opts.Template = defaultTemplate
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Cache{
		snaps:    snaps,
		cache:    c,
		ttl:      opts.TTL,
		days:     opts.Days,
		loc:      opts.Location,
		template: opts.Template,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
}

// LoadTemplate reads a page template from path. An empty path returns the
// embedded default.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(b), nil
}

// Document returns the cached page, building it when missing or expired,
// with the current server time in unix milliseconds spliced in per call.
func (b *Cache) Document(ctx context.Context) (string, error) {
	res, err := b.cache.GetOrPopulate(ctx, documentKey, b.ttl, b.build, false)
	if err != nil {
		return "", fmt.Errorf("bootstrap document: %w", err)
	}
	return StampNow(res.Value, b.clock.Now()), nil
}

// Rebuild forces a new document, joining one that is already being built.
func (b *Cache) Rebuild(ctx context.Context) error {
	_, err := b.cache.GetOrPopulate(ctx, documentKey, b.ttl, b.build, true)
	return err
}

// Invalidate drops the document so the next call rebuilds it
func (b *Cache) Invalidate() {
	b.cache.Invalidate(documentKey)
}

func (b *Cache) Stats() cache.Stats {
	return b.cache.Stats()
}

func (b *Cache) build(ctx context.Context) (string, error) {
	raw, err := json.Marshal(b.payload(ctx))
	if err != nil {
		return "", fmt.Errorf("encode bootstrap payload: %w", err)
	}
	return Splice(b.template, raw), nil
}

// payload never fails; days whose snapshot errors are left out.
func (b *Cache) payload(ctx context.Context) Payload {
	start := b.clock.Now()
	today := rooms.Today(start, b.loc)

	var (
		mu   sync.Mutex
		days = make(map[rooms.Date]rooms.Snapshot, b.days)
		g    errgroup.Group
	)
	for i := 0; i < b.days; i++ {
		d := today.AddDays(i)
		g.Go(func() error {
			snap, _, err := b.snaps.Snapshot(ctx, d, false)
			if err != nil {
				b.log.Warn().Err(err).Str("date", d.String()).Msg("bootstrap day omitted")
				return nil
			}
			mu.Lock()
			days[d] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	b.log.Debug().Int("days", len(days)).Dur("took", b.clock.Since(start)).Msg("bootstrap built")
	return Payload{GeneratedAt: start, Days: days}
}

// Splice inserts the payload script immediately before the first </head>.
// Every '<' in payload is escaped so the JSON cannot close the script early.
// A template without </head> gets the script prepended.
func Splice(template string, payload []byte) string {
	script := scriptOpen + strings.ReplaceAll(string(payload), "<", `\u003c`) + scriptClose
	return insertBeforeHead(template, script)
}

// StampNow inserts the server clock reading ahead of </head>
func StampNow(doc string, now time.Time) string {
	return insertBeforeHead(doc, nowOpen+strconv.FormatInt(now.UnixMilli(), 10)+scriptClose)
}

func insertBeforeHead(doc, script string) string {
	i := indexHeadClose(doc)
	if i < 0 {
		return script + doc
	}
	return doc[:i] + script + doc[i:]
}

// indexHeadClose finds the first </head> ignoring ASCII case. It compares
// byte windows in place, so offsets stay valid for doc whatever runes
// surround the tag.
func indexHeadClose(doc string) int {
	for i := 0; i+len(headClose) <= len(doc); i++ {
		if doc[i] == '<' && strings.EqualFold(doc[i:i+len(headClose)], headClose) {
			return i
		}
	}
	return -1
}
