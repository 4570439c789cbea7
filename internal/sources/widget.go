package sources

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/internal/config"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

const (
	labelSep        = " - "
	labelDateLayout = "Monday, January 2, 2006"
	statusAvailable = "available"
)

// RenderedWidget reads a booking page whose slots only exist after client
// side rendering. Each slot element carries a label such as
// "9:00am Tuesday, January 20, 2026 - Room 201 - Available".
type RenderedWidget struct {
	id, name string
	cfg      config.RenderedWidget

	renderer Renderer
	clock    clock.PassiveClock
	log      zerolog.Logger
}

func NewRenderedWidget(fc config.Facility, deps Deps) (*RenderedWidget, error) {
	if fc.Widget == nil {
		return nil, fmt.Errorf("facility %s: missing widget settings", fc.ID)
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("facility %s: rendered widget requires a renderer", fc.ID)
	}
	deps.applyDefaults()
	return &RenderedWidget{
		id:       fc.ID,
		name:     fc.Name,
		cfg:      *fc.Widget,
		renderer: deps.Renderer,
		clock:    deps.Clock,
		log:      deps.Logger.With().Str("facility", fc.ID).Logger(),
	}, nil
}

func (w *RenderedWidget) ID() string       { return w.id }
func (w *RenderedWidget) Name() string     { return w.name }
func (w *RenderedWidget) Kind() rooms.Kind { return rooms.KindRenderedWidget }

func (w *RenderedWidget) Fetch(ctx context.Context, date rooms.Date) (rooms.Facility, error) {
	markup, err := w.renderer.Render(ctx, w.cfg.URLFor(date), w.cfg.EventSelector)
	if err != nil {
		return rooms.Facility{}, Classify(w.id, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return rooms.Facility{}, malformed(w.id, &DecodeError{URL: w.cfg.URLFor(date), Err: err})
	}

	var events []event
	doc.Find(w.cfg.EventSelector).Each(func(_ int, sel *goquery.Selection) {
		label, ok := sel.Attr("title")
		if !ok || strings.TrimSpace(label) == "" {
			label, _ = sel.Attr("aria-label")
		}
		class, _ := sel.Attr("class")
		events = append(events, event{label: label, classes: strings.Fields(class)})
	})

	rs, parsed := w.collect(events, date)
	if len(events) > 0 && parsed == 0 {
		return rooms.Facility{}, malformed(w.id, fmt.Errorf("none of %d events had a readable label", len(events)))
	}

	return rooms.Facility{
		ID:        w.id,
		Name:      w.name,
		Kind:      rooms.KindRenderedWidget,
		Rooms:     rs,
		FetchedAt: w.clock.Now(),
	}, nil
}

type event struct {
	label   string
	classes []string
}

func (e event) hasClass(name string) bool {
	for _, c := range e.classes {
		if c == name {
			return true
		}
	}
	return false
}

// Label is a parsed event label
type Label struct {
	Start  rooms.TimeOfDay
	Date   rooms.Date
	Room   string
	Status string
}

// ParseLabel reads "<time> <weekday>, <month> <day>, <year> - <room> - <status>".
// The room is everything between the first and last separator, so room
// names may themselves contain " - ".
func ParseLabel(s string) (Label, error) {
	s = strings.Join(strings.Fields(s), " ")
	first := strings.Index(s, labelSep)
	last := strings.LastIndex(s, labelSep)
	if first < 0 || first == last {
		return Label{}, fmt.Errorf("label %q: want 3 parts", s)
	}
	head := s[:first]
	room := strings.TrimSpace(s[first+len(labelSep) : last])
	status := strings.TrimSpace(s[last+len(labelSep):])

	clockPart, datePart, ok := strings.Cut(head, " ")
	if !ok || room == "" {
		return Label{}, fmt.Errorf("label %q: missing time or room", s)
	}
	start, err := rooms.Parse12Hour(clockPart)
	if err != nil {
		return Label{}, fmt.Errorf("label %q: %w", s, err)
	}
	t, err := time.Parse(labelDateLayout, strings.TrimSpace(datePart))
	if err != nil {
		return Label{}, fmt.Errorf("label %q: %w", s, err)
	}
	return Label{Start: start, Date: rooms.DateOf(t), Room: room, Status: status}, nil
}

// available prefers explicit classes and falls back to the status text
func (w *RenderedWidget) available(e event, status string) bool {
	switch {
	case w.cfg.UnavailableClass != "" && e.hasClass(w.cfg.UnavailableClass):
		return false
	case w.cfg.AvailableClass != "" && e.hasClass(w.cfg.AvailableClass):
		return true
	default:
		return strings.EqualFold(status, statusAvailable)
	}
}

// collect keeps events for date and merges duplicates. The widget draws the
// same slot in several overlays; once any of them says available the slot
// stays available.
func (w *RenderedWidget) collect(events []event, date rooms.Date) ([]rooms.Room, int) {
	slots := make(map[string]map[rooms.TimeOfDay]bool)
	var order []string
	parsed := 0

	for _, e := range events {
		l, err := ParseLabel(e.label)
		if err != nil {
			w.log.Debug().Err(err).Msg("skipping event")
			continue
		}
		parsed++
		if l.Date != date {
			continue
		}
		if _, ok := slots[l.Room]; !ok {
			slots[l.Room] = make(map[rooms.TimeOfDay]bool)
			order = append(order, l.Room)
		}
		slots[l.Room][l.Start] = slots[l.Room][l.Start] || w.available(e, l.Status)
	}

	out := make([]rooms.Room, 0, len(order))
	for _, name := range order {
		room := rooms.Room{Name: name, DisplayName: name, Amenities: []rooms.Amenity{}}
		if o, ok := w.cfg.Rooms[name]; ok {
			if o.DisplayName != "" {
				room.DisplayName = o.DisplayName
			}
			room.Capacity = max(o.Capacity, 0)
			room.FloorLabel = o.Floor
			if len(o.Amenities) > 0 {
				room.Amenities = append(room.Amenities, o.Amenities...)
				slices.Sort(room.Amenities)
			}
		}
		room.Slots = make([]rooms.Slot, 0, len(slots[name]))
		for t, avail := range slots[name] {
			room.Slots = append(room.Slots, rooms.Slot{StartTime: t, Available: avail})
		}
		rooms.SortSlots(room.Slots)
		out = append(out, room)
	}
	rooms.SortRooms(out)
	return out, parsed
}
