package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/roomwatch/internal/config"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

// fakeRenderer returns canned markup
type fakeRenderer struct {
	markup string
	err    error
	urls   []string
}

func (f *fakeRenderer) Render(_ context.Context, url, selector string) (string, error) {
	f.urls = append(f.urls, url)
	return f.markup, f.err
}

func eventDiv(label, class string) string {
	return fmt.Sprintf(`<a class="fc-timeline-event %s" title="%s"></a>`, class, label)
}

func widgetFacility() config.Facility {
	return config.Facility{
		ID:   "hsl",
		Name: "HSL Group Study",
		Kind: rooms.KindRenderedWidget,
		Widget: &config.RenderedWidget{
			URLTemplate:      "https://hsl.example.edu/reserve?date={date}",
			EventSelector:    ".fc-timeline-event",
			AvailableClass:   "s-lc-eq-avail",
			UnavailableClass: "s-lc-eq-r-unavailable",
			Rooms: map[string]config.RoomOverride{
				"Room 201": {DisplayName: "Group Study 201", Capacity: 6, Floor: "2nd Floor", Amenities: []rooms.Amenity{rooms.AmenityWhiteboard, rooms.AmenityDisplay}},
			},
		},
	}
}

func newWidget(t *testing.T, r Renderer) *RenderedWidget {
	deps := testDeps()
	deps.Renderer = r
	w, err := NewRenderedWidget(widgetFacility(), deps)
	require.NoError(t, err)
	return w
}

func TestWidgetFetch(t *testing.T) {
	page := "<html><body>" + strings.Join([]string{
		eventDiv("9:00am Tuesday, January 20, 2026 - Room 201 - Available", "s-lc-eq-avail"),
		eventDiv("9:30am Tuesday, January 20, 2026 - Room 201 - Unavailable/Padding", "s-lc-eq-r-unavailable"),
		eventDiv("9:00am Tuesday, January 20, 2026 - Room 10 - Available", ""),
		eventDiv("9:00am Tuesday, January 20, 2026 - Room 9 - Booked", ""),
		// adjacent-day bleed
		eventDiv("9:00am Wednesday, January 21, 2026 - Room 201 - Available", "s-lc-eq-avail"),
		eventDiv("garbage", ""),
	}, "\n") + "</body></html>"

	r := &fakeRenderer{markup: page}
	f, err := newWidget(t, r).Fetch(context.Background(), tuesday)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://hsl.example.edu/reserve?date=2026-01-20"}, r.urls)
	assert.Equal(t, rooms.KindRenderedWidget, f.Kind)
	assert.Equal(t, now, f.FetchedAt)

	require.Len(t, f.Rooms, 3)
	assert.Equal(t, "Room 9", f.Rooms[0].Name)
	assert.Equal(t, "Room 10", f.Rooms[1].Name)
	assert.Equal(t, "Room 201", f.Rooms[2].Name)

	assert.False(t, f.Rooms[0].Slots[0].Available)
	assert.True(t, f.Rooms[1].Slots[0].Available)

	r201 := f.Rooms[2]
	assert.Equal(t, "Group Study 201", r201.DisplayName)
	assert.Equal(t, 6, r201.Capacity)
	assert.Equal(t, []rooms.Amenity{rooms.AmenityDisplay, rooms.AmenityWhiteboard}, r201.Amenities)
	assert.Equal(t, []rooms.Slot{
		{StartTime: rooms.NewTimeOfDay(9, 0), Available: true},
		{StartTime: rooms.NewTimeOfDay(9, 30), Available: false},
	}, r201.Slots)
}

func TestWidgetDedupUpgrade(t *testing.T) {
	unavailable := eventDiv("2:00pm Tuesday, January 20, 2026 - Room 201 - Unavailable", "s-lc-eq-r-unavailable")
	available := eventDiv("2:00pm Tuesday, January 20, 2026 - Room 201 - Available", "s-lc-eq-avail")

	tests := []struct {
		name   string
		events []string
	}{
		{"unavailable then available", []string{unavailable, available}},
		{"available then unavailable", []string{available, unavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := newWidget(t, &fakeRenderer{markup: strings.Join(tt.events, "")}).Fetch(context.Background(), tuesday)
			require.NoError(t, err)
			require.Len(t, f.Rooms, 1)
			assert.Equal(t, []rooms.Slot{{StartTime: rooms.NewTimeOfDay(14, 0), Available: true}}, f.Rooms[0].Slots)
		})
	}
}

func TestWidgetAvailabilitySignals(t *testing.T) {
	w := newWidget(t, &fakeRenderer{})

	tests := []struct {
		name     string
		classes  string
		status   string
		expected bool
	}{
		{"unavailable class wins over text", "s-lc-eq-r-unavailable", "Available", false},
		{"available class wins over text", "s-lc-eq-avail", "Booked", true},
		{"text fallback", "", "available", true},
		{"text fallback mixed case", "", "AVAILABLE", true},
		{"other text", "", "Unavailable/Padding", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := event{classes: strings.Fields(tt.classes)}
			assert.Equal(t, tt.expected, w.available(e, tt.status))
		})
	}
}

func TestWidgetUsesAriaLabel(t *testing.T) {
	markup := `<div class="fc-timeline-event" aria-label="10:00am Tuesday, January 20, 2026 - Room 202 - Available"></div>`
	f, err := newWidget(t, &fakeRenderer{markup: markup}).Fetch(context.Background(), tuesday)
	require.NoError(t, err)
	require.Len(t, f.Rooms, 1)
	assert.Equal(t, "Room 202", f.Rooms[0].DisplayName)
	assert.NotNil(t, f.Rooms[0].Amenities)
}

func TestWidgetFaults(t *testing.T) {
	_, err := newWidget(t, &fakeRenderer{err: context.DeadlineExceeded}).Fetch(context.Background(), tuesday)
	var ff *FetchFault
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, UpstreamUnavailable, ff.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = newWidget(t, &fakeRenderer{markup: eventDiv("nonsense", "")}).Fetch(context.Background(), tuesday)
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, UpstreamMalformed, ff.Kind)

	// an empty page is a valid empty day
	f, err := newWidget(t, &fakeRenderer{markup: "<html></html>"}).Fetch(context.Background(), tuesday)
	require.NoError(t, err)
	assert.NotNil(t, f.Rooms)
	assert.Empty(t, f.Rooms)
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		in       string
		expected Label
		wantErr  bool
	}{
		{
			in:       "9:00am Tuesday, January 20, 2026 - Room 201 - Available",
			expected: Label{Start: rooms.NewTimeOfDay(9, 0), Date: tuesday, Room: "Room 201", Status: "Available"},
		},
		{
			in:       "12:30pm Tuesday, January 20, 2026 - Quiet Room - East Wing - Unavailable/Padding",
			expected: Label{Start: rooms.NewTimeOfDay(12, 30), Date: tuesday, Room: "Quiet Room - East Wing", Status: "Unavailable/Padding"},
		},
		{in: "9:00am Tuesday, January 20, 2026 - Room 201", wantErr: true},
		{in: "soon Tuesday, January 20, 2026 - Room 201 - Available", wantErr: true},
		{in: "9:00am 2026-01-20 - Room 201 - Available", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLabel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.expected, got)
	}
}
