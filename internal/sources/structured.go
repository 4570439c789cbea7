package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/briangreenhill/roomwatch/cache"
	"github.com/briangreenhill/roomwatch/internal/config"
	"github.com/briangreenhill/roomwatch/internal/hours"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

var roomKeyRe = regexp.MustCompile(`([A-Za-z0-9]+)\W*$`)

type apiResponse struct {
	Status string    `json:"status"`
	Slots  []apiSlot `json:"slots"`
}

type apiSlot struct {
	RoomName        string `json:"roomName"`
	StartTime       string `json:"starttime"`
	Open            bool   `json:"open"`
	Taken           bool   `json:"taken"`
	MaximumCapacity int    `json:"maximumCapacity"`
	RoomFloor       string `json:"roomFloor"`
	Whiteboard      bool   `json:"whiteboard"`
	Display         bool   `json:"display"`
	ConferencePhone bool   `json:"conferencePhone"`
	Computer        bool   `json:"computer"`
	Accessible      bool   `json:"accessible"`
	RoomHide        bool   `json:"roomHide"`
}

func (s apiSlot) amenities() []rooms.Amenity {
	out := []rooms.Amenity{}
	for a, ok := range map[rooms.Amenity]bool{
		rooms.AmenityWhiteboard:      s.Whiteboard,
		rooms.AmenityDisplay:         s.Display,
		rooms.AmenityConferencePhone: s.ConferencePhone,
		rooms.AmenityComputer:        s.Computer,
		rooms.AmenityAccessible:      s.Accessible,
	} {
		if ok {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}

// StructuredAPI reads a JSON availability endpoint and, when configured, the
// weekly hours table for the same facility.
type StructuredAPI struct {
	id, name string
	cfg      config.StructuredAPI

	client      *Client
	hoursClient *Client
	hoursCache  *cache.Cache[rooms.Schedule]
	hoursTTL    time.Duration

	loc   *time.Location
	clock clock.PassiveClock
	log   zerolog.Logger
}

// NewStructuredAPI builds the adapter. OAuth client credentials, when set,
// authenticate the availability requests only.
func NewStructuredAPI(fc config.Facility, deps Deps) (*StructuredAPI, error) {
	if fc.API == nil {
		return nil, fmt.Errorf("facility %s: missing api settings", fc.ID)
	}
	deps.applyDefaults()

	client := deps.Client
	if fc.API.OAuth.Enabled() {
		cc := clientcredentials.Config{
			ClientID:     fc.API.OAuth.ClientID,
			ClientSecret: fc.API.OAuth.ClientSecret,
			TokenURL:     fc.API.OAuth.TokenURL,
			Scopes:       fc.API.OAuth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, deps.Client.http)
		client = deps.Client.With(cc.Client(ctx))
	}

	return &StructuredAPI{
		id:          fc.ID,
		name:        fc.Name,
		cfg:         *fc.API,
		client:      client,
		hoursClient: deps.Client.With(&http.Client{Transport: deps.HoursTransport}),
		hoursCache:  deps.Hours,
		hoursTTL:    deps.HoursTTL,
		loc:         deps.Location,
		clock:       deps.Clock,
		log:         deps.Logger.With().Str("facility", fc.ID).Logger(),
	}, nil
}

func (s *StructuredAPI) ID() string       { return s.id }
func (s *StructuredAPI) Name() string     { return s.name }
func (s *StructuredAPI) Kind() rooms.Kind { return rooms.KindStructuredAPI }

// slotsURL addresses the day by its local noon so the upstream never sees a
// timestamp that falls on a neighbouring date.
func (s *StructuredAPI) slotsURL(d rooms.Date) string {
	noon := d.At(12, 0, s.loc).Format(time.RFC3339)
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), url.PathEscape(s.cfg.LocationID), url.PathEscape(noon))
}

func (s *StructuredAPI) hoursURL(week rooms.Date) (string, error) {
	u, err := url.Parse(s.cfg.HoursEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("lid", s.cfg.HoursLID)
	q.Set("date", week.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *StructuredAPI) Fetch(ctx context.Context, date rooms.Date) (rooms.Facility, error) {
	var (
		resp  apiResponse
		sched *rooms.Schedule
	)

	// Hours are best effort so their goroutine never fails the group.
	var g errgroup.Group
	g.Go(func() error {
		return s.client.GetJSON(ctx, s.slotsURL(date), &resp)
	})
	if s.cfg.HasHours() {
		g.Go(func() error {
			h, err := s.Hours(ctx, date.WeekStart())
			if err != nil {
				s.log.Warn().Err(err).Str("date", date.String()).Msg("hours unavailable")
				return nil
			}
			sched = &h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rooms.Facility{}, Classify(s.id, err)
	}

	if !statusOK(resp.Status) {
		return rooms.Facility{}, malformed(s.id, fmt.Errorf("unexpected status %q", resp.Status))
	}

	var resv *rooms.DayHours
	if h, ok := sched.ReservationOn(date); ok {
		resv = &h
	}

	return rooms.Facility{
		ID:        s.id,
		Name:      s.name,
		Kind:      rooms.KindStructuredAPI,
		Hours:     sched,
		Rooms:     normalizeSlots(resp.Slots, resv),
		FetchedAt: s.clock.Now(),
	}, nil
}

// Hours returns the schedule for the week starting at week, through the
// shared hours cache.
func (s *StructuredAPI) Hours(ctx context.Context, week rooms.Date) (rooms.Schedule, error) {
	key := cache.KeyFor("hours", map[string]string{"facility": s.id, "week": week.String()})
	res, err := s.hoursCache.GetOrPopulate(ctx, key, s.hoursTTL, func(ctx context.Context) (rooms.Schedule, error) {
		return s.fetchHours(ctx, week)
	}, false)
	if err != nil {
		return rooms.Schedule{}, err
	}
	return res.Value, nil
}

func (s *StructuredAPI) fetchHours(ctx context.Context, week rooms.Date) (rooms.Schedule, error) {
	u, err := s.hoursURL(week)
	if err != nil {
		return rooms.Schedule{}, malformed(s.id, err)
	}
	markup, err := s.hoursClient.GetText(ctx, u)
	if err != nil {
		return rooms.Schedule{}, Classify(s.id, err)
	}

	building, ok := hours.Parse(markup, s.cfg.BuildingRow, week)
	if !ok {
		return rooms.Schedule{}, malformed(s.id, fmt.Errorf("hours row %q not found", s.cfg.BuildingRow))
	}
	reservation, ok := hours.Parse(markup, s.cfg.ReservationRow, week)
	if !ok {
		s.log.Debug().Str("row", s.cfg.ReservationRow).Msg("no reservation row, using building hours")
		reservation = building
	}
	return rooms.Schedule{Building: building, Reservation: reservation}, nil
}

func statusOK(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "ok", "success":
		return true
	}
	return false
}

// roomKey is the trailing alphanumeric token of a room name, so
// "Study Room 126" and "Group Study - 126" both become "126".
func roomKey(name string) string {
	if m := roomKeyRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return strings.TrimSpace(name)
}

type rawSlot struct {
	start     string
	available bool
}

// normalizeSlots groups open slots by room. Slots outside resv, when known,
// are not bookable.
func normalizeSlots(raw []apiSlot, resv *rooms.DayHours) []rooms.Room {
	byKey := make(map[string]*rooms.Room)
	slotsByKey := make(map[string][]rawSlot)
	var order []string

	for _, rs := range raw {
		if rs.RoomHide || !rs.Open {
			continue
		}
		key := roomKey(rs.RoomName)
		if key == "" {
			continue
		}
		if _, ok := byKey[key]; !ok {
			byKey[key] = &rooms.Room{
				Name:        key,
				DisplayName: strings.TrimSpace(rs.RoomName),
				Capacity:    max(rs.MaximumCapacity, 0),
				FloorLabel:  strings.TrimSpace(rs.RoomFloor),
				Amenities:   rs.amenities(),
			}
			order = append(order, key)
		}
		slotsByKey[key] = append(slotsByKey[key], rawSlot{start: rs.StartTime, available: !rs.Taken})
	}

	out := make([]rooms.Room, 0, len(order))
	for _, key := range order {
		room := *byKey[key]
		raws := slotsByKey[key]
		sort.SliceStable(raws, func(i, j int) bool { return raws[i].start < raws[j].start })

		room.Slots = make([]rooms.Slot, 0, len(raws))
		for _, r := range raws {
			t, err := rooms.ParseClock(r.start)
			if err != nil {
				continue
			}
			avail := r.available
			if resv != nil && !resv.Covers(t) {
				avail = false
			}
			if n := len(room.Slots); n > 0 && room.Slots[n-1].StartTime == t {
				room.Slots[n-1].Available = room.Slots[n-1].Available || avail
				continue
			}
			room.Slots = append(room.Slots, rooms.Slot{StartTime: t, Available: avail})
		}
		out = append(out, room)
	}
	rooms.SortRooms(out)
	return out
}
