// Package rooms holds the normalized availability model shared by every
// upstream source: facilities, their rooms, 30-minute slots and opening hours.
package rooms

import (
	"fmt"
	"time"
)

// Kind identifies which adapter produced a Facility.
type Kind int

const (
	KindStructuredAPI Kind = iota + 1
	KindRenderedWidget
)

const kindUnknown = "unknown"

var kindNames = map[Kind]string{
	KindStructuredAPI:  "structured-api",
	KindRenderedWidget: "rendered-widget",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps the configuration tag to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// MarshalText encodes kinds without a name as "unknown" so one odd facility
// cannot fail a whole snapshot encoding.
func (k Kind) MarshalText() ([]byte, error) {
	if name, ok := kindNames[k]; ok {
		return []byte(name), nil
	}
	return []byte(kindUnknown), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	if string(b) == kindUnknown {
		*k = 0
		return nil
	}
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Amenity is one of the enumerated room features.
type Amenity string

const (
	AmenityWhiteboard      Amenity = "whiteboard"
	AmenityDisplay         Amenity = "display"
	AmenityConferencePhone Amenity = "conference-phone"
	AmenityComputer        Amenity = "computer"
	AmenityAccessible      Amenity = "accessible"
)

// Slot is one 30-minute interval of a room.
type Slot struct {
	StartTime TimeOfDay `json:"startTime"`
	Available bool      `json:"available"`
}

type Room struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Capacity    int       `json:"capacity"`
	FloorLabel  string    `json:"floorLabel,omitempty"`
	Amenities   []Amenity `json:"amenities"`
	Slots       []Slot    `json:"slots"`
}

// DayHours is either an open/close pair in decimal hours or a closed day.
type DayHours struct {
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	Closed bool    `json:"closed,omitempty"`
	Label  string  `json:"label,omitempty"`
	Note   string  `json:"note,omitempty"`
}

// Covers reports whether a slot starting at t falls inside the open window.
func (h DayHours) Covers(t TimeOfDay) bool {
	if h.Closed {
		return false
	}
	at := t.Hours()
	return at >= h.Open && at < h.Close
}

// Schedule splits a facility's hours into building hours, which are shown to
// users, and reservation hours, which decide whether a slot can be booked.
type Schedule struct {
	Building    map[Date]DayHours `json:"building,omitempty"`
	Reservation map[Date]DayHours `json:"reservation,omitempty"`
}

// ReservationOn returns the reservation hours for d when they are known.
func (s *Schedule) ReservationOn(d Date) (DayHours, bool) {
	if s == nil {
		return DayHours{}, false
	}
	h, ok := s.Reservation[d]
	return h, ok
}

// Fault describes why a facility has no data.
type Fault struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Facility struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Hours     *Schedule `json:"hours,omitempty"`
	Rooms     []Room    `json:"rooms"`
	FetchedAt time.Time `json:"fetchedAt"`
	Fault     *Fault    `json:"fault,omitempty"`
}

// Degraded builds the empty, fault-annotated facility shown when a source
// could not be read.
func Degraded(id, name string, kind Kind, fault Fault, at time.Time) Facility {
	return Facility{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Rooms:     []Room{},
		FetchedAt: at,
		Fault:     &fault,
	}
}

// Snapshot is the merged result of one aggregation run for one date.
type Snapshot struct {
	RunID       string     `json:"runId"`
	Date        Date       `json:"date"`
	Facilities  []Facility `json:"facilities"`
	CompletedAt time.Time  `json:"completedAt"`
	DurationMs  int64      `json:"durationMs"`
}

// Degraded returns the facilities that carry a fault.
func (s Snapshot) Degraded() []string {
	var ids []string
	for _, f := range s.Facilities {
		if f.Fault != nil {
			ids = append(ids, f.ID)
		}
	}
	return ids
}
