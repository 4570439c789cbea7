package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/briangreenhill/roomwatch/internal/rooms"
)

//go:embed facilities.yaml
var defaultFacilities []byte

// Facility configures one upstream. Exactly one of API or Widget is set,
// matching Kind.
type Facility struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name"`
	Kind   rooms.Kind      `yaml:"kind"`
	API    *StructuredAPI  `yaml:"api,omitempty"`
	Widget *RenderedWidget `yaml:"widget,omitempty"`
}

// StructuredAPI configures a JSON availability endpoint plus its weekly
// hours table.
type StructuredAPI struct {
	Endpoint   string `yaml:"endpoint"`
	LocationID string `yaml:"location_id"`

	HoursEndpoint  string `yaml:"hours_endpoint"`
	HoursLID       string `yaml:"hours_lid"`
	BuildingRow    string `yaml:"building_row"`
	ReservationRow string `yaml:"reservation_row"`

	OAuth *OAuth `yaml:"oauth,omitempty"`
}

// HasHours returns true if an hours table is configured
func (a *StructuredAPI) HasHours() bool {
	return a.HoursEndpoint != "" && a.BuildingRow != ""
}

// OAuth holds client-credentials settings for an upstream
type OAuth struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled is false when the credentials expanded to nothing
func (o *OAuth) Enabled() bool {
	return o != nil && o.ClientID != "" && o.ClientSecret != ""
}

// RenderedWidget configures a booking page that only shows availability
// after client-side rendering.
type RenderedWidget struct {
	// URLTemplate contains {date}, replaced by YYYY-MM-DD
	URLTemplate      string                  `yaml:"url_template"`
	EventSelector    string                  `yaml:"event_selector"`
	AvailableClass   string                  `yaml:"available_class"`
	UnavailableClass string                  `yaml:"unavailable_class"`
	Rooms            map[string]RoomOverride `yaml:"rooms,omitempty"`
}

// URLFor expands the template for d
func (w *RenderedWidget) URLFor(d rooms.Date) string {
	return strings.ReplaceAll(w.URLTemplate, "{date}", d.String())
}

// RoomOverride supplies details the widget does not publish
type RoomOverride struct {
	DisplayName string          `yaml:"display_name"`
	Capacity    int             `yaml:"capacity"`
	Floor       string          `yaml:"floor"`
	Amenities   []rooms.Amenity `yaml:"amenities"`
}

type facilitiesFile struct {
	Facilities []Facility `yaml:"facilities"`
}

var envRefRe = regexp.MustCompile(`\$\{(\w+)\}`)

// ParseFacilities decodes a facilities document. ${VAR} references are
// expanded with lookup before decoding so secrets can stay in the
// environment. A bare $ is left alone.
func ParseFacilities(raw []byte, lookup func(string) string) ([]Facility, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	expanded := envRefRe.ReplaceAllStringFunc(string(raw), func(ref string) string {
		return lookup(ref[2 : len(ref)-1])
	})

	var f facilitiesFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse facilities: %w", err)
	}

	seen := make(map[string]bool, len(f.Facilities))
	for i := range f.Facilities {
		fc := &f.Facilities[i]
		fc.applyDefaults()
		if err := fc.Validate(); err != nil {
			return nil, fmt.Errorf("facility %d (%s): %w", i, fc.ID, err)
		}
		if seen[fc.ID] {
			return nil, fmt.Errorf("duplicate facility id %q", fc.ID)
		}
		seen[fc.ID] = true
	}
	if len(f.Facilities) == 0 {
		return nil, fmt.Errorf("no facilities configured")
	}
	return f.Facilities, nil
}

func (f *Facility) applyDefaults() {
	if f.Name == "" {
		f.Name = f.ID
	}
	if w := f.Widget; w != nil {
		if w.EventSelector == "" {
			w.EventSelector = ".fc-timeline-event"
		}
		if w.AvailableClass == "" {
			w.AvailableClass = "s-lc-eq-avail"
		}
		if w.UnavailableClass == "" {
			w.UnavailableClass = "s-lc-eq-r-unavailable"
		}
	}
	if a := f.API; a != nil && a.ReservationRow == "" {
		a.ReservationRow = a.BuildingRow
	}
}

// Validate checks that the settings match the facility kind
func (f *Facility) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch f.Kind {
	case rooms.KindStructuredAPI:
		if f.API == nil {
			return fmt.Errorf("kind %s requires an api block", f.Kind)
		}
		if f.API.Endpoint == "" || f.API.LocationID == "" {
			return fmt.Errorf("api.endpoint and api.location_id are required")
		}
		if f.API.OAuth != nil && f.API.OAuth.Enabled() && f.API.OAuth.TokenURL == "" {
			return fmt.Errorf("api.oauth.token_url is required")
		}
	case rooms.KindRenderedWidget:
		if f.Widget == nil {
			return fmt.Errorf("kind %s requires a widget block", f.Kind)
		}
		if !strings.Contains(f.Widget.URLTemplate, "{date}") {
			return fmt.Errorf("widget.url_template must contain {date}")
		}
	default:
		return fmt.Errorf("unsupported kind %s", f.Kind)
	}
	return nil
}
