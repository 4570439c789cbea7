package rooms

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from a 24-hour clock reading.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Hours returns the decimal hour, e.g. 7:30 is 7.5.
func (t TimeOfDay) Hours() float64 {
	return float64(t) / 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseClock parses a 24-hour "HH:MM" or "HH:MM:SS" reading. Seconds are
// accepted and dropped.
func ParseClock(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return NewTimeOfDay(h, m), nil
}

// Parse12Hour parses readings like "9:30am", "12pm" or "7:00 PM".
func Parse12Hour(s string) (TimeOfDay, error) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	v = strings.ReplaceAll(v, ".", "")
	for _, layout := range []string{"3:04pm", "3pm"} {
		if t, err := time.Parse(layout, v); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid 12-hour time %q", s)
}
