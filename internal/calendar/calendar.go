package calendar

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultZone is the civil timezone attendance days are counted in.
const DefaultZone = "Asia/Colombo"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// Stamp is a moment broken down into the keys used by the attendance tree.
type Stamp struct {
	Year  int
	Month string
	Day   string
	Time  string
}

// String renders the stamp as "2024-March-05 09:14:02".
func (s Stamp) String() string {
	return fmt.Sprintf("%d-%s-%s %s", s.Year, s.Month, s.Day, s.Time)
}

// YearKey is the year as a tree key.
func (s Stamp) YearKey() string { return strconv.Itoa(s.Year) }

// DayKey formats a day of month as a tree key. Days below 10 are zero padded:
// the remote store turns bare small numeric keys into array indices, which
// replaces the surrounding map with a list.
func DayKey(day int) string {
	if day < 10 {
		return fmt.Sprintf("%02d", day)
	}
	return strconv.Itoa(day)
}

// Calendar derives stamps in a fixed location.
type Calendar struct {
	loc   *time.Location
	clock Clock
}

// New loads the named zone. A nil clock uses the system clock.
func New(zone string, clock Clock) (*Calendar, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Calendar{loc: loc, clock: clock}, nil
}

// Location returns the calendar's zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the stamp for the current instant.
func (c *Calendar) Now() Stamp {
	return c.At(c.clock.Now())
}

// At converts t into the calendar's zone and breaks it down.
func (c *Calendar) At(t time.Time) Stamp {
	local := t.In(c.loc)
	return Stamp{
		Year:  local.Year(),
		Month: local.Month().String(),
		Day:   DayKey(local.Day()),
		Time:  local.Format("15:04:05"),
	}
}
