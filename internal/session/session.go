// Package session implements the BIST trading calendar and the periodic
// runner that drives decision cycles while the market is open.
package session

import (
	"fmt"
	"time"
)

const (
	// DefaultTimezone is the exchange's local time zone.
	DefaultTimezone = "Europe/Istanbul"

	openHour, openMinute   = 9, 55
	closeHour, closeMinute = 18, 10
)

// Calendar answers whether the exchange session is open at a given time.
// The session runs 09:55 to 18:10 local time, weekdays only; the open is
// inclusive and the close exclusive. Exchange holidays are not modeled.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the exchange time zone. An empty tz uses the default.
func NewCalendar(tz string) (*Calendar, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %s: %w", tz, err)
	}
	return &Calendar{loc: loc}, nil
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsOpen reports whether the session is open at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= openHour*60+openMinute && minutes < closeHour*60+closeMinute
}

// NextOpen returns the next session open at or after t. Used for idle
// logging, not scheduling.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	if c.IsOpen(local) {
		return local
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), openHour, openMinute, 0, 0, c.loc)
	for !open.After(local) || !c.IsOpen(open) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}
