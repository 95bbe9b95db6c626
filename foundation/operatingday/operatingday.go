// Package operatingday provides time arithmetic for transit operating days,
// which may extend past midnight up to a configurable cutoff, and a service
// calendar for German public holidays.
package operatingday

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/de"
)

// SecondsPerDay is one calendar day in seconds
const SecondsPerDay = 86400

// ParseSeconds parses an HH:MM:SS string into seconds after midnight. Hours
// may exceed 24 for operating days crossing midnight (e.g. 27:00:00).
func ParseSeconds(operatingDayTime string) (int, error) {
	parts := strings.Split(operatingDayTime, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid operating day time %q", operatingDayTime)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid operating day time %q: %w", operatingDayTime, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid operating day time %q: %w", operatingDayTime, err)
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("invalid operating day time %q: %w", operatingDayTime, err)
	}
	if hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid operating day time %q", operatingDayTime)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// FormatSeconds renders seconds after operating day midnight as HH:MM:SS,
// hours exceeding 24 when the time lies past midnight
func FormatSeconds(secondsAfterMidnight int) string {
	hours := secondsAfterMidnight / 3600
	minutes := (secondsAfterMidnight % 3600) / 60
	seconds := secondsAfterMidnight % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Midnight returns 12am of the calendar day of at, in its location
func Midnight(at time.Time) time.Time {
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
}

// ReferenceDate resolves the operating day a timestamp belongs to.
//Before the configured operating day end (given as seconds after midnight,
//values over 86400 reach into the next calendar day) the previous calendar
//day is still the operating day.
func ReferenceDate(at time.Time, operatingDayEndSeconds int) time.Time {
	carryOverSeconds := operatingDayEndSeconds - SecondsPerDay
	if carryOverSeconds > 0 {
		midnight := Midnight(at)
		if at.Unix() <= midnight.Unix()+int64(carryOverSeconds) {
			return midnight.AddDate(0, 0, -1)
		}
	}
	return Midnight(at)
}

// DateString formats at as GTFS operating day YYYYMMDD
func DateString(at time.Time) string {
	return at.Format("20060102")
}

// Calendar answers whether a service day follows the sunday/holiday schedule
type Calendar struct {
	calendar *cal.BusinessCalendar
}

// NewCalendar builds a Calendar observing the nationwide German public holidays
func NewCalendar() *Calendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		de.Neujahr,
		de.Karfreitag,
		de.Ostermontag,
		de.TagderArbeit,
		de.ChristiHimmelfahrt,
		de.Pfingstmontag,
		de.DeutschenEinheit,
		de.Weihnachtstag,
		de.ZweiterWeihnachtsfeiertag,
	)
	return &Calendar{calendar: calendar}
}

// IsHoliday returns true when at falls on an observed public holiday
func (c *Calendar) IsHoliday(at time.Time) bool {
	_, observed, _ := c.calendar.IsHoliday(at)
	return observed
}

// IsSundayService returns true when at is a Sunday or public holiday, days
// most German agencies run the reduced sunday schedule
func (c *Calendar) IsSundayService(at time.Time) bool {
	return at.Weekday() == time.Sunday || c.IsHoliday(at)
}
