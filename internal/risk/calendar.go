package risk

import (
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"evotrader/internal/errors"
)

// calendarRow is the on-disk CSV shape of one scheduled economic event.
type calendarRow struct {
	Time   string `csv:"time"`
	Impact string `csv:"impact"`
	Event  string `csv:"event"`
}

// calendarEvent is a parsed high-impact event.
type calendarEvent struct {
	At   time.Time
	Name string
}

// EconomicCalendar is a NewsSource backed by a CSV schedule of economic
// events. Only rows marked "high" impact participate in blackout windows.
type EconomicCalendar struct {
	events []calendarEvent
}

// LoadEconomicCalendar reads a calendar CSV with columns time,impact,event.
func LoadEconomicCalendar(path string) (*EconomicCalendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open calendar %s", path)
	}
	defer f.Close()

	var rows []*calendarRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to parse calendar %s", path)
	}

	cal := &EconomicCalendar{}
	for i, row := range rows {
		if !strings.EqualFold(strings.TrimSpace(row.Impact), "high") {
			continue
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(row.Time))
		if err != nil {
			return nil, errors.Wrapf(err, "bad calendar timestamp at row %d", i+1)
		}
		cal.events = append(cal.events, calendarEvent{At: at, Name: row.Event})
	}
	return cal, nil
}

// NewStaticCalendar builds a calendar from pre-parsed events, used in tests
// and by orchestration layers with their own feeds.
func NewStaticCalendar(events map[time.Time]string) *EconomicCalendar {
	cal := &EconomicCalendar{}
	for at, name := range events {
		cal.events = append(cal.events, calendarEvent{At: at, Name: name})
	}
	return cal
}

// HighImpactWindow reports whether at falls within +-window of a scheduled
// high-impact event.
func (c *EconomicCalendar) HighImpactWindow(at time.Time, window time.Duration) (bool, string, error) {
	for _, ev := range c.events {
		diff := ev.At.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			return true, ev.Name, nil
		}
	}
	return false, "", nil
}

// Len returns the number of loaded high-impact events.
func (c *EconomicCalendar) Len() int {
	return len(c.events)
}
