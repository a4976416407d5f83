// Package calendar resolves whether a given date is a holiday. Day-type
// classification for tariff schedules depends on it: Sundays and national
// holidays price differently from Saturdays and weekdays.
package calendar

import (
	"context"
	"time"
)

// Calendar reports whether dates are holidays. Implementations must never
// fail resolution: if an upstream source is unavailable they fall back to a
// best-effort answer instead of returning an error.
type Calendar interface {
	// IsHoliday reports whether the date of t is a holiday.
	IsHoliday(ctx context.Context, t time.Time) bool

	// IsHolidayBatch resolves many dates at once. The result is aligned
	// with dates. Implementations should resolve each distinct calendar
	// date only once.
	IsHolidayBatch(ctx context.Context, dates []time.Time) []bool

	// Preload warms any caches for the given years so that later lookups
	// don't block on I/O.
	Preload(ctx context.Context, years []int)
}

// Custom is a Calendar backed by an explicit set of holiday dates plus
// optional always-holiday weekdays. It is useful for tests and for plans
// whose holiday rules don't follow the national calendar.
type Custom struct {
	dates    map[int64]bool
	weekdays map[time.Weekday]bool
}

// NewCustom returns a Custom calendar. Every date in holidays counts as a
// holiday, as does every date falling on one of the given weekdays.
func NewCustom(holidays []time.Time, weekdays ...time.Weekday) *Custom {
	c := &Custom{
		dates:    make(map[int64]bool, len(holidays)),
		weekdays: make(map[time.Weekday]bool, len(weekdays)),
	}
	for _, d := range holidays {
		c.dates[dateKey(d)] = true
	}
	for _, wd := range weekdays {
		c.weekdays[wd] = true
	}
	return c
}

// IsHoliday implements Calendar.
func (c *Custom) IsHoliday(_ context.Context, t time.Time) bool {
	if c.weekdays[t.Weekday()] {
		return true
	}
	return c.dates[dateKey(t)]
}

// IsHolidayBatch implements Calendar.
func (c *Custom) IsHolidayBatch(ctx context.Context, dates []time.Time) []bool {
	out := make([]bool, len(dates))
	for i, d := range dates {
		out[i] = c.IsHoliday(ctx, d)
	}
	return out
}

// Preload implements Calendar. It is a no-op since all data is in memory.
func (c *Custom) Preload(context.Context, []int) {}

// dateKey collapses a timestamp to a comparable calendar-date key in the
// timestamp's own location.
func dateKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}
