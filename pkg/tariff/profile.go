package tariff

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taipowertou/taipowertou/pkg/types"
)

// Profile holds one day-schedule per (season, day-type) pair plus the
// strategies that classify dates. It resolves timestamps to rate periods,
// either one at a time or in bulk through a precomputed lookup table.
//
// A Profile is safe for concurrent resolution once built; call EnsureBuilt
// eagerly if the first use may race.
type Profile struct {
	Name          string
	Seasons       SeasonStrategy
	Days          DayTypeStrategy
	Schedules     map[types.Season]map[types.DayType]types.DaySchedule
	DefaultPeriod types.RatePeriod

	buildOnce sync.Once
	buildErr  error
	table     *lookupTable
}

// lookupTable is the dense season × day-type × minute-of-day table of
// period codes backing batch resolution.
type lookupTable struct {
	seasonIdx map[types.Season]int
	dayIdx    map[types.DayType]int
	numDays   int
	periods   []types.RatePeriod
	codes     []uint8
}

// EnsureBuilt constructs the lookup table if it hasn't been built yet.
// Construction happens at most once per Profile.
func (p *Profile) EnsureBuilt() error {
	p.buildOnce.Do(func() {
		p.table, p.buildErr = p.buildTable()
	})
	return p.buildErr
}

// buildTable paints every schedule's slots into a dense minute table.
// Slots are painted in reverse declared order so that the first declared
// slot wins on overlap, matching scalar resolution. Unpainted minutes keep
// the default period.
func (p *Profile) buildTable() (*lookupTable, error) {
	seasons := p.Seasons.Seasons()
	days := p.Days.DayTypes()
	if len(seasons) == 0 {
		return nil, fmt.Errorf("profile %s: season strategy enumerates no seasons", p.Name)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("profile %s: day-type strategy enumerates no day types", p.Name)
	}

	t := &lookupTable{
		seasonIdx: make(map[types.Season]int, len(seasons)),
		dayIdx:    make(map[types.DayType]int, len(days)),
		numDays:   len(days),
		periods:   []types.RatePeriod{p.DefaultPeriod},
		codes:     make([]uint8, len(seasons)*len(days)*types.MinutesPerDay),
	}
	for i, s := range seasons {
		t.seasonIdx[s] = i
	}
	for i, d := range days {
		t.dayIdx[d] = i
	}

	codeOf := make(map[types.RatePeriod]uint8)
	codeOf[p.DefaultPeriod] = 0
	codeFor := func(period types.RatePeriod) (uint8, error) {
		if c, ok := codeOf[period]; ok {
			return c, nil
		}
		if len(t.periods) > 255 {
			return 0, fmt.Errorf("profile %s: too many distinct periods", p.Name)
		}
		c := uint8(len(t.periods))
		t.periods = append(t.periods, period)
		codeOf[period] = c
		return c, nil
	}

	for s, byDay := range p.Schedules {
		si, ok := t.seasonIdx[s]
		if !ok {
			return nil, fmt.Errorf("profile %s: schedule references unknown season %q", p.Name, s)
		}
		for d, sched := range byDay {
			di, ok := t.dayIdx[d]
			if !ok {
				return nil, fmt.Errorf("profile %s: schedule references unknown day type %q", p.Name, d)
			}
			base := (si*t.numDays + di) * types.MinutesPerDay
			for i := len(sched.Slots) - 1; i >= 0; i-- {
				slot := sched.Slots[i]
				code, err := codeFor(slot.Period)
				if err != nil {
					return nil, err
				}
				for _, iv := range slot.Intervals() {
					for m := iv[0]; m < iv[1]; m++ {
						t.codes[base+m] = code
					}
				}
			}
		}
	}
	return t, nil
}

// ResolveAt resolves a single timestamp to its (season, day-type, period)
// triple. It never fails: unconfigured combinations resolve to the default
// period.
func (p *Profile) ResolveAt(ctx context.Context, t time.Time) (types.Season, types.DayType, types.RatePeriod) {
	season := p.Seasons.SeasonOf(t)
	day := p.Days.DayTypeOf(ctx, t)
	sched, ok := p.Schedules[season][day]
	if !ok {
		return season, day, p.DefaultPeriod
	}
	return season, day, sched.Resolve(minuteOfDay(t), p.DefaultPeriod)
}

// PeriodAt resolves a single timestamp to its rate period.
func (p *Profile) PeriodAt(ctx context.Context, t time.Time) types.RatePeriod {
	_, _, period := p.ResolveAt(ctx, t)
	return period
}

// Context is the result of batch resolution: parallel slices aligned with
// the input timestamps.
type Context struct {
	Times    []time.Time
	Seasons  []types.Season
	DayTypes []types.DayType
	Periods  []types.RatePeriod
}

// Len returns the number of rows.
func (c *Context) Len() int {
	return len(c.Times)
}

// Evaluate resolves a batch of timestamps. Season and day-type are computed
// once per distinct calendar date and broadcast back to the timestamps, so
// strategy (and calendar) work scales with distinct days rather than rows.
// Input order and duplicates are preserved.
func (p *Profile) Evaluate(ctx context.Context, times []time.Time) (*Context, error) {
	if err := p.EnsureBuilt(); err != nil {
		return nil, err
	}

	// deduplicate by calendar date
	dateIdx := make(map[int64]int)
	var dates []time.Time
	rowDate := make([]int, len(times))
	yearSet := make(map[int]bool)
	for i, ts := range times {
		y, m, d := ts.Date()
		key := int64(y)*10000 + int64(m)*100 + int64(d)
		j, ok := dateIdx[key]
		if !ok {
			j = len(dates)
			dateIdx[key] = j
			dates = append(dates, time.Date(y, m, d, 0, 0, 0, 0, ts.Location()))
			yearSet[y] = true
		}
		rowDate[i] = j
	}

	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)
	p.Days.Preload(ctx, years)

	dateSeasons := make([]types.Season, len(dates))
	for i, d := range dates {
		dateSeasons[i] = p.Seasons.SeasonOf(d)
	}
	dateDays := p.Days.DayTypeBatch(ctx, dates)

	out := &Context{
		Times:    times,
		Seasons:  make([]types.Season, len(times)),
		DayTypes: make([]types.DayType, len(times)),
		Periods:  make([]types.RatePeriod, len(times)),
	}
	for i, ts := range times {
		season := dateSeasons[rowDate[i]]
		day := dateDays[rowDate[i]]
		out.Seasons[i] = season
		out.DayTypes[i] = day

		si, okS := p.table.seasonIdx[season]
		di, okD := p.table.dayIdx[day]
		if !okS || !okD {
			out.Periods[i] = p.DefaultPeriod
			continue
		}
		code := p.table.codes[(si*p.table.numDays+di)*types.MinutesPerDay+minuteOfDay(ts)]
		out.Periods[i] = p.table.periods[code]
	}
	return out, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// SlotDescription is a single slot in a profile description.
type SlotDescription struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Period string `json:"period"`
}

// ScheduleDescription is the slot list for one (season, day-type) pair.
type ScheduleDescription struct {
	Season  string            `json:"season"`
	DayType string            `json:"day_type"`
	Slots   []SlotDescription `json:"slots"`
}

// ProfileDescription is the serializable summary returned by Describe.
type ProfileDescription struct {
	Name          string                `json:"name"`
	DefaultPeriod string                `json:"default_period"`
	Schedules     []ScheduleDescription `json:"schedules"`
}

// Describe returns a serializable summary of the profile with schedules
// sorted by (season, day-type).
func (p *Profile) Describe() ProfileDescription {
	desc := ProfileDescription{
		Name:          p.Name,
		DefaultPeriod: string(p.DefaultPeriod),
	}
	for s, byDay := range p.Schedules {
		for d, sched := range byDay {
			sd := ScheduleDescription{
				Season:  string(s),
				DayType: string(d),
			}
			for _, slot := range sched.Slots {
				sd.Slots = append(sd.Slots, SlotDescription{
					Start:  types.FormatClock(slot.Start),
					End:    types.FormatClock(slot.End),
					Period: string(slot.Period),
				})
			}
			desc.Schedules = append(desc.Schedules, sd)
		}
	}
	sort.Slice(desc.Schedules, func(i, j int) bool {
		a, b := desc.Schedules[i], desc.Schedules[j]
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		return a.DayType < b.DayType
	})
	return desc
}
