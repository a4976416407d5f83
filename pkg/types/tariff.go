package types

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Season identifies the tariff season a calendar date falls in.
type Season string

const (
	SeasonSummer    Season = "summer"
	SeasonNonSummer Season = "non_summer"
)

// RatePeriod labels a time-of-use rate period. The built-in Taipower
// periods are below, but schedules may carry arbitrary labels.
type RatePeriod string

const (
	PeriodPeak     RatePeriod = "peak"
	PeriodSemiPeak RatePeriod = "semi_peak"
	PeriodOffPeak  RatePeriod = "off_peak"
)

// DayType labels the day classification used to pick a day schedule.
type DayType string

const (
	DayTypeWeekday       DayType = "weekday"
	DayTypeSaturday      DayType = "saturday"
	DayTypeSundayHoliday DayType = "sunday_holiday"
)

// MinutesPerDay is the resolution of day schedules and the engine's
// lookup table.
const MinutesPerDay = 24 * 60

// ParseClock parses a "HH:MM" wall-clock string into a minute of day.
// "24:00" is accepted and returns MinutesPerDay so that slots ending at
// midnight stay non-wrapping.
func ParseClock(value string) (int, error) {
	hourStr, minuteStr, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM", value)
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	if hour == 24 && minute == 0 {
		return MinutesPerDay, nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock time %q", value)
	}
	return hour*60 + minute, nil
}

// FormatClock renders a minute of day back to "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// TimeSlot is a time-of-day range tagged with a rate period. Start and
// End are minutes of day with inclusive start and exclusive end. A slot
// whose Start is after its End wraps past midnight; a slot with
// Start == End covers the full day.
type TimeSlot struct {
	Start  int
	End    int
	Period RatePeriod
}

// NewTimeSlot builds a TimeSlot from "HH:MM" strings.
func NewTimeSlot(start, end string, period RatePeriod) (TimeSlot, error) {
	startMin, err := ParseClock(start)
	if err != nil {
		return TimeSlot{}, err
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return TimeSlot{}, err
	}
	// a 24:00 start is the same instant as 00:00
	if startMin == MinutesPerDay {
		startMin = 0
	}
	return TimeSlot{Start: startMin, End: endMin, Period: period}, nil
}

// Intervals returns the half-open [start, end) minute intervals this
// slot covers. Wrapping slots produce two intervals; both the scalar
// and the batch lookup paths share this one representation.
func (s TimeSlot) Intervals() [][2]int {
	if s.Start == s.End {
		return [][2]int{{0, MinutesPerDay}}
	}
	if s.Start < s.End {
		return [][2]int{{s.Start, s.End}}
	}
	return [][2]int{{s.Start, MinutesPerDay}, {0, s.End}}
}

// Contains reports whether the given minute of day falls in the slot.
func (s TimeSlot) Contains(minute int) bool {
	for _, iv := range s.Intervals() {
		if minute >= iv[0] && minute < iv[1] {
			return true
		}
	}
	return false
}

// DaySchedule is the ordered slot list for one (season, day type)
// pair. Slots may overlap; lookup is first-match-wins in declared
// order.
type DaySchedule struct {
	Slots []TimeSlot
}

// Resolve returns the period for the given minute of day, or the
// provided fallback when no slot matches.
func (d DaySchedule) Resolve(minute int, fallback RatePeriod) RatePeriod {
	for _, slot := range d.Slots {
		if slot.Contains(minute) {
			return slot.Period
		}
	}
	return fallback
}

// ConsumptionTier is one cumulative consumption bracket of a tiered
// (non-TOU) rate. EndKWH of +Inf means the tier has no upper limit.
// Brackets apply to the billing period's total usage, not to single
// readings.
type ConsumptionTier struct {
	StartKWH      float64
	EndKWH        float64
	SummerCost    float64
	NonSummerCost float64
}

// Unbounded reports whether the tier has no upper limit.
func (c ConsumptionTier) Unbounded() bool {
	return math.IsInf(c.EndKWH, 1)
}

// CostFor returns the tier's per-kWh cost for the given season.
func (c ConsumptionTier) CostFor(season Season) float64 {
	if season == SeasonSummer {
		return c.SummerCost
	}
	return c.NonSummerCost
}

// RateKey addresses one unit cost in a TOU rate table.
type RateKey struct {
	Season Season
	Period RatePeriod
}

// TariffRate holds the prices of a plan: either a (season, period)
// unit-cost table for TOU plans or a consumption tier ladder for
// tiered plans. Built-in plans never populate both.
type TariffRate struct {
	PeriodCosts map[RateKey]float64
	Tiers       []ConsumptionTier
}

// Tiered reports whether the rate prices usage through consumption
// tiers.
func (r *TariffRate) Tiered() bool {
	return len(r.Tiers) > 0
}

// Structure names the rate's pricing structure.
func (r *TariffRate) Structure() string {
	switch {
	case len(r.PeriodCosts) > 0 && len(r.Tiers) > 0:
		return "mixed"
	case len(r.Tiers) > 0:
		return "tiered"
	case len(r.PeriodCosts) > 0:
		return "tou"
	}
	return "unknown"
}

// Cost looks up the unit cost for a (season, period) pair. The second
// return reports whether the table has an entry; callers decide
// whether a missing entry means "free period" (zero) or a
// configuration error.
func (r *TariffRate) Cost(season Season, period RatePeriod) (float64, bool) {
	cost, ok := r.PeriodCosts[RateKey{Season: season, Period: period}]
	return cost, ok
}

// TieredCost runs the progressive bracket walk over the tier ladder
// for a billing period's total usage. Finite tier limits are scaled by
// tierMultiplier (2 for bimonthly cycles, 1 otherwise). Usage exactly
// at a tier boundary is charged at the lower tier's rate.
func (r *TariffRate) TieredCost(totalKWH float64, season Season, tierMultiplier float64) float64 {
	if totalKWH <= 0 {
		return 0
	}
	tiers := make([]ConsumptionTier, len(r.Tiers))
	copy(tiers, r.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].StartKWH < tiers[j].StartKWH })

	remaining := totalKWH
	lastLimit := 0.0
	total := 0.0
	for _, tier := range tiers {
		if remaining <= 0 {
			break
		}
		end := tier.EndKWH
		if !tier.Unbounded() {
			end *= tierMultiplier
		}
		width := end - lastLimit
		used := math.Min(remaining, width)
		total += used * tier.CostFor(season)
		remaining -= used
		lastLimit = end
	}
	return total
}

// RateEntryDescription is one row of a described TOU cost table.
type RateEntryDescription struct {
	Season Season     `json:"season"`
	Period RatePeriod `json:"period"`
	Cost   float64    `json:"cost"`
}

// TierDescription is one row of a described tier ladder. EndKWH is
// null for the unbounded tier.
type TierDescription struct {
	StartKWH      float64  `json:"startKWH"`
	EndKWH        *float64 `json:"endKWH"`
	SummerCost    float64  `json:"summerCost"`
	NonSummerCost float64  `json:"nonSummerCost"`
}

// RateDescription is the serializable form of a TariffRate.
type RateDescription struct {
	Structure   string                 `json:"structure"`
	PeriodCosts []RateEntryDescription `json:"periodCosts,omitempty"`
	Tiers       []TierDescription      `json:"tiers,omitempty"`
}

// Describe returns a stable, serializable view of the rate.
func (r *TariffRate) Describe() RateDescription {
	desc := RateDescription{Structure: r.Structure()}
	for key, cost := range r.PeriodCosts {
		desc.PeriodCosts = append(desc.PeriodCosts, RateEntryDescription{
			Season: key.Season,
			Period: key.Period,
			Cost:   cost,
		})
	}
	sort.Slice(desc.PeriodCosts, func(i, j int) bool {
		a, b := desc.PeriodCosts[i], desc.PeriodCosts[j]
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		return a.Period < b.Period
	})
	for _, tier := range r.Tiers {
		row := TierDescription{
			StartKWH:      tier.StartKWH,
			SummerCost:    tier.SummerCost,
			NonSummerCost: tier.NonSummerCost,
		}
		if !tier.Unbounded() {
			end := tier.EndKWH
			row.EndKWH = &end
		}
		desc.Tiers = append(desc.Tiers, row)
	}
	return desc
}
