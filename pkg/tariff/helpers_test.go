package tariff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taipowertou/taipowertou/pkg/calendar"
	"github.com/taipowertou/taipowertou/pkg/types"
)

// testCalendar treats Sundays as the only holidays, keeping tests off the
// network.
func testCalendar() *calendar.Custom {
	return calendar.NewCustom(nil, time.Sunday)
}

func mustSlot(t *testing.T, start, end string, period types.RatePeriod) types.TimeSlot {
	t.Helper()
	slot, err := types.NewTimeSlot(start, end, period)
	require.NoError(t, err)
	return slot
}

// touProfile mirrors the residential simple 2-tier TOU schedule: summer
// weekdays peak from 09:00, non-summer weekdays peak 06:00-11:00 and
// 14:00-24:00, weekends and holidays fully off-peak.
func touProfile(t *testing.T, cal calendar.Calendar) *Profile {
	t.Helper()
	if cal == nil {
		cal = testCalendar()
	}
	offAllDay := types.DaySchedule{Slots: []types.TimeSlot{
		mustSlot(t, "00:00", "24:00", types.PeriodOffPeak),
	}}
	return &Profile{
		Name:    "residential_simple_2_tier",
		Seasons: TaipowerSeasons(),
		Days:    NewTaipowerDays(cal),
		Schedules: map[types.Season]map[types.DayType]types.DaySchedule{
			types.SeasonSummer: {
				types.DayTypeWeekday: {Slots: []types.TimeSlot{
					mustSlot(t, "09:00", "24:00", types.PeriodPeak),
					mustSlot(t, "00:00", "09:00", types.PeriodOffPeak),
				}},
				types.DayTypeSaturday:      offAllDay,
				types.DayTypeSundayHoliday: offAllDay,
			},
			types.SeasonNonSummer: {
				types.DayTypeWeekday: {Slots: []types.TimeSlot{
					mustSlot(t, "06:00", "11:00", types.PeriodPeak),
					mustSlot(t, "14:00", "24:00", types.PeriodPeak),
					mustSlot(t, "00:00", "06:00", types.PeriodOffPeak),
					mustSlot(t, "11:00", "14:00", types.PeriodOffPeak),
				}},
				types.DayTypeSaturday:      offAllDay,
				types.DayTypeSundayHoliday: offAllDay,
			},
		},
		DefaultPeriod: types.PeriodOffPeak,
	}
}

func touRate() *types.TariffRate {
	return &types.TariffRate{
		PeriodCosts: map[types.RateKey]float64{
			{Season: types.SeasonSummer, Period: types.PeriodPeak}:       5.16,
			{Season: types.SeasonSummer, Period: types.PeriodOffPeak}:    2.06,
			{Season: types.SeasonNonSummer, Period: types.PeriodPeak}:    4.93,
			{Season: types.SeasonNonSummer, Period: types.PeriodOffPeak}: 1.99,
		},
	}
}

func tieredRate() *types.TariffRate {
	return &types.TariffRate{
		Tiers: []types.ConsumptionTier{
			{StartKWH: 0, EndKWH: 120, SummerCost: 1.88, NonSummerCost: 1.78},
			{StartKWH: 120, EndKWH: math.Inf(1), SummerCost: 2.45, NonSummerCost: 2.26},
		},
	}
}

func hourlyUsage(start time.Time, hours int, kwh float64) types.UsageSeries {
	s := make(types.UsageSeries, hours)
	for i := range s {
		s[i] = types.UsagePoint{TS: start.Add(time.Duration(i) * time.Hour), KWH: kwh}
	}
	return s
}

// countingCalendar wraps a calendar and records how batch resolution uses
// it, so tests can assert calendar work scales with distinct days.
type countingCalendar struct {
	inner        calendar.Calendar
	batchCalls   int
	batchDates   int
	scalarCalls  int
	preloadYears []int
}

func (c *countingCalendar) IsHoliday(ctx context.Context, t time.Time) bool {
	c.scalarCalls++
	return c.inner.IsHoliday(ctx, t)
}

func (c *countingCalendar) IsHolidayBatch(ctx context.Context, dates []time.Time) []bool {
	c.batchCalls++
	c.batchDates += len(dates)
	return c.inner.IsHolidayBatch(ctx, dates)
}

func (c *countingCalendar) Preload(_ context.Context, years []int) {
	c.preloadYears = append(c.preloadYears, years...)
}
