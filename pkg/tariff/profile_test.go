package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taipowertou/taipowertou/pkg/types"
)

func TestProfileScalarResolution(t *testing.T) {
	ctx := context.Background()
	p := touProfile(t, nil)

	// summer weekday boundaries, inclusive start / exclusive end
	season, dayType, period := p.ResolveAt(ctx, time.Date(2025, 7, 7, 8, 59, 0, 0, time.UTC))
	assert.Equal(t, types.SeasonSummer, season)
	assert.Equal(t, types.DayTypeWeekday, dayType)
	assert.Equal(t, types.PeriodOffPeak, period)

	assert.Equal(t, types.PeriodPeak, p.PeriodAt(ctx, time.Date(2025, 7, 7, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, types.PeriodPeak, p.PeriodAt(ctx, time.Date(2025, 7, 7, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, types.PeriodOffPeak, p.PeriodAt(ctx, time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC)))

	// weekends are off-peak all day
	assert.Equal(t, types.PeriodOffPeak, p.PeriodAt(ctx, time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, types.PeriodOffPeak, p.PeriodAt(ctx, time.Date(2025, 7, 6, 12, 0, 0, 0, time.UTC)))

	// non-summer weekday has a midday off-peak valley
	assert.Equal(t, types.PeriodPeak, p.PeriodAt(ctx, time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, types.PeriodOffPeak, p.PeriodAt(ctx, time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, types.PeriodPeak, p.PeriodAt(ctx, time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC)))
}

func TestProfileDefaultForUnconfiguredPair(t *testing.T) {
	ctx := context.Background()
	p := touProfile(t, nil)
	// drop the saturday schedules entirely
	delete(p.Schedules[types.SeasonSummer], types.DayTypeSaturday)
	delete(p.Schedules[types.SeasonNonSummer], types.DayTypeSaturday)

	assert.Equal(t, types.PeriodOffPeak, p.PeriodAt(ctx, time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)))

	evalCtx, err := p.Evaluate(ctx, []time.Time{time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, types.PeriodOffPeak, evalCtx.Periods[0])
}

func TestProfileBatchScalarEquivalence(t *testing.T) {
	ctx := context.Background()
	p := touProfile(t, nil)

	// sweep every minute of one summer weekday, one non-summer weekday,
	// a saturday and a sunday
	var times []time.Time
	for _, base := range []time.Time{
		time.Date(2025, 7, 7, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 6, 0, 0, 0, 0, time.UTC),
	} {
		for m := 0; m < types.MinutesPerDay; m += 7 {
			times = append(times, base.Add(time.Duration(m)*time.Minute))
		}
	}

	evalCtx, err := p.Evaluate(ctx, times)
	require.NoError(t, err)
	require.Equal(t, len(times), evalCtx.Len())

	for i, ts := range times {
		season, dayType, period := p.ResolveAt(ctx, ts)
		require.Equal(t, season, evalCtx.Seasons[i], ts)
		require.Equal(t, dayType, evalCtx.DayTypes[i], ts)
		require.Equal(t, period, evalCtx.Periods[i], ts)
	}
}

func TestProfileFirstMatchWinsOverlap(t *testing.T) {
	ctx := context.Background()
	p := touProfile(t, nil)
	// overlapping slots: the earlier declared slot must win in both the
	// scalar scan and the painted table
	p.Schedules[types.SeasonSummer][types.DayTypeWeekday] = types.DaySchedule{Slots: []types.TimeSlot{
		mustSlot(t, "08:00", "12:00", types.PeriodSemiPeak),
		mustSlot(t, "09:00", "24:00", types.PeriodPeak),
	}}

	at := time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, types.PeriodSemiPeak, p.PeriodAt(ctx, at))

	evalCtx, err := p.Evaluate(ctx, []time.Time{at})
	require.NoError(t, err)
	assert.Equal(t, types.PeriodSemiPeak, evalCtx.Periods[0])
}

func TestProfileWrappingSlot(t *testing.T) {
	ctx := context.Background()
	p := touProfile(t, nil)
	p.Schedules[types.SeasonSummer][types.DayTypeWeekday] = types.DaySchedule{Slots: []types.TimeSlot{
		mustSlot(t, "22:00", "06:00", types.PeriodOffPeak),
		mustSlot(t, "06:00", "22:00", types.PeriodPeak),
	}}

	tests := []struct {
		at   time.Time
		want types.RatePeriod
	}{
		{time.Date(2025, 7, 7, 23, 0, 0, 0, time.UTC), types.PeriodOffPeak},
		{time.Date(2025, 7, 7, 5, 59, 0, 0, time.UTC), types.PeriodOffPeak},
		{time.Date(2025, 7, 7, 6, 0, 0, 0, time.UTC), types.PeriodPeak},
		{time.Date(2025, 7, 7, 21, 59, 0, 0, time.UTC), types.PeriodPeak},
		{time.Date(2025, 7, 7, 22, 0, 0, 0, time.UTC), types.PeriodOffPeak},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.PeriodAt(ctx, tt.at), tt.at)
		evalCtx, err := p.Evaluate(ctx, []time.Time{tt.at})
		require.NoError(t, err)
		assert.Equal(t, tt.want, evalCtx.Periods[0], tt.at)
	}
}

func TestProfileBatchDedupesByDate(t *testing.T) {
	ctx := context.Background()
	cc := &countingCalendar{inner: testCalendar()}
	p := touProfile(t, cc)

	// 96 intraday points across only 2 distinct days
	times := make([]time.Time, 0, 96)
	for _, d := range []time.Time{
		time.Date(2025, 7, 7, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC),
	} {
		for i := 0; i < 48; i++ {
			times = append(times, d.Add(time.Duration(i)*30*time.Minute))
		}
	}

	_, err := p.Evaluate(ctx, times)
	require.NoError(t, err)

	assert.Equal(t, 1, cc.batchCalls, "one batched holiday call")
	assert.Equal(t, 2, cc.batchDates, "holiday resolution scales with distinct days")
	assert.Zero(t, cc.scalarCalls)
	assert.Equal(t, []int{2025}, cc.preloadYears)
}

func TestProfileBuildFailsWithoutDayTypes(t *testing.T) {
	p := touProfile(t, nil)
	p.Days = emptyDays{}
	assert.Error(t, p.EnsureBuilt())
}

type emptyDays struct{}

func (emptyDays) DayTypeOf(context.Context, time.Time) types.DayType { return "" }
func (emptyDays) DayTypeBatch(_ context.Context, d []time.Time) []types.DayType {
	return make([]types.DayType, len(d))
}
func (emptyDays) DayTypes() []types.DayType      { return nil }
func (emptyDays) Preload(context.Context, []int) {}

func TestProfileDescribe(t *testing.T) {
	p := touProfile(t, nil)
	desc := p.Describe()
	assert.Equal(t, "residential_simple_2_tier", desc.Name)
	assert.Equal(t, "off_peak", desc.DefaultPeriod)
	require.Len(t, desc.Schedules, 6)
	// sorted by (season, day type)
	assert.Equal(t, "non_summer", desc.Schedules[0].Season)
	assert.Equal(t, "saturday", desc.Schedules[0].DayType)
	assert.Equal(t, "summer", desc.Schedules[5].Season)
	assert.Equal(t, "weekday", desc.Schedules[5].DayType)
	assert.Equal(t, "09:00", desc.Schedules[5].Slots[0].Start)
}
