package tariff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taipowertou/taipowertou/pkg/types"
)

func TestPlanTOUCosts(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), touRate(), types.CycleMonthly)

	usage := types.UsageSeries{
		{TS: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC), KWH: 3}, // non-summer peak 4.93
		{TS: time.Date(2025, 7, 7, 8, 0, 0, 0, time.UTC), KWH: 2},  // summer off-peak 2.06
		{TS: time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), KWH: 2}, // summer peak 5.16
	}

	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 2)

	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.January}, costs[0].Period)
	assert.InDelta(t, 3*4.93, costs[0].Cost, 1e-9)
	assert.InDelta(t, 3, costs[0].KWH, 1e-9)

	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.July}, costs[1].Period)
	assert.InDelta(t, 2*2.06+2*5.16, costs[1].Cost, 1e-9)
}

func TestPlanTOUGroupsByMonthRegardlessOfCycle(t *testing.T) {
	ctx := context.Background()
	// a TOU plan configured bimonthly still bills per calendar month
	plan := New(touProfile(t, nil), touRate(), types.CycleOddMonth)

	usage := types.UsageSeries{
		{TS: time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC), KWH: 1},
		{TS: time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC), KWH: 1},
	}
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 2)
	assert.Equal(t, types.BillingPeriod{Year: 2024, Month: time.December}, costs[0].Period)
	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.January}, costs[1].Period)
}

func TestPlanTieredMonthly(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleMonthly)

	// 300 kWh across March at 12.5 kWh per point
	usage := hourlyUsage(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 24, 12.5)
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 1)

	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.March}, costs[0].Period)
	assert.InDelta(t, 300, costs[0].KWH, 1e-9)
	assert.InDelta(t, 620.4, costs[0].Cost, 1e-6)
}

func TestPlanTieredOddMonthDoublesAndCrossesYear(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleOddMonth)

	// 150 kWh in December 2024 plus 100 kWh in January 2025 bill as one
	// 250 kWh period anchored at January 2025, against doubled tiers
	usage := append(
		hourlyUsage(time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), 15, 10),
		hourlyUsage(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 10, 10)...,
	)
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 1)

	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.January}, costs[0].Period)
	assert.InDelta(t, 250, costs[0].KWH, 1e-9)
	assert.InDelta(t, 449.8, costs[0].Cost, 1e-6)
}

func TestPlanTieredEvenMonthKeepsDecemberAndJanuaryApart(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleEvenMonth)

	usage := types.UsageSeries{
		{TS: time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC), KWH: 50},
		{TS: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), KWH: 50},
	}
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 2)
	assert.Equal(t, types.BillingPeriod{Year: 2024, Month: time.December}, costs[0].Period)
	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.February}, costs[1].Period)
	// doubled boundary at 240 keeps each 50 kWh period in the first tier
	assert.InDelta(t, 50*1.78, costs[0].Cost, 1e-9)
}

func TestPlanTieredSeasonMode(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleEvenMonth)

	// the May+June period straddles the season boundary; the rate column
	// follows whichever season has more timestamps, not more usage
	usage := types.UsageSeries{
		{TS: time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC), KWH: 200},
		{TS: time.Date(2025, 5, 21, 10, 0, 0, 0, time.UTC), KWH: 40},
		{TS: time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC), KWH: 5},
		{TS: time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC), KWH: 2},
		{TS: time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC), KWH: 3},
	}
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 1)

	// 3 summer points beat 2 non-summer points even though almost all of
	// the 250 kWh was non-summer usage
	assert.InDelta(t, 240*1.88+10*2.45, costs[0].Cost, 1e-6)
}

func TestPlanTieredZeroUsagePeriod(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleMonthly)

	usage := types.UsageSeries{
		{TS: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), KWH: 0},
		{TS: time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC), KWH: 0},
	}
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.Zero(t, costs[0].Cost)
}

func TestPlanRejectsInvalidUsage(t *testing.T) {
	ctx := context.Background()
	plans := map[string]*Plan{
		"tou":    New(touProfile(t, nil), touRate(), types.CycleMonthly),
		"tiered": New(touProfile(t, nil), tieredRate(), types.CycleOddMonth),
	}

	for name, plan := range plans {
		bad := []types.UsageSeries{
			{{TS: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), KWH: math.NaN()}},
			{{TS: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), KWH: -1}},
			{{TS: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), KWH: math.Inf(1)}},
			{
				{TS: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), KWH: 1},
				{TS: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), KWH: 1},
			},
		}
		for _, usage := range bad {
			_, err := plan.CalculateCosts(ctx, usage)
			assert.ErrorIs(t, err, types.ErrInvalidUsage, name)

			_, err = plan.MonthlyBreakdown(ctx, usage, false)
			assert.ErrorIs(t, err, types.ErrInvalidUsage, name)
		}
	}
}

func TestPlanIdempotent(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleOddMonth)
	usage := hourlyUsage(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), 48, 3.5)

	first, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	second, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanPricingAtTOU(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), touRate(), types.CycleMonthly)

	p, err := plan.PricingAt(ctx, time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, types.SeasonSummer, p.Season)
	assert.Equal(t, types.PeriodPeak, p.Period)
	require.NotNil(t, p.Rate)
	assert.Equal(t, 5.16, *p.Rate)
	assert.Nil(t, p.Cost)

	kwh := 2.0
	p, err = plan.PricingAt(ctx, time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), &kwh)
	require.NoError(t, err)
	require.NotNil(t, p.Cost)
	assert.InDelta(t, 10.32, *p.Cost, 1e-9)
}

func TestPlanPricingAtTiered(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleMonthly)

	p, err := plan.PricingAt(ctx, time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, types.SeasonSummer, p.Season)
	assert.Nil(t, p.Rate, "tiered plans have no instantaneous rate")
	assert.Nil(t, p.Cost)

	kwh := 2.0
	_, err = plan.PricingAt(ctx, time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), &kwh)
	assert.ErrorIs(t, err, ErrTieredPointwise)
}

func TestPlanPricingTable(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), touRate(), types.CycleMonthly)

	times := []time.Time{
		time.Date(2025, 7, 7, 8, 59, 0, 0, time.UTC),
		time.Date(2025, 7, 7, 9, 0, 0, 0, time.UTC),
	}
	rows, err := plan.PricingTable(ctx, times, []float64{1, 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, types.PeriodOffPeak, rows[0].Period)
	assert.InDelta(t, 2.06, *rows[0].Cost, 1e-9)
	assert.Equal(t, types.PeriodPeak, rows[1].Period)
	assert.InDelta(t, 10.32, *rows[1].Cost, 1e-9)

	// mismatched usage length is rejected
	_, err = plan.PricingTable(ctx, times, []float64{1})
	assert.ErrorIs(t, err, types.ErrInvalidUsage)

	// tiered table form rejects usage too
	tiered := New(touProfile(t, nil), tieredRate(), types.CycleMonthly)
	_, err = tiered.PricingTable(ctx, times, []float64{1, 2})
	assert.ErrorIs(t, err, ErrTieredPointwise)

	rows, err = tiered.PricingTable(ctx, times, nil)
	require.NoError(t, err)
	assert.Nil(t, rows[0].Rate)
	assert.Nil(t, rows[0].Cost)
}

func TestPlanStrictRates(t *testing.T) {
	ctx := context.Background()
	rate := &types.TariffRate{
		PeriodCosts: map[types.RateKey]float64{
			{Season: types.SeasonSummer, Period: types.PeriodPeak}: 5.16,
		},
	}
	usage := types.UsageSeries{
		{TS: time.Date(2025, 7, 7, 8, 0, 0, 0, time.UTC), KWH: 2}, // off-peak, unpriced
		{TS: time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), KWH: 2},
	}

	// by default a missing (season, period) combination is free
	plan := New(touProfile(t, nil), rate, types.CycleMonthly)
	costs, err := plan.CalculateCosts(ctx, usage)
	require.NoError(t, err)
	assert.InDelta(t, 2*5.16, costs[0].Cost, 1e-9)

	plan.StrictRates = true
	_, err = plan.CalculateCosts(ctx, usage)
	assert.ErrorIs(t, err, ErrMissingRate)

	_, err = plan.PricingAt(ctx, usage[0].TS, nil)
	assert.ErrorIs(t, err, ErrMissingRate)
}

func TestPlanMonthlyBreakdownTOU(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), touRate(), types.CycleMonthly)

	usage := types.UsageSeries{
		{TS: time.Date(2025, 7, 7, 8, 0, 0, 0, time.UTC), KWH: 2},  // off-peak 2.06
		{TS: time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC), KWH: 2}, // peak 5.16
	}
	rows, err := plan.MonthlyBreakdown(ctx, usage, true)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// first-encountered order
	assert.Equal(t, types.PeriodOffPeak, rows[0].Period)
	assert.Equal(t, types.SeasonSummer, rows[0].Season)
	assert.InDelta(t, 4.12, rows[0].Cost, 1e-9)
	assert.InDelta(t, 0.5, rows[0].UsageShare, 1e-9)
	assert.InDelta(t, 4.12/14.44, rows[0].CostShare, 1e-9)

	assert.Equal(t, types.PeriodPeak, rows[1].Period)
	assert.InDelta(t, 10.32, rows[1].Cost, 1e-9)
	assert.InDelta(t, 10.32/14.44, rows[1].CostShare, 1e-9)

	// shares within the month sum to one
	assert.InDelta(t, 1.0, rows[0].UsageShare+rows[1].UsageShare, 1e-9)
	assert.InDelta(t, 1.0, rows[0].CostShare+rows[1].CostShare, 1e-9)
}

func TestPlanMonthlyBreakdownTiered(t *testing.T) {
	ctx := context.Background()
	plan := New(touProfile(t, nil), tieredRate(), types.CycleOddMonth)

	usage := append(
		hourlyUsage(time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), 15, 10),
		hourlyUsage(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 10, 10)...,
	)
	rows, err := plan.MonthlyBreakdown(ctx, usage, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, types.BillingPeriod{Year: 2025, Month: time.January}, rows[0].Month)
	assert.Equal(t, TieredPeriodLabel, rows[0].Period)
	assert.Equal(t, types.SeasonNonSummer, rows[0].Season)
	assert.InDelta(t, 250, rows[0].KWH, 1e-9)
	assert.InDelta(t, 449.8, rows[0].Cost, 1e-6)
	assert.Equal(t, 1.0, rows[0].UsageShare)
	assert.Equal(t, 1.0, rows[0].CostShare)
}

func TestPlanDescribe(t *testing.T) {
	plan := New(touProfile(t, nil), touRate(), types.CycleMonthly)
	desc := plan.Describe()
	assert.Equal(t, "residential_simple_2_tier", desc.Profile.Name)
	assert.Equal(t, "tou", desc.Rates.Structure)
	assert.Equal(t, "monthly", desc.BillingCycle)
	assert.Equal(t, "residential_simple_2_tier", plan.Name())
}
