package plans

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipowertou/taipowertou/pkg/calendar"
	"github.com/taipowertou/taipowertou/pkg/types"
)

func newTestFactory() *Factory {
	return NewFactory(NewStore(), calendar.NewCustom(nil, time.Sunday))
}

func TestStoreLoadsEmbeddedPlans(t *testing.T) {
	s := NewStore()
	ids, err := s.IDs()
	require.NoError(t, err)
	assert.NotEmpty(t, ids)

	data, err := s.Plan("residential_simple_2_tier")
	require.NoError(t, err)
	assert.Equal(t, "residential_simple_2_tier", data.ID)
	assert.NotEmpty(t, data.Schedules)
	assert.NotEmpty(t, data.Rates)
	assert.Empty(t, data.Tiers)

	defs, err := s.Definitions()
	require.NoError(t, err)
	assert.NotEmpty(t, defs.Seasons)
	assert.Contains(t, defs.MinimumUsageRules, "lighting")
}

func TestStoreUnknownPlan(t *testing.T) {
	_, err := NewStore().Plan("nope")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestFactoryBuildsTieredPlan(t *testing.T) {
	f := newTestFactory()
	p, err := f.PlanWithCycle("residential_non_tou", types.CycleMonthly)
	require.NoError(t, err)
	require.True(t, p.Rate.Tiered())
	assert.Equal(t, types.CycleMonthly, p.Cycle)

	// 300 kWh across a non-summer month walks the first two tiers:
	// 120*1.78 + 180*2.26 = 620.40.
	var usage types.UsageSeries
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24; i++ {
		usage = append(usage, types.UsagePoint{TS: start.Add(time.Duration(i) * time.Hour), KWH: 12.5})
	}
	costs, err := p.CalculateCosts(context.Background(), usage)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.InDelta(t, 300, costs[0].KWH, 1e-9)
	assert.InDelta(t, 620.40, costs[0].Cost, 1e-9)
}

func TestFactoryHonorsDeclaredCycle(t *testing.T) {
	f := newTestFactory()
	p, err := f.Plan("residential_non_tou")
	require.NoError(t, err)
	assert.Equal(t, types.CycleEvenMonth, p.Cycle)

	// 250 kWh in a bimonthly period doubles the 120 kWh bracket:
	// 240*1.78 + 10*2.26 = 449.80.
	var usage types.UsageSeries
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		usage = append(usage, types.UsagePoint{TS: start.Add(time.Duration(i) * time.Hour), KWH: 10})
	}
	costs, err := p.CalculateCosts(context.Background(), usage)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	assert.InDelta(t, 449.80, costs[0].Cost, 1e-9)
}

func TestFactoryBuildsTOUPlan(t *testing.T) {
	f := newTestFactory()
	p, err := f.Plan("residential_simple_2_tier")
	require.NoError(t, err)
	require.False(t, p.Rate.Tiered())

	ctx := context.Background()
	// Wednesday in July, 10:00 is summer peak.
	pr, err := p.PricingAt(ctx, time.Date(2024, 7, 10, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, types.SeasonSummer, pr.Season)
	require.NotNil(t, pr.Rate)
	assert.InDelta(t, 5.16, *pr.Rate, 1e-9)

	// Same clock time on a Sunday is off-peak.
	pr, err = p.PricingAt(ctx, time.Date(2024, 7, 14, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.NotNil(t, pr.Rate)
	assert.InDelta(t, 2.06, *pr.Rate, 1e-9)
}

func TestFactoryThreeStageSaturdayPeriod(t *testing.T) {
	f := newTestFactory()
	p, err := f.Plan("high_voltage_three_stage")
	require.NoError(t, err)

	// Saturday afternoon in July resolves to the Saturday semi-peak rate.
	pr, err := p.PricingAt(context.Background(), time.Date(2024, 7, 13, 14, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, types.RatePeriod("saturday_semi_peak"), pr.Period)
	require.NotNil(t, pr.Rate)
	assert.InDelta(t, 2.44, *pr.Rate, 1e-9)
}

func TestFactoryUnknownPlan(t *testing.T) {
	_, err := newTestFactory().Plan("nope")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestSeasonStrategyFromDefinitions(t *testing.T) {
	w, err := newTestFactory().SeasonStrategy()
	require.NoError(t, err)
	assert.Equal(t, types.SeasonSummer, w.SeasonOf(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, types.SeasonNonSummer, w.SeasonOf(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)))
}

func TestResolvePlanID(t *testing.T) {
	s := NewStore()
	tests := []struct {
		in   string
		want string
	}{
		{"residential_simple_2_tier", "residential_simple_2_tier"},
		{"Residential Simple 2 Tier", "residential_simple_2_tier"},
		{"表燈非時間電價", "residential_non_tou"},
		{"簡易型三段式", "residential_simple_3_tier"},
		{"low voltage power", "low_voltage_power"},
		{"three_stage", "high_voltage_three_stage"},
	}
	for _, tt := range tests {
		got, err := s.ResolvePlanID(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := s.ResolvePlanID("")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = s.ResolvePlanID("definitely not a plan")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	// "tier" is a substring of several IDs and must stay ambiguous.
	_, err = s.ResolvePlanID("2_tier")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestRequirementsFor(t *testing.T) {
	s := NewStore()

	data, err := s.Plan("high_voltage_2_tier")
	require.NoError(t, err)
	r := RequirementsFor(data)
	assert.True(t, r.RequiresContractCapacity)
	assert.False(t, r.RequiresMeterSpec)
	assert.True(t, r.UsesBasicFeeFormula)
	assert.Equal(t, "two_stage", r.FormulaType)
	assert.Equal(t, []string{"regular", "non_summer", "saturday_semi_peak", "off_peak"}, r.CapacityKeys())
	assert.Contains(t, r.ValidBasicFeeLabels, "經常契約")

	data, err = s.Plan("residential_non_tou")
	require.NoError(t, err)
	r = RequirementsFor(data)
	assert.False(t, r.RequiresContractCapacity)
	assert.True(t, r.RequiresMeterSpec)
	assert.False(t, r.UsesBasicFeeFormula)
	assert.Nil(t, r.CapacityKeys())

	data, err = s.Plan("low_voltage_power")
	require.NoError(t, err)
	r = RequirementsFor(data)
	assert.Equal(t, []string{"regular"}, r.CapacityKeys())
}
