package plans

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/taipowertou/taipowertou/pkg/calendar"
	"github.com/taipowertou/taipowertou/pkg/tariff"
	"github.com/taipowertou/taipowertou/pkg/types"
)

// Factory builds executable tariff plans from stored plan data and a
// holiday calendar.
type Factory struct {
	store *Store
	cal   calendar.Calendar
}

// NewFactory returns a Factory over the given store and calendar.
func NewFactory(store *Store, cal calendar.Calendar) *Factory {
	return &Factory{store: store, cal: cal}
}

// Plan builds the tariff plan for a plan ID, using the billing cycle the
// plan declares.
func (f *Factory) Plan(id string) (*tariff.Plan, error) {
	return f.PlanWithCycle(id, "")
}

// PlanWithCycle builds the tariff plan for a plan ID with an explicit
// billing cycle overriding the plan's declared one. An empty cycle keeps
// the declared cycle (defaulting to monthly).
func (f *Factory) PlanWithCycle(id string, cycle types.BillingCycleType) (*tariff.Plan, error) {
	data, err := f.store.Plan(id)
	if err != nil {
		return nil, err
	}
	return f.build(data, cycle)
}

func (f *Factory) build(data *PlanData, cycle types.BillingCycleType) (*tariff.Plan, error) {
	seasons, err := f.SeasonStrategy()
	if err != nil {
		return nil, err
	}

	profile := &tariff.Profile{
		Name:          data.ID,
		Seasons:       seasons,
		Days:          tariff.NewTaipowerDays(f.cal),
		Schedules:     map[types.Season]map[types.DayType]types.DaySchedule{},
		DefaultPeriod: types.PeriodOffPeak,
	}
	for _, row := range data.Schedules {
		slot, err := types.NewTimeSlot(row.Start, row.End, types.RatePeriod(row.Period))
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid slot: %w", data.ID, err)
		}
		season := types.Season(row.Season)
		dayType := types.DayType(row.DayType)
		byDay := profile.Schedules[season]
		if byDay == nil {
			byDay = map[types.DayType]types.DaySchedule{}
			profile.Schedules[season] = byDay
		}
		sched := byDay[dayType]
		sched.Slots = append(sched.Slots, slot)
		byDay[dayType] = sched
	}

	rate := &types.TariffRate{}
	if len(data.Rates) > 0 {
		rate.PeriodCosts = make(map[types.RateKey]float64, len(data.Rates))
		for _, e := range data.Rates {
			key := types.RateKey{
				Season: types.Season(e.Season),
				Period: types.RatePeriod(e.Period),
			}
			rate.PeriodCosts[key] = e.Cost
		}
	}
	for _, t := range data.Tiers {
		end := math.Inf(1)
		if t.Max != nil {
			end = *t.Max
		}
		rate.Tiers = append(rate.Tiers, types.ConsumptionTier{
			StartKWH:      t.Min,
			EndKWH:        end,
			SummerCost:    t.Summer,
			NonSummerCost: t.NonSummer,
		})
	}

	if cycle == "" {
		cycle = types.CycleMonthly
		if data.BillingRules.BillingCycle != "" {
			cycle, err = types.ParseBillingCycleType(data.BillingRules.BillingCycle)
			if err != nil {
				return nil, fmt.Errorf("plan %s: %w", data.ID, err)
			}
		}
	}

	return tariff.New(profile, rate, cycle), nil
}

// SeasonStrategy builds the season window from the definitions block. A
// missing or incomplete definition falls back to the standard Taipower
// summer window.
func (f *Factory) SeasonStrategy() (*tariff.SeasonWindow, error) {
	defs, err := f.store.Definitions()
	if err != nil {
		return nil, err
	}
	for _, s := range defs.Seasons {
		if s.Name != "summer" {
			continue
		}
		sm, sd, err1 := parseMonthDay(s.Start)
		em, ed, err2 := parseMonthDay(s.End)
		if err1 != nil || err2 != nil {
			break
		}
		return &tariff.SeasonWindow{StartMonth: sm, StartDay: sd, EndMonth: em, EndDay: ed}, nil
	}
	return tariff.TaipowerSeasons(), nil
}

// parseMonthDay parses an "M-D" string.
func parseMonthDay(value string) (int, int, error) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid month-day %q", value)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month in %q: %w", value, err)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid day in %q: %w", value, err)
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, fmt.Errorf("month-day out of range %q", value)
	}
	return m, d, nil
}
