package tariff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/taipowertou/taipowertou/pkg/types"
)

var (
	// ErrMissingRate reports a (season, period) lookup with no configured
	// unit cost. Only returned when StrictRates is enabled; otherwise
	// missing combinations silently price at zero, which lets plans define
	// partial rate tables for periods they never use.
	ErrMissingRate = errors.New("no rate configured for season/period")

	// ErrTieredPointwise reports a usage-weighted instantaneous price
	// query against a tiered plan. Tiered cost depends on the billing
	// period's total usage, so pricing a single instant with a usage
	// amount is undefined.
	ErrTieredPointwise = errors.New("usage-based pricing is not supported for tiered plans; use CalculateCosts for billing totals")
)

// Plan composes a Profile, a TariffRate and a billing cycle into the
// calculation surface consumers use: cost totals, per-month breakdowns and
// point-in-time pricing. Plans are stateless beyond the Profile's lookup
// table and are safe to share.
type Plan struct {
	Profile *Profile
	Rate    *types.TariffRate
	Cycle   types.BillingCycleType

	// StrictRates turns missing (season, period) rate lookups into
	// ErrMissingRate instead of a silent zero cost.
	StrictRates bool
}

// New returns a Plan over the given profile, rate and billing cycle.
func New(profile *Profile, rate *types.TariffRate, cycle types.BillingCycleType) *Plan {
	return &Plan{Profile: profile, Rate: rate, Cycle: cycle}
}

// Name returns the profile's name.
func (p *Plan) Name() string {
	return p.Profile.Name
}

// Description is the serializable summary returned by Describe.
type Description struct {
	Profile      ProfileDescription    `json:"profile"`
	Rates        types.RateDescription `json:"rates"`
	BillingCycle string                `json:"billing_cycle"`
}

// Describe returns a serializable summary of the plan.
func (p *Plan) Describe() Description {
	return Description{
		Profile:      p.Profile.Describe(),
		Rates:        p.Rate.Describe(),
		BillingCycle: string(p.Cycle),
	}
}

// PeriodCost is one billing period's usage and cost.
type PeriodCost struct {
	Period types.BillingPeriod `json:"period"`
	KWH    float64             `json:"kwh"`
	Cost   float64             `json:"cost"`
}

// CalculateCosts computes the cost of a usage series, one row per billing
// period, sorted ascending. Tiered plans group by the configured billing
// cycle and run the progressive tier walk on each period's total; TOU plans
// price each point at its period's unit rate and group by calendar month
// regardless of the configured cycle.
func (p *Plan) CalculateCosts(ctx context.Context, usage types.UsageSeries) ([]PeriodCost, error) {
	if err := usage.Validate(); err != nil {
		return nil, err
	}
	if p.Rate.Tiered() {
		return p.tieredCosts(ctx, usage)
	}
	return p.touCosts(ctx, usage)
}

func (p *Plan) touCosts(ctx context.Context, usage types.UsageSeries) ([]PeriodCost, error) {
	evalCtx, err := p.Profile.Evaluate(ctx, usage.Times())
	if err != nil {
		return nil, err
	}

	totals := make(map[types.BillingPeriod]*PeriodCost)
	for i, pt := range usage {
		unit, err := p.unitCost(evalCtx.Seasons[i], evalCtx.Periods[i])
		if err != nil {
			return nil, err
		}
		key := types.PeriodOf(pt.TS, types.CycleMonthly)
		row, ok := totals[key]
		if !ok {
			row = &PeriodCost{Period: key}
			totals[key] = row
		}
		row.KWH += pt.KWH
		row.Cost += pt.KWH * unit
	}
	return sortedPeriodCosts(totals), nil
}

// tieredGroup accumulates one billing period's usage and the season counts
// used to pick its representative season.
type tieredGroup struct {
	kwh          float64
	seasonCounts map[types.Season]int
	seasonOrder  []types.Season
}

func (p *Plan) tieredCosts(ctx context.Context, usage types.UsageSeries) ([]PeriodCost, error) {
	evalCtx, err := p.Profile.Evaluate(ctx, usage.Times())
	if err != nil {
		return nil, err
	}

	groups := make(map[types.BillingPeriod]*tieredGroup)
	for i, pt := range usage {
		key := types.PeriodOf(pt.TS, p.Cycle)
		g, ok := groups[key]
		if !ok {
			g = &tieredGroup{seasonCounts: make(map[types.Season]int)}
			groups[key] = g
		}
		g.kwh += pt.KWH
		season := evalCtx.Seasons[i]
		if g.seasonCounts[season] == 0 {
			g.seasonOrder = append(g.seasonOrder, season)
		}
		g.seasonCounts[season]++
	}

	// bimonthly cycles double every finite tier boundary
	multiplier := 1.0
	if p.Cycle.Bimonthly() {
		multiplier = 2.0
	}

	totals := make(map[types.BillingPeriod]*PeriodCost, len(groups))
	for key, g := range groups {
		row := &PeriodCost{Period: key, KWH: g.kwh}
		if g.kwh != 0 {
			row.Cost = p.Rate.TieredCost(g.kwh, modeSeason(g), multiplier)
		}
		totals[key] = row
	}
	return sortedPeriodCosts(totals), nil
}

// modeSeason returns the most frequent season in a group. Ties break toward
// the season seen first, so a period split evenly across a season boundary
// keeps the season its earliest timestamps carry.
func modeSeason(g *tieredGroup) types.Season {
	best := g.seasonOrder[0]
	for _, s := range g.seasonOrder[1:] {
		if g.seasonCounts[s] > g.seasonCounts[best] {
			best = s
		}
	}
	return best
}

func sortedPeriodCosts(totals map[types.BillingPeriod]*PeriodCost) []PeriodCost {
	out := make([]PeriodCost, 0, len(totals))
	for _, row := range totals {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.Before(out[j].Period)
	})
	return out
}

// TieredPeriodLabel is the period label used in breakdown rows for tiered
// plans, which have no per-timestamp rate period.
const TieredPeriodLabel = types.RatePeriod("tiered")

// BreakdownRow is one row of a monthly breakdown: usage and cost for a
// (month, season, period) combination. UsageShare and CostShare are only
// populated when shares are requested and are normalized so each month's
// shares sum to 1.
type BreakdownRow struct {
	Month      types.BillingPeriod `json:"month"`
	Season     types.Season        `json:"season"`
	Period     types.RatePeriod    `json:"period"`
	KWH        float64             `json:"usage_kwh"`
	Cost       float64             `json:"cost"`
	UsageShare float64             `json:"usage_share,omitempty"`
	CostShare  float64             `json:"cost_share,omitempty"`
}

// MonthlyBreakdown is like CalculateCosts but retains the (season, period)
// split within each month. TOU rows appear in first-encountered order;
// tiered plans emit one row per billing period labeled with
// TieredPeriodLabel.
func (p *Plan) MonthlyBreakdown(ctx context.Context, usage types.UsageSeries, includeShares bool) ([]BreakdownRow, error) {
	if err := usage.Validate(); err != nil {
		return nil, err
	}
	if p.Rate.Tiered() {
		return p.tieredBreakdown(ctx, usage, includeShares)
	}
	return p.touBreakdown(ctx, usage, includeShares)
}

func (p *Plan) tieredBreakdown(ctx context.Context, usage types.UsageSeries, includeShares bool) ([]BreakdownRow, error) {
	costs, err := p.tieredCosts(ctx, usage)
	if err != nil {
		return nil, err
	}
	evalCtx, err := p.Profile.Evaluate(ctx, usage.Times())
	if err != nil {
		return nil, err
	}

	groups := make(map[types.BillingPeriod]*tieredGroup)
	for i, pt := range usage {
		key := types.PeriodOf(pt.TS, p.Cycle)
		g, ok := groups[key]
		if !ok {
			g = &tieredGroup{seasonCounts: make(map[types.Season]int)}
			groups[key] = g
		}
		season := evalCtx.Seasons[i]
		if g.seasonCounts[season] == 0 {
			g.seasonOrder = append(g.seasonOrder, season)
		}
		g.seasonCounts[season]++
	}

	rows := make([]BreakdownRow, 0, len(costs))
	for _, pc := range costs {
		row := BreakdownRow{
			Month:  pc.Period,
			Season: modeSeason(groups[pc.Period]),
			Period: TieredPeriodLabel,
			KWH:    pc.KWH,
			Cost:   pc.Cost,
		}
		if includeShares {
			// each billing period is a single row, so it owns its
			// whole share
			row.UsageShare = 1.0
			row.CostShare = 1.0
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (p *Plan) touBreakdown(ctx context.Context, usage types.UsageSeries, includeShares bool) ([]BreakdownRow, error) {
	evalCtx, err := p.Profile.Evaluate(ctx, usage.Times())
	if err != nil {
		return nil, err
	}

	type rowKey struct {
		month  types.BillingPeriod
		season types.Season
		period types.RatePeriod
	}
	idx := make(map[rowKey]int)
	var rows []BreakdownRow
	for i, pt := range usage {
		unit, err := p.unitCost(evalCtx.Seasons[i], evalCtx.Periods[i])
		if err != nil {
			return nil, err
		}
		key := rowKey{
			month:  types.PeriodOf(pt.TS, types.CycleMonthly),
			season: evalCtx.Seasons[i],
			period: evalCtx.Periods[i],
		}
		j, ok := idx[key]
		if !ok {
			j = len(rows)
			idx[key] = j
			rows = append(rows, BreakdownRow{
				Month:  key.month,
				Season: key.season,
				Period: key.period,
			})
		}
		rows[j].KWH += pt.KWH
		rows[j].Cost += pt.KWH * unit
	}

	if includeShares {
		type monthTotal struct{ kwh, cost float64 }
		totals := make(map[types.BillingPeriod]*monthTotal)
		for _, r := range rows {
			t, ok := totals[r.Month]
			if !ok {
				t = &monthTotal{}
				totals[r.Month] = t
			}
			t.kwh += r.KWH
			t.cost += r.Cost
		}
		for i := range rows {
			t := totals[rows[i].Month]
			if t.kwh != 0 {
				rows[i].UsageShare = rows[i].KWH / t.kwh
			}
			if t.cost != 0 {
				rows[i].CostShare = rows[i].Cost / t.cost
			}
		}
	}
	return rows, nil
}

// Pricing is the point-in-time pricing context for one timestamp. Rate and
// Cost are nil for tiered plans, and Cost is nil when no usage amount was
// supplied.
type Pricing struct {
	Time   time.Time        `json:"time"`
	Season types.Season     `json:"season"`
	Period types.RatePeriod `json:"period"`
	Rate   *float64         `json:"rate"`
	Cost   *float64         `json:"cost"`
}

// PricingAt returns the pricing context at a single instant. Supplying a
// usage amount against a tiered plan is rejected with ErrTieredPointwise.
func (p *Plan) PricingAt(ctx context.Context, t time.Time, usageKWH *float64) (Pricing, error) {
	if usageKWH != nil && p.Rate.Tiered() {
		return Pricing{}, ErrTieredPointwise
	}

	season, _, period := p.Profile.ResolveAt(ctx, t)
	out := Pricing{Time: t, Season: season, Period: period}
	if p.Rate.Tiered() {
		return out, nil
	}

	unit, err := p.unitCost(season, period)
	if err != nil {
		return Pricing{}, err
	}
	out.Rate = &unit
	if usageKWH != nil {
		cost := *usageKWH * unit
		out.Cost = &cost
	}
	return out, nil
}

// PricingTable returns the pricing context for each timestamp, aligned with
// the input. usage may be nil; otherwise it must be parallel to times.
func (p *Plan) PricingTable(ctx context.Context, times []time.Time, usage []float64) ([]Pricing, error) {
	if usage != nil && p.Rate.Tiered() {
		return nil, ErrTieredPointwise
	}
	if usage != nil && len(usage) != len(times) {
		return nil, fmt.Errorf("%w: usage length %d does not match %d timestamps",
			types.ErrInvalidUsage, len(usage), len(times))
	}

	evalCtx, err := p.Profile.Evaluate(ctx, times)
	if err != nil {
		return nil, err
	}

	out := make([]Pricing, len(times))
	for i, t := range times {
		out[i] = Pricing{
			Time:   t,
			Season: evalCtx.Seasons[i],
			Period: evalCtx.Periods[i],
		}
		if p.Rate.Tiered() {
			continue
		}
		unit, err := p.unitCost(evalCtx.Seasons[i], evalCtx.Periods[i])
		if err != nil {
			return nil, err
		}
		rate := unit
		out[i].Rate = &rate
		if usage != nil {
			cost := usage[i] * unit
			out[i].Cost = &cost
		}
	}
	return out, nil
}

func (p *Plan) unitCost(season types.Season, period types.RatePeriod) (float64, error) {
	cost, ok := p.Rate.Cost(season, period)
	if !ok {
		if p.StrictRates {
			return 0, fmt.Errorf("%w: season=%s period=%s", ErrMissingRate, season, period)
		}
		return 0, nil
	}
	return cost, nil
}
