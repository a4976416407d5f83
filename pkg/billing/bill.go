package billing

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taipowertou/taipowertou/pkg/calendar"
	"github.com/taipowertou/taipowertou/pkg/log"
	"github.com/taipowertou/taipowertou/pkg/plans"
	"github.com/taipowertou/taipowertou/pkg/tariff"
	"github.com/taipowertou/taipowertou/pkg/types"
)

// Biller turns a usage series and billing inputs into a full bill for a
// plan: energy charges plus the basic fees, surcharges and adjustments
// the plan's billing rules define.
type Biller struct {
	store   *plans.Store
	factory *plans.Factory

	// Strict turns validation warnings into errors.
	Strict bool
}

// NewBiller returns a Biller over the embedded plan store and the given
// holiday calendar.
func NewBiller(store *plans.Store, cal calendar.Calendar) *Biller {
	return &Biller{store: store, factory: plans.NewFactory(store, cal)}
}

// Line is one billing period's charges. Total includes the minimum-fee
// adjustment.
type Line struct {
	Period           types.BillingPeriod `json:"period"`
	EnergyCost       float64             `json:"energyCost"`
	BasicCost        float64             `json:"basicCost"`
	Surcharge        float64             `json:"surcharge"`
	Adjustment       float64             `json:"adjustment"`
	MinFeeAdjustment float64             `json:"minFeeAdjustment"`
	Total            float64             `json:"total"`
}

// FeeDetail is one basic-fee line item.
type FeeDetail struct {
	Period   types.BillingPeriod `json:"period"`
	Label    string              `json:"label"`
	Quantity float64             `json:"quantity"`
	Rate     float64             `json:"rate"`
	Cost     float64             `json:"cost"`
}

// AdjustmentDetail is one adjustment line item. Kind is "power_factor"
// or "over_contract".
type AdjustmentDetail struct {
	Period types.BillingPeriod `json:"period"`
	Kind   string              `json:"kind"`
	Amount float64             `json:"amount"`
}

// UsageDetail is one (billing period, season, rate period) slice of
// energy usage and cost. Tiered plans produce one row per billing period
// with the tiered period label.
type UsageDetail struct {
	Period     types.BillingPeriod `json:"period"`
	Season     types.Season        `json:"season"`
	RatePeriod types.RatePeriod    `json:"ratePeriod"`
	KWH        float64             `json:"kwh"`
	EnergyCost float64             `json:"energyCost"`
}

// Bill is a complete bill: one line per billing period plus line-item
// details and any validation warnings.
type Bill struct {
	PlanID            string                 `json:"planID"`
	Cycle             types.BillingCycleType `json:"cycle"`
	Lines             []Line                 `json:"lines"`
	UsageDetails      []UsageDetail          `json:"usageDetails"`
	BasicDetails      []FeeDetail            `json:"basicDetails"`
	AdjustmentDetails []AdjustmentDetail     `json:"adjustmentDetails"`
	Warnings          []string               `json:"warnings,omitempty"`
}

// Total sums all lines.
func (b *Bill) Total() float64 {
	var total float64
	for _, line := range b.Lines {
		total += line.Total
	}
	return round2(total)
}

// CalculateBill prices a usage series on a plan. The plan name accepts
// the same flexible matching as the store. A nil inputs value bills with
// defaults, which is valid for plans without capacity or meter
// requirements.
func (b *Biller) CalculateBill(ctx context.Context, planName string, usage types.UsageSeries, in *Inputs) (*Bill, error) {
	if in == nil {
		in = &Inputs{}
	}
	id, err := b.store.ResolvePlanID(planName)
	if err != nil {
		return nil, err
	}
	data, err := b.store.Plan(id)
	if err != nil {
		return nil, err
	}
	warnings, err := validateInputs(data, in, b.Strict)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Ctx(ctx).WarnContext(ctx, w, "planID", id)
	}
	if err := usage.Validate(); err != nil {
		return nil, err
	}

	plan, err := b.factory.Plan(id)
	if err != nil {
		return nil, err
	}
	usage, err = b.applyMinimumUsage(data, usage, in, plan.Cycle)
	if err != nil {
		return nil, err
	}

	evalCtx, err := plan.Profile.Evaluate(ctx, usage.Times())
	if err != nil {
		return nil, err
	}
	rowPeriods := make([]types.BillingPeriod, len(usage))
	periodUsage := make(map[types.BillingPeriod]float64)
	for i, pt := range usage {
		key := types.PeriodOf(pt.TS, plan.Cycle)
		rowPeriods[i] = key
		periodUsage[key] += pt.KWH
	}
	periods := sortedPeriods(periodUsage)

	energy, details := energyCosts(plan, usage, evalCtx, rowPeriods, periods)
	basic, basicDetails := b.basicFees(data, plan, in, periods)
	surcharge := surcharges(data, periodUsage, periods)
	adjustment, adjDetails := b.adjustments(ctx, data, plan, in, evalCtx, rowPeriods, periods, energy, basic, surcharge)

	bill := &Bill{
		PlanID:            id,
		Cycle:             plan.Cycle,
		UsageDetails:      details,
		BasicDetails:      basicDetails,
		AdjustmentDetails: adjDetails,
		Warnings:          warnings,
	}
	minFee := data.BillingRules.MinMonthlyFee
	for _, period := range periods {
		line := Line{
			Period:     period,
			EnergyCost: round2(energy[period]),
			BasicCost:  round2(basic[period]),
			Surcharge:  round2(surcharge[period]),
			Adjustment: round2(adjustment[period]),
		}
		line.Total = line.EnergyCost + line.BasicCost + line.Surcharge + line.Adjustment
		if minFee != nil && line.Total < *minFee {
			line.MinFeeAdjustment = round2(*minFee - line.Total)
			line.Total += line.MinFeeAdjustment
		}
		bill.Lines = append(bill.Lines, line)
	}
	return bill, nil
}

// applyMinimumUsage raises a billing period's usage to the plan's
// minimum when the meter specification matches a minimum-usage rule.
// Non-zero periods are scaled proportionally; all-zero periods get the
// whole minimum on their first reading.
func (b *Biller) applyMinimumUsage(data *plans.PlanData, usage types.UsageSeries, in *Inputs, cycle types.BillingCycleType) (types.UsageSeries, error) {
	ref := data.BillingRules.MinimumUsageRulesRef
	if ref == "" || in.MeterPhase == "" || in.MeterVoltageV == 0 || in.MeterAmpere == 0 {
		return usage, nil
	}
	defs, err := b.store.Definitions()
	if err != nil {
		return nil, err
	}
	var rule *plans.MinimumUsageRule
	for i := range defs.MinimumUsageRules[ref] {
		r := &defs.MinimumUsageRules[ref][i]
		if r.Phase == in.MeterPhase && r.VoltageV == in.MeterVoltageV {
			rule = r
			break
		}
	}
	if rule == nil {
		return usage, nil
	}

	perAmpere := rule.KWHPerAmpere
	if rule.AmpereThreshold > 0 && in.MeterAmpere > rule.AmpereThreshold {
		perAmpere = rule.KWHPerAmpereOver
	}
	minKWH := in.MeterAmpere * perAmpere
	if minKWH <= 0 {
		return usage, nil
	}
	required := minKWH * float64(cycle.Months())

	groups := make(map[types.BillingPeriod][]int)
	for i, pt := range usage {
		key := types.PeriodOf(pt.TS, cycle)
		groups[key] = append(groups[key], i)
	}

	adjusted := usage.Clone()
	for _, idxs := range groups {
		var total float64
		for _, i := range idxs {
			total += usage[i].KWH
		}
		if total >= required {
			continue
		}
		if total > 0 {
			factor := required / total
			for _, i := range idxs {
				adjusted[i].KWH = usage[i].KWH * factor
			}
		} else {
			adjusted[idxs[0]].KWH = required
		}
	}
	return adjusted, nil
}

// energyCosts prices each usage point and aggregates per billing period,
// plus per (period, season, rate period) detail rows. Tiered plans run
// the progressive tier walk on each period's total instead.
func energyCosts(plan *tariff.Plan, usage types.UsageSeries, evalCtx *tariff.Context, rowPeriods []types.BillingPeriod, periods []types.BillingPeriod) (map[types.BillingPeriod]float64, []UsageDetail) {
	energy := make(map[types.BillingPeriod]float64, len(periods))
	var details []UsageDetail

	if plan.Rate.Tiered() {
		multiplier := 1.0
		if plan.Cycle.Bimonthly() {
			multiplier = 2.0
		}
		type group struct {
			kwh          float64
			seasonCounts map[types.Season]int
			seasonOrder  []types.Season
		}
		groups := make(map[types.BillingPeriod]*group)
		for i, pt := range usage {
			g, ok := groups[rowPeriods[i]]
			if !ok {
				g = &group{seasonCounts: make(map[types.Season]int)}
				groups[rowPeriods[i]] = g
			}
			g.kwh += pt.KWH
			season := evalCtx.Seasons[i]
			if g.seasonCounts[season] == 0 {
				g.seasonOrder = append(g.seasonOrder, season)
			}
			g.seasonCounts[season]++
		}
		for _, period := range periods {
			g := groups[period]
			season := g.seasonOrder[0]
			for _, s := range g.seasonOrder[1:] {
				if g.seasonCounts[s] > g.seasonCounts[season] {
					season = s
				}
			}
			var cost float64
			if g.kwh != 0 {
				cost = plan.Rate.TieredCost(g.kwh, season, multiplier)
			}
			energy[period] = cost
			details = append(details, UsageDetail{
				Period:     period,
				Season:     season,
				RatePeriod: tariff.TieredPeriodLabel,
				KWH:        round2(g.kwh),
				EnergyCost: round2(cost),
			})
		}
		return energy, details
	}

	type detailKey struct {
		period     types.BillingPeriod
		season     types.Season
		ratePeriod types.RatePeriod
	}
	totals := make(map[detailKey]*UsageDetail)
	var order []detailKey
	for i, pt := range usage {
		unit, _ := plan.Rate.Cost(evalCtx.Seasons[i], evalCtx.Periods[i])
		cost := pt.KWH * unit
		energy[rowPeriods[i]] += cost
		key := detailKey{period: rowPeriods[i], season: evalCtx.Seasons[i], ratePeriod: evalCtx.Periods[i]}
		row, ok := totals[key]
		if !ok {
			row = &UsageDetail{Period: key.period, Season: key.season, RatePeriod: key.ratePeriod}
			totals[key] = row
			order = append(order, key)
		}
		row.KWH += pt.KWH
		row.EnergyCost += cost
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].period.Before(order[j].period)
	})
	for _, key := range order {
		row := totals[key]
		row.KWH = round2(row.KWH)
		row.EnergyCost = round2(row.EnergyCost)
		details = append(details, *row)
	}
	return energy, details
}

// basicFees computes per-period basic fees: either the contract-capacity
// formula or flat per-label charges. Multi-month cycles multiply the
// monthly fee by the cycle length.
func (b *Biller) basicFees(data *plans.PlanData, plan *tariff.Plan, in *Inputs, periods []types.BillingPeriod) (map[types.BillingPeriod]float64, []FeeDetail) {
	monthly := make(map[types.BillingPeriod]float64, len(periods))
	var details []FeeDetail
	add := func(period types.BillingPeriod, label string, quantity, rate float64) {
		cost := rate * quantity
		monthly[period] += cost
		details = append(details, FeeDetail{Period: period, Label: label, Quantity: quantity, Rate: rate, Cost: cost})
	}

	formula := data.BillingRules.BasicFeeFormula
	if formula != nil && len(in.ContractCapacities) > 0 {
		b.basicFeeFromFormula(data, plan, in, periods, formula, add)
	} else {
		if data.BasicFee != nil {
			count := 1.0
			if q, ok := in.BasicFeeInputs["basic_fee"]; ok {
				count = q
			}
			for _, period := range periods {
				add(period, "basic_fee", count, *data.BasicFee)
			}
		}
		// Per-household fees default to one household, unless the caller
		// already picked a household entry, so a single-phase customer is
		// not also charged the three-phase fee.
		householdGiven := false
		for _, entry := range data.BasicFees {
			if entry.Unit != "per_household_month" {
				continue
			}
			if _, ok := in.BasicFeeInputs[entry.Label]; ok {
				householdGiven = true
				break
			}
		}
		for _, entry := range data.BasicFees {
			quantity, ok := in.BasicFeeInputs[entry.Label]
			if !ok && entry.Unit == "per_household_month" && !householdGiven {
				quantity = 1
			}
			if quantity == 0 {
				continue
			}
			for _, period := range periods {
				rate, ok := entryRate(entry, b.periodSeason(plan, period))
				if !ok {
					continue
				}
				add(period, entry.Label, quantity, rate)
			}
		}
	}

	if months := plan.Cycle.Months(); months > 1 {
		for period := range monthly {
			monthly[period] *= float64(months)
		}
		for i := range details {
			details[i].Cost *= float64(months)
		}
	}
	for i := range details {
		details[i].Cost = round2(details[i].Cost)
	}
	return monthly, details
}

// basicFeeFromFormula applies the contract-capacity basic fee formula.
// The weekend term charges only the Saturday and off-peak capacity that
// exceeds the weekday capacity scaled by the weekend ratio.
func (b *Biller) basicFeeFromFormula(data *plans.PlanData, plan *tariff.Plan, in *Inputs, periods []types.BillingPeriod, formula *plans.BasicFeeFormula, add func(types.BillingPeriod, string, float64, float64)) {
	entries := make(map[string]plans.BasicFeeEntry, len(data.BasicFees))
	for _, entry := range data.BasicFees {
		entries[entry.Label] = entry
	}
	seasonRate := func(label string, season types.Season) float64 {
		rate, _ := entryRate(entries[label], season)
		return rate
	}
	weekendRatio := formula.WeekendRatio
	if weekendRatio == 0 {
		weekendRatio = 0.5
	}
	caps := in.ContractCapacities

	if formula.HouseholdLabel != "" {
		count := 1.0
		if q, ok := in.BasicFeeInputs[formula.HouseholdLabel]; ok {
			count = q
		}
		if entry, ok := entries[formula.HouseholdLabel]; ok && entry.Cost != nil {
			for _, period := range periods {
				add(period, formula.HouseholdLabel, count, *entry.Cost)
			}
		}
	}

	for _, period := range periods {
		season := b.periodSeason(plan, period)
		switch formula.Type {
		case "regular_only":
			add(period, formula.RegularLabel, caps["regular"], seasonRate(formula.RegularLabel, season))
		case "three_stage":
			weekendBase := math.Max(0, caps["saturday_semi_peak"]+caps["off_peak"]-(caps["regular"]+caps["semi_peak"])*weekendRatio)
			add(period, formula.RegularLabel, caps["regular"], seasonRate(formula.RegularLabel, season))
			add(period, formula.SemiPeakLabel, caps["semi_peak"], seasonRate(formula.SemiPeakLabel, season))
			add(period, formula.SaturdayLabel, weekendBase, seasonRate(formula.SaturdayLabel, season))
		default: // two_stage
			weekendBase := math.Max(0, caps["saturday_semi_peak"]+caps["off_peak"]-(caps["regular"]+caps["non_summer"])*weekendRatio)
			add(period, formula.RegularLabel, caps["regular"], seasonRate(formula.RegularLabel, season))
			if season != types.SeasonSummer {
				add(period, formula.NonSummerLabel, caps["non_summer"], seasonRate(formula.NonSummerLabel, season))
			}
			add(period, formula.SaturdayLabel, weekendBase, seasonRate(formula.SaturdayLabel, season))
		}
	}
}

// surcharges applies the over-threshold usage surcharge per billing
// period.
func surcharges(data *plans.PlanData, periodUsage map[types.BillingPeriod]float64, periods []types.BillingPeriod) map[types.BillingPeriod]float64 {
	out := make(map[types.BillingPeriod]float64, len(periods))
	rule := data.BillingRules.Over2000Surcharge
	for _, period := range periods {
		if rule != nil {
			out[period] = math.Max(0, periodUsage[period]-rule.ThresholdKWH) * rule.CostPerKWH
		} else {
			out[period] = 0
		}
	}
	return out
}

// adjustments computes power-factor and over-contract adjustments.
func (b *Biller) adjustments(ctx context.Context, data *plans.PlanData, plan *tariff.Plan, in *Inputs, evalCtx *tariff.Context, rowPeriods []types.BillingPeriod, periods []types.BillingPeriod, energy, basic, surcharge map[types.BillingPeriod]float64) (map[types.BillingPeriod]float64, []AdjustmentDetail) {
	adjustment := make(map[types.BillingPeriod]float64, len(periods))
	var details []AdjustmentDetail

	if rule := data.BillingRules.PowerFactor; rule != nil && in.PowerFactor != nil {
		pf := *in.PowerFactor
		for _, period := range periods {
			var target float64
			switch rule.ApplyTo {
			case "total":
				target = basic[period] + energy[period] + surcharge[period]
			case "energy":
				target = energy[period]
			default:
				target = basic[period]
			}
			var amount float64
			if pf < rule.BasePercent {
				amount = target * (rule.BasePercent - pf) * rule.StepPercent / 100
			} else if pf > rule.BasePercent {
				capped := math.Min(pf, rule.MaxDiscountPercent)
				amount = -target * (capped - rule.BasePercent) * rule.StepPercent / 100
			}
			if amount != 0 {
				adjustment[period] += amount
				details = append(details, AdjustmentDetail{Period: period, Kind: "power_factor", Amount: round2(amount)})
			}
		}
	}

	if rule := data.BillingRules.OverContract; rule != nil {
		over := b.overContractKW(ctx, in, evalCtx, rowPeriods, periods, rule)
		if over != nil {
			contractKW := 0.0
			if in.ContractCapacityKW != nil {
				contractKW = *in.ContractCapacityKW
			} else {
				contractKW = in.ContractCapacities["regular"]
			}
			threshold := contractKW * rule.ThresholdRatio
			for _, period := range periods {
				exceeded, ok := over[period]
				if !ok || exceeded <= 0 {
					continue
				}
				baseRate, found := b.labelRate(data, plan, rule.BaseFeeLabel, period)
				if !found {
					continue
				}
				overLow := math.Min(exceeded, threshold)
				overHigh := math.Max(0, exceeded-threshold)
				amount := baseRate*overLow*rule.RateLow + baseRate*overHigh*rule.RateHigh
				adjustment[period] += amount
				details = append(details, AdjustmentDetail{Period: period, Kind: "over_contract", Amount: round2(amount)})
			}
		}
	}

	return adjustment, details
}

// overContractKW derives the contract exceedance per billing period:
// either the explicit figure, or the demand series reduced to per-category
// maxima with cascading subtraction across contract stages.
func (b *Biller) overContractKW(ctx context.Context, in *Inputs, evalCtx *tariff.Context, rowPeriods []types.BillingPeriod, periods []types.BillingPeriod, rule *plans.OverContractRule) map[types.BillingPeriod]float64 {
	if in.OverContractKW != nil {
		out := make(map[types.BillingPeriod]float64, len(periods))
		for _, period := range periods {
			out[period] = *in.OverContractKW
		}
		return out
	}
	if len(in.Demand) == 0 {
		return nil
	}
	checkDemandResolution(ctx, in.Demand)

	factor := in.demandFactor()
	demandAt := make(map[int64]float64, len(in.Demand))
	for _, pt := range in.Demand {
		demandAt[pt.TS.UnixNano()] = pt.KW * factor
	}

	type catKey struct {
		period   types.BillingPeriod
		category string
	}
	maxDemand := make(map[catKey]float64)
	for i, ts := range evalCtx.Times {
		kw, ok := demandAt[ts.UnixNano()]
		if !ok {
			continue
		}
		category := string(evalCtx.Periods[i])
		if evalCtx.DayTypes[i] == types.DayTypeSaturday && evalCtx.Periods[i] == types.PeriodSemiPeak {
			category = "saturday_semi_peak"
		}
		key := catKey{period: rowPeriods[i], category: category}
		if kw > maxDemand[key] {
			maxDemand[key] = kw
		}
	}

	out := make(map[types.BillingPeriod]float64, len(periods))
	for _, period := range periods {
		byCat := make(map[string]float64)
		for key, kw := range maxDemand {
			if key.period == period {
				byCat[key.category] = kw
			}
		}
		out[period] = overFromCategories(byCat, in.ContractCapacities, rule.Tier)
	}
	return out
}

// overFromCategories cascades contract capacities across demand
// categories: each stage's allowance includes every earlier stage, and
// exceedance already billed at an earlier stage is not billed again.
func overFromCategories(maxDemand map[string]float64, caps map[string]float64, tier string) float64 {
	regular := caps["regular"]
	saturday := caps["saturday_semi_peak"]
	offPeak := caps["off_peak"]

	if tier == "three_stage" {
		semiPeak := caps["semi_peak"]
		peakOver := math.Max(0, maxDemand["peak"]-regular)
		semiOver := math.Max(0, maxDemand["semi_peak"]-(regular+semiPeak))
		saturdayOver := math.Max(0, maxDemand["saturday_semi_peak"]-(regular+semiPeak+saturday))
		offOver := math.Max(0, maxDemand["off_peak"]-(regular+semiPeak+saturday+offPeak))
		semiOver = math.Max(0, semiOver-peakOver)
		saturdayOver = math.Max(0, saturdayOver-math.Max(peakOver, semiOver))
		offOver = math.Max(0, offOver-math.Max(peakOver, math.Max(semiOver, saturdayOver)))
		return math.Max(math.Max(peakOver, semiOver), math.Max(saturdayOver, offOver))
	}

	nonSummer := caps["non_summer"]
	peakOver := math.Max(0, maxDemand["peak"]-(regular+nonSummer))
	saturdayOver := math.Max(0, maxDemand["saturday_semi_peak"]-(regular+nonSummer+saturday))
	offOver := math.Max(0, maxDemand["off_peak"]-(regular+nonSummer+saturday+offPeak))
	saturdayOver = math.Max(0, saturdayOver-peakOver)
	offOver = math.Max(0, offOver-math.Max(peakOver, saturdayOver))
	return math.Max(peakOver, math.Max(saturdayOver, offOver))
}

// checkDemandResolution warns when demand readings are coarser than the
// 15-minute intervals Taipower bills demand on.
func checkDemandResolution(ctx context.Context, demand DemandSeries) {
	if len(demand) < 2 {
		return
	}
	gaps := make([]time.Duration, 0, len(demand)-1)
	for i := 1; i < len(demand); i++ {
		gaps = append(gaps, demand[i].TS.Sub(demand[i-1].TS))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := gaps[len(gaps)/2]
	if median > 15*time.Minute {
		log.Ctx(ctx).WarnContext(ctx, "demand resolution coarser than 15 minutes, peak demand may be underestimated",
			"resolutionMinutes", int(median.Minutes()))
	}
}

// labelRate looks up the per-kW rate of a basic-fee label for a billing
// period's season.
func (b *Biller) labelRate(data *plans.PlanData, plan *tariff.Plan, label string, period types.BillingPeriod) (float64, bool) {
	for _, entry := range data.BasicFees {
		if entry.Label == label {
			rate, _ := entryRate(entry, b.periodSeason(plan, period))
			return rate, true
		}
	}
	return 0, false
}

// periodSeason classifies a billing period by its first day.
func (b *Biller) periodSeason(plan *tariff.Plan, period types.BillingPeriod) types.Season {
	return plan.Profile.Seasons.SeasonOf(period.Time())
}

// entryRate picks the seasonal or flat rate of a basic-fee entry. The
// second return reports whether the entry carries a rate for the season.
func entryRate(entry plans.BasicFeeEntry, season types.Season) (float64, bool) {
	if entry.Summer != nil || entry.NonSummer != nil {
		if season == types.SeasonSummer {
			if entry.Summer == nil {
				return 0, false
			}
			return *entry.Summer, true
		}
		if entry.NonSummer == nil {
			return 0, false
		}
		return *entry.NonSummer, true
	}
	if entry.Cost == nil {
		return 0, false
	}
	return *entry.Cost, true
}

func sortedPeriods(usage map[types.BillingPeriod]float64) []types.BillingPeriod {
	periods := make([]types.BillingPeriod, 0, len(usage))
	for period := range usage {
		periods = append(periods, period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods
}

// round2 rounds a money amount to cents without accumulating binary
// float error.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
