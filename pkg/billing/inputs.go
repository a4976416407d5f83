// Package billing assembles full Taipower bills: energy charges from a
// tariff plan plus basic fees, surcharges and contract adjustments from
// the plan's billing rules.
package billing

import (
	"time"
)

// DemandPoint is one metered demand reading in kW.
type DemandPoint struct {
	TS time.Time `json:"ts"`
	KW float64   `json:"kw"`
}

// DemandSeries is a timestamp-ordered sequence of demand readings.
type DemandSeries []DemandPoint

// Inputs carries the billing parameters a usage series alone cannot
// provide: contracted capacities, power factor, meter specification and
// basic-fee quantities. The zero value is valid for plans without extra
// requirements.
type Inputs struct {
	// BasicFeeInputs maps basic-fee labels to quantities (household
	// counts, contracted kW).
	BasicFeeInputs map[string]float64
	// PowerFactor is the average power factor in percent, if metered.
	PowerFactor *float64
	// ContractCapacityKW is the single contracted capacity for plans
	// with one contract figure.
	ContractCapacityKW *float64
	// OverContractKW overrides demand-based penalty calculation with a
	// known exceedance.
	OverContractKW *float64
	// ContractCapacities maps formula capacity keys (regular,
	// non_summer, semi_peak, saturday_semi_peak, off_peak) to kW.
	ContractCapacities map[string]float64
	// Demand is the demand series used to derive contract exceedance
	// when OverContractKW is not set.
	Demand DemandSeries
	// DemandAdjustmentFactor scales the demand series before penalty
	// calculation. Zero means no adjustment.
	DemandAdjustmentFactor float64

	// Meter specification, used by minimum-usage rules.
	MeterPhase    string
	MeterVoltageV int
	MeterAmpere   float64
}

func (in *Inputs) demandFactor() float64 {
	if in.DemandAdjustmentFactor == 0 {
		return 1
	}
	return in.DemandAdjustmentFactor
}

// ForHighVoltage builds inputs for high-voltage two-stage plans from
// their four contract capacities in kW.
func ForHighVoltage(regular, nonSummer, saturdaySemiPeak, offPeak float64) *Inputs {
	return &Inputs{
		ContractCapacities: map[string]float64{
			"regular":            regular,
			"non_summer":         nonSummer,
			"saturday_semi_peak": saturdaySemiPeak,
			"off_peak":           offPeak,
		},
	}
}

// ForHighVoltageThreeStage builds inputs for high-voltage three-stage
// plans from their four contract capacities in kW.
func ForHighVoltageThreeStage(regular, semiPeak, saturdaySemiPeak, offPeak float64) *Inputs {
	return &Inputs{
		ContractCapacities: map[string]float64{
			"regular":            regular,
			"semi_peak":          semiPeak,
			"saturday_semi_peak": saturdaySemiPeak,
			"off_peak":           offPeak,
		},
	}
}

// ForExtraHighVoltage builds inputs for extra-high-voltage two-stage
// plans. The capacity layout matches ForHighVoltage.
func ForExtraHighVoltage(regular, nonSummer, saturdaySemiPeak, offPeak float64) *Inputs {
	return ForHighVoltage(regular, nonSummer, saturdaySemiPeak, offPeak)
}

// ForExtraHighVoltageThreeStage builds inputs for extra-high-voltage
// three-stage plans. The capacity layout matches
// ForHighVoltageThreeStage.
func ForExtraHighVoltageThreeStage(regular, semiPeak, saturdaySemiPeak, offPeak float64) *Inputs {
	return ForHighVoltageThreeStage(regular, semiPeak, saturdaySemiPeak, offPeak)
}

// ForResidential builds inputs for residential plans from the meter
// specification used by minimum-usage rules.
func ForResidential(phase string, voltageV int, ampere float64) *Inputs {
	return &Inputs{
		MeterPhase:     phase,
		MeterVoltageV:  voltageV,
		MeterAmpere:    ampere,
		BasicFeeInputs: map[string]float64{"basic_fee": 1},
	}
}

// ForLightingStandard builds inputs for standard lighting TOU plans:
// one per-household fee for the meter phase plus a contracted capacity.
func ForLightingStandard(phase string, contractKW float64, households float64) *Inputs {
	label := "按戶計收-單相"
	if phase != "single" {
		label = "按戶計收-三相"
	}
	return &Inputs{
		ContractCapacityKW: &contractKW,
		BasicFeeInputs: map[string]float64{
			label:  households,
			"經常契約": contractKW,
		},
	}
}

// WithPowerFactor sets the power factor and returns the inputs.
func (in *Inputs) WithPowerFactor(pf float64) *Inputs {
	in.PowerFactor = &pf
	return in
}

// WithDemand sets the demand series and adjustment factor and returns
// the inputs.
func (in *Inputs) WithDemand(demand DemandSeries, factor float64) *Inputs {
	in.Demand = demand
	in.DemandAdjustmentFactor = factor
	return in
}
