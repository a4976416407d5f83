package plans

// Requirements describes the extra billing inputs a plan needs beyond a
// usage series. Callers can inspect it before assembling billing inputs.
type Requirements struct {
	// RequiresContractCapacity marks plans whose basic fee or penalty
	// rules depend on contracted kW figures.
	RequiresContractCapacity bool
	// RequiresMeterSpec marks plans with a minimum-usage floor keyed on
	// the meter's phase, voltage and amperage.
	RequiresMeterSpec bool
	// ValidBasicFeeLabels lists the basic-fee labels the plan accepts as
	// keys of the basic-fee inputs, in declaration order.
	ValidBasicFeeLabels []string
	// UsesBasicFeeFormula marks plans whose basic fee is computed from
	// contract capacities instead of flat per-label counts.
	UsesBasicFeeFormula bool
	// FormulaType is the basic-fee formula variant when
	// UsesBasicFeeFormula is set: "two_stage", "three_stage" or
	// "regular_only".
	FormulaType string
}

// RequirementsFor derives the billing requirements of a plan.
func RequirementsFor(data *PlanData) Requirements {
	var r Requirements
	switch data.Category {
	case "high_voltage", "extra_high_voltage":
		r.RequiresContractCapacity = true
	}
	if data.BillingRules.MinimumUsageRulesRef != "" {
		r.RequiresMeterSpec = true
	}
	for _, fee := range data.BasicFees {
		r.ValidBasicFeeLabels = append(r.ValidBasicFeeLabels, fee.Label)
	}
	if f := data.BillingRules.BasicFeeFormula; f != nil {
		r.UsesBasicFeeFormula = true
		r.FormulaType = f.Type
	}
	return r
}

// CapacityKeys lists the contract-capacity keys a basic-fee formula reads,
// in the order the formula consumes them. Plans without a formula return
// nil.
func (r Requirements) CapacityKeys() []string {
	if !r.UsesBasicFeeFormula {
		return nil
	}
	switch r.FormulaType {
	case "three_stage":
		return []string{"regular", "semi_peak", "saturday_semi_peak", "off_peak"}
	case "regular_only":
		return []string{"regular"}
	default:
		return []string{"regular", "non_summer", "saturday_semi_peak", "off_peak"}
	}
}
