package billing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/taipowertou/taipowertou/pkg/plans"
)

var (
	// ErrMissingInput reports billing inputs a plan requires but the
	// caller didn't provide.
	ErrMissingInput = errors.New("missing required billing input")
	// ErrInvalidBasicFee reports basic-fee input keys the plan doesn't
	// recognize.
	ErrInvalidBasicFee = errors.New("invalid basic fee input")
)

// validateInputs checks inputs against the plan's requirements. Missing
// contract capacity always fails; other issues fail in strict mode and
// otherwise come back as warnings.
func validateInputs(data *plans.PlanData, in *Inputs, strict bool) ([]string, error) {
	req := plans.RequirementsFor(data)
	var warnings []string

	if req.RequiresContractCapacity {
		if in.ContractCapacityKW == nil && len(in.ContractCapacities) == 0 {
			return nil, fmt.Errorf("%w: plan %s requires contract capacity", ErrMissingInput, data.ID)
		}
	}

	if len(in.BasicFeeInputs) > 0 {
		valid := make(map[string]bool, len(req.ValidBasicFeeLabels)+1)
		valid["basic_fee"] = true
		for _, label := range req.ValidBasicFeeLabels {
			valid[label] = true
		}
		var unknown []string
		for key := range in.BasicFeeInputs {
			if !valid[key] {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			if strict {
				return nil, fmt.Errorf("%w: unknown keys %s for plan %s",
					ErrInvalidBasicFee, strings.Join(unknown, ", "), data.ID)
			}
			warnings = append(warnings, fmt.Sprintf("unknown basic fee inputs ignored: %s", strings.Join(unknown, ", ")))
		}
	}

	if keys := req.CapacityKeys(); len(keys) > 0 {
		var missing []string
		for _, key := range keys {
			if _, ok := in.ContractCapacities[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			if strict {
				return nil, fmt.Errorf("%w: formula %s needs contract capacities %s",
					ErrMissingInput, req.FormulaType, strings.Join(missing, ", "))
			}
			warnings = append(warnings, fmt.Sprintf("formula may require contract capacities: %s", strings.Join(missing, ", ")))
		}
	}

	if req.RequiresMeterSpec {
		if in.MeterPhase == "" || in.MeterVoltageV == 0 || in.MeterAmpere == 0 {
			if strict {
				return nil, fmt.Errorf("%w: plan %s has minimum usage rules, provide the meter phase, voltage and amperage",
					ErrMissingInput, data.ID)
			}
			warnings = append(warnings, fmt.Sprintf("plan %s has minimum usage rules, meter specification recommended", data.ID))
		}
	}

	return warnings, nil
}
