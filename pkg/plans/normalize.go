package plans

import (
	"fmt"
	"strings"
)

// planAliases maps common plan names, including the official Chinese
// tariff names, onto plan IDs.
var planAliases = map[string]string{
	"表燈非時間電價":               "residential_non_tou",
	"表燈非營業用":                "lighting_non_business_tiered",
	"表燈營業用":                 "lighting_business_tiered",
	"住商型簡易時間電價":             "residential_simple_2_tier",
	"簡易型二段式":                "residential_simple_2_tier",
	"簡易型三段式":                "residential_simple_3_tier",
	"標準型時間電價":               "lighting_standard_2_tier",
	"高壓二段式":                 "high_voltage_2_tier",
	"高壓三段式":                 "high_voltage_three_stage",
	"低壓電力":                  "low_voltage_power",
	"residential":           "residential_non_tou",
	"nontou":                "residential_non_tou",
	"non_tou":               "residential_non_tou",
	"tiered":                "lighting_non_business_tiered",
	"simple2":               "residential_simple_2_tier",
	"simpletwotier":         "residential_simple_2_tier",
	"simple3":               "residential_simple_3_tier",
	"simplethreetier":       "residential_simple_3_tier",
	"standard2":             "lighting_standard_2_tier",
	"highvoltage":           "high_voltage_2_tier",
	"highvoltagethreestage": "high_voltage_three_stage",
	"lowvoltagepower":       "low_voltage_power",
}

// ResolvePlanID normalizes a user-supplied plan name to a plan ID. It
// tries, in order: exact ID, alias table, ID match ignoring underscores
// and spaces, then unique substring match against the known IDs.
func (s *Store) ResolvePlanID(name string) (string, error) {
	ids, err := s.IDs()
	if err != nil {
		return "", err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", fmt.Errorf("%w: empty plan name", ErrPlanNotFound)
	}
	for _, id := range ids {
		if needle == id {
			return id, nil
		}
	}
	if id, ok := planAliases[strings.ReplaceAll(needle, " ", "")]; ok {
		return id, nil
	}
	squashed := squash(needle)
	for _, id := range ids {
		if squashed == squash(id) {
			return id, nil
		}
	}
	var matches []string
	for _, id := range ids {
		if strings.Contains(squash(id), squashed) {
			matches = append(matches, id)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w: %q matches %s", ErrPlanNotFound, name, strings.Join(matches, ", "))
	}
	return "", fmt.Errorf("%w: %s", ErrPlanNotFound, name)
}

func squash(s string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(s))
}
