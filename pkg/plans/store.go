// Package plans embeds the Taipower rate tables and turns them into
// executable tariff plans. It is the concrete form of the rate-table
// loader capability: plan schedules, cost tables, tier ladders and billing
// rules all come out of the embedded plans.json.
package plans

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

//go:embed plans.json
var plansJSON []byte

// ErrPlanNotFound reports an unknown plan identifier.
var ErrPlanNotFound = errors.New("plan not found")

// SeasonDef is one season window in the definitions block. Start and End
// are "M-D" strings.
type SeasonDef struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// MinimumUsageRule maps a meter spec to its minimum-usage allowance. Meters
// at or below AmpereThreshold use KWHPerAmpere per ampere; larger meters
// use KWHPerAmpereOver for the full amperage.
type MinimumUsageRule struct {
	Phase            string  `json:"phase"`
	VoltageV         int     `json:"voltage_v"`
	AmpereThreshold  float64 `json:"ampere_threshold"`
	KWHPerAmpere     float64 `json:"kwh_per_ampere"`
	KWHPerAmpereOver float64 `json:"kwh_per_ampere_over"`
}

// Definitions holds shared tables referenced by plans.
type Definitions struct {
	Seasons           []SeasonDef                   `json:"seasons"`
	MinimumUsageRules map[string][]MinimumUsageRule `json:"minimum_usage_rules"`
}

// ScheduleSlot is one flat schedule row: a time slot for a (season,
// day-type) pair.
type ScheduleSlot struct {
	Season  string `json:"season"`
	DayType string `json:"day_type"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Period  string `json:"period"`
}

// RateEntry is one (season, period) unit cost.
type RateEntry struct {
	Season string  `json:"season"`
	Period string  `json:"period"`
	Cost   float64 `json:"cost"`
}

// TierEntry is one consumption tier row. A null max means no upper limit.
type TierEntry struct {
	Min       float64  `json:"min"`
	Max       *float64 `json:"max"`
	Summer    float64  `json:"summer"`
	NonSummer float64  `json:"non_summer"`
}

// BasicFeeEntry is one basic-fee line. Seasonal entries carry Summer and
// NonSummer per-unit rates; flat entries carry Cost.
type BasicFeeEntry struct {
	Label     string   `json:"label"`
	Unit      string   `json:"unit"`
	Cost      *float64 `json:"cost,omitempty"`
	Summer    *float64 `json:"summer,omitempty"`
	NonSummer *float64 `json:"non_summer,omitempty"`
}

// BasicFeeFormula selects the contract-capacity based basic-fee formula.
type BasicFeeFormula struct {
	Type           string  `json:"type"`
	RegularLabel   string  `json:"regular_label"`
	NonSummerLabel string  `json:"non_summer_label,omitempty"`
	SemiPeakLabel  string  `json:"semi_peak_label,omitempty"`
	SaturdayLabel  string  `json:"saturday_label,omitempty"`
	HouseholdLabel string  `json:"household_label,omitempty"`
	WeekendRatio   float64 `json:"weekend_ratio,omitempty"`
}

// SurchargeRule charges extra for monthly usage above a threshold.
type SurchargeRule struct {
	ThresholdKWH float64 `json:"threshold_kwh"`
	CostPerKWH   float64 `json:"cost_per_kwh"`
}

// PowerFactorRule adjusts part of the bill by the customer's power factor.
type PowerFactorRule struct {
	BasePercent        float64 `json:"base_percent"`
	MaxDiscountPercent float64 `json:"max_discount_percent"`
	StepPercent        float64 `json:"step_percent"`
	ApplyTo            string  `json:"apply_to"`
}

// OverContractRule penalizes demand exceeding contracted capacity.
type OverContractRule struct {
	BaseFeeLabel   string  `json:"base_fee_label"`
	ThresholdRatio float64 `json:"threshold_ratio"`
	RateLow        float64 `json:"rate_low"`
	RateHigh       float64 `json:"rate_high"`
	Tier           string  `json:"tier"`
}

// BillingRules is the billing metadata of a plan.
type BillingRules struct {
	BillingCycle         string            `json:"billing_cycle,omitempty"`
	BasicFeeFormula      *BasicFeeFormula  `json:"basic_fee_formula,omitempty"`
	Over2000Surcharge    *SurchargeRule    `json:"over_2000_kwh_surcharge,omitempty"`
	PowerFactor          *PowerFactorRule  `json:"power_factor_adjustment,omitempty"`
	OverContract         *OverContractRule `json:"over_contract_penalty,omitempty"`
	MinimumUsageRulesRef string            `json:"minimum_usage_rules_ref,omitempty"`
	MinMonthlyFee        *float64          `json:"min_monthly_fee,omitempty"`
}

// PlanData is the raw declaration of one plan.
type PlanData struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Schedules    []ScheduleSlot  `json:"schedules,omitempty"`
	Rates        []RateEntry     `json:"rates,omitempty"`
	Tiers        []TierEntry     `json:"tiers,omitempty"`
	BasicFee     *float64        `json:"basic_fee,omitempty"`
	BasicFees    []BasicFeeEntry `json:"basic_fees,omitempty"`
	BillingRules BillingRules    `json:"billing_rules"`
}

// Document is the root of plans.json.
type Document struct {
	Version     string      `json:"version"`
	Definitions Definitions `json:"definitions"`
	Plans       []PlanData  `json:"plans"`
}

// Store loads and caches the embedded plan document.
type Store struct {
	once sync.Once
	doc  *Document
	err  error
}

// NewStore returns a Store over the embedded plans.json.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) load() (*Document, error) {
	s.once.Do(func() {
		var doc Document
		if err := json.Unmarshal(plansJSON, &doc); err != nil {
			s.err = fmt.Errorf("failed to parse embedded plans: %w", err)
			return
		}
		s.doc = &doc
	})
	return s.doc, s.err
}

// Definitions returns the shared definitions block.
func (s *Store) Definitions() (*Definitions, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return &doc.Definitions, nil
}

// Plan returns the raw plan data for an exact plan ID.
func (s *Store) Plan(id string) (*PlanData, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Plans {
		if doc.Plans[i].ID == id {
			return &doc.Plans[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
}

// IDs lists all plan identifiers in declaration order.
func (s *Store) IDs() ([]string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Plans))
	for _, p := range doc.Plans {
		if p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}
