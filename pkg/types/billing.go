package types

import (
	"fmt"
	"time"
)

// BillingCycleType selects how readings are grouped into billing
// periods and whether tier limits are doubled.
type BillingCycleType string

const (
	// CycleMonthly bills every calendar month.
	CycleMonthly BillingCycleType = "monthly"
	// CycleOddMonth bills every two months with meters read in odd
	// months; December belongs to January of the following year.
	CycleOddMonth BillingCycleType = "odd_month"
	// CycleEvenMonth bills every two months with meters read in even
	// months; there is no year-crossing pairing.
	CycleEvenMonth BillingCycleType = "even_month"
)

// ParseBillingCycleType parses a cycle name from plan data.
func ParseBillingCycleType(value string) (BillingCycleType, error) {
	switch BillingCycleType(value) {
	case CycleMonthly, CycleOddMonth, CycleEvenMonth:
		return BillingCycleType(value), nil
	}
	return "", fmt.Errorf("unknown billing cycle type: %s", value)
}

// Bimonthly reports whether the cycle spans two months, which doubles
// every finite consumption tier limit.
func (c BillingCycleType) Bimonthly() bool {
	return c == CycleOddMonth || c == CycleEvenMonth
}

// Months returns the cycle length in months.
func (c BillingCycleType) Months() int {
	if c.Bimonthly() {
		return 2
	}
	return 1
}

// BillingPeriod identifies a billing period by its anchor month (the
// meter-reading month for bimonthly cycles).
type BillingPeriod struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the billing period a timestamp belongs to under the
// given cycle.
//
// Monthly periods are the timestamp's own month. Odd-month periods
// pair (Dec,Jan)->Jan, (Feb,Mar)->Mar and so on, with December rolling
// into January of the following year. Even-month periods pair
// (Jan,Feb)->Feb through (Nov,Dec)->Dec with no year-crossing.
func PeriodOf(t time.Time, cycle BillingCycleType) BillingPeriod {
	year, month := t.Year(), int(t.Month())
	switch cycle {
	case CycleOddMonth:
		switch {
		case month == 12:
			return BillingPeriod{Year: year + 1, Month: time.January}
		case month == 1:
			return BillingPeriod{Year: year, Month: time.January}
		default:
			return BillingPeriod{Year: year, Month: time.Month((month/2)*2 + 1)}
		}
	case CycleEvenMonth:
		return BillingPeriod{Year: year, Month: time.Month(((month + 1) / 2) * 2)}
	default:
		return BillingPeriod{Year: year, Month: time.Month(month)}
	}
}

// Time returns the first instant of the period's anchor month.
func (p BillingPeriod) Time() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Before reports whether p sorts before other.
func (p BillingPeriod) Before(other BillingPeriod) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalText lets BillingPeriod serve as a JSON object key.
func (p BillingPeriod) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the "YYYY-MM" form produced by MarshalText.
func (p *BillingPeriod) UnmarshalText(text []byte) error {
	var year, month int
	if _, err := fmt.Sscanf(string(text), "%4d-%2d", &year, &month); err != nil {
		return fmt.Errorf("invalid billing period %q: %w", text, err)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("invalid billing period %q: month out of range", text)
	}
	p.Year = year
	p.Month = time.Month(month)
	return nil
}
