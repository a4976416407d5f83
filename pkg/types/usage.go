package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidUsage is wrapped by every usage-series validation failure.
var ErrInvalidUsage = errors.New("invalid usage input")

// UsagePoint is one metered energy reading.
type UsagePoint struct {
	TS  time.Time `json:"ts"`
	KWH float64   `json:"kwh"`
}

// UsageSeries is a timestamp-ordered sequence of energy readings.
// Duplicate timestamps are allowed; out-of-order timestamps are not.
type UsageSeries []UsagePoint

// Validate rejects series the tariff engine cannot price: empty
// timestamps, NaN, negative or infinite values, and out-of-order
// indexes. It must pass before any cost calculation starts.
func (s UsageSeries) Validate() error {
	for i, point := range s {
		if point.TS.IsZero() {
			return fmt.Errorf("%w: zero timestamp at index %d", ErrInvalidUsage, i)
		}
		if math.IsNaN(point.KWH) {
			return fmt.Errorf("%w: NaN value at index %d", ErrInvalidUsage, i)
		}
		if math.IsInf(point.KWH, 0) {
			return fmt.Errorf("%w: infinite value at index %d", ErrInvalidUsage, i)
		}
		if point.KWH < 0 {
			return fmt.Errorf("%w: negative value at index %d", ErrInvalidUsage, i)
		}
		if i > 0 && point.TS.Before(s[i-1].TS) {
			return fmt.Errorf("%w: timestamps out of order at index %d", ErrInvalidUsage, i)
		}
	}
	return nil
}

// Times returns the series timestamps in order.
func (s UsageSeries) Times() []time.Time {
	ts := make([]time.Time, len(s))
	for i, point := range s {
		ts[i] = point.TS
	}
	return ts
}

// Total sums the series values.
func (s UsageSeries) Total() float64 {
	var total float64
	for _, point := range s {
		total += point.KWH
	}
	return total
}

// Clone returns an independent copy of the series. Adjustments like
// the minimum-usage floor operate on copies and never mutate
// caller-owned data.
func (s UsageSeries) Clone() UsageSeries {
	out := make(UsageSeries, len(s))
	copy(out, s)
	return out
}
