// Package tariff implements Taipower tariff evaluation: mapping timestamps
// to (season, day-type, rate-period) triples and turning usage series into
// per-billing-period costs under time-of-use and tiered rate structures.
package tariff

import (
	"time"

	"github.com/taipowertou/taipowertou/pkg/types"
)

// SeasonStrategy classifies a calendar date into a season. Every date maps
// to exactly one season.
type SeasonStrategy interface {
	SeasonOf(t time.Time) types.Season

	// Seasons returns the fixed set of seasons this strategy can produce,
	// used to size lookup tables.
	Seasons() []types.Season
}

// SeasonWindow is a SeasonStrategy driven by a (month, day) window: dates
// inside the window are summer, everything else is non-summer. A window
// whose start is after its end wraps across year-end.
type SeasonWindow struct {
	StartMonth, StartDay int
	EndMonth, EndDay     int
}

// TaipowerSeasons returns the standard Taipower summer window,
// June 1 through September 30 inclusive.
func TaipowerSeasons() *SeasonWindow {
	return &SeasonWindow{StartMonth: 6, StartDay: 1, EndMonth: 9, EndDay: 30}
}

// SeasonOf implements SeasonStrategy.
func (w *SeasonWindow) SeasonOf(t time.Time) types.Season {
	_, m, d := t.Date()
	key := int(m)*100 + d
	start := w.StartMonth*100 + w.StartDay
	end := w.EndMonth*100 + w.EndDay

	var summer bool
	if start <= end {
		summer = key >= start && key <= end
	} else {
		// window wraps December into January
		summer = key >= start || key <= end
	}
	if summer {
		return types.SeasonSummer
	}
	return types.SeasonNonSummer
}

// Seasons implements SeasonStrategy.
func (w *SeasonWindow) Seasons() []types.Season {
	return []types.Season{types.SeasonSummer, types.SeasonNonSummer}
}
