package tariff

import (
	"context"
	"time"

	"github.com/taipowertou/taipowertou/pkg/calendar"
	"github.com/taipowertou/taipowertou/pkg/types"
)

// DayTypeStrategy classifies calendar dates into day-type labels. The batch
// form must resolve holiday status with a single batched calendar call so
// resolving many dates doesn't turn into per-date calendar I/O.
type DayTypeStrategy interface {
	DayTypeOf(ctx context.Context, t time.Time) types.DayType
	DayTypeBatch(ctx context.Context, dates []time.Time) []types.DayType

	// DayTypes returns the fixed set of labels this strategy can produce,
	// used to size lookup tables.
	DayTypes() []types.DayType

	// Preload warms calendar data for the given years.
	Preload(ctx context.Context, years []int)
}

// TaipowerDays is the standard Taipower day-type strategy: holidays (and
// Sundays) are "sunday_holiday", plain Saturdays are "saturday", everything
// else is "weekday".
type TaipowerDays struct {
	cal calendar.Calendar
}

// NewTaipowerDays returns the standard strategy backed by cal.
func NewTaipowerDays(cal calendar.Calendar) *TaipowerDays {
	return &TaipowerDays{cal: cal}
}

// DayTypeOf implements DayTypeStrategy.
func (s *TaipowerDays) DayTypeOf(ctx context.Context, t time.Time) types.DayType {
	if s.cal.IsHoliday(ctx, t) {
		return types.DayTypeSundayHoliday
	}
	if t.Weekday() == time.Saturday {
		return types.DayTypeSaturday
	}
	return types.DayTypeWeekday
}

// DayTypeBatch implements DayTypeStrategy.
func (s *TaipowerDays) DayTypeBatch(ctx context.Context, dates []time.Time) []types.DayType {
	holidays := s.cal.IsHolidayBatch(ctx, dates)
	out := make([]types.DayType, len(dates))
	for i, d := range dates {
		switch {
		case holidays[i]:
			out[i] = types.DayTypeSundayHoliday
		case d.Weekday() == time.Saturday:
			out[i] = types.DayTypeSaturday
		default:
			out[i] = types.DayTypeWeekday
		}
	}
	return out
}

// DayTypes implements DayTypeStrategy.
func (s *TaipowerDays) DayTypes() []types.DayType {
	return []types.DayType{types.DayTypeWeekday, types.DayTypeSaturday, types.DayTypeSundayHoliday}
}

// Preload implements DayTypeStrategy.
func (s *TaipowerDays) Preload(ctx context.Context, years []int) {
	s.cal.Preload(ctx, years)
}

// CustomDays maps each weekday to an arbitrary label, with a separate label
// for holidays. It supports non-Taipower day-type taxonomies, for example
// treating Monday as a weekend day.
type CustomDays struct {
	cal      calendar.Calendar
	weekdays map[time.Weekday]types.DayType
	holiday  types.DayType
	labels   []types.DayType
}

// NewCustomDays returns a strategy using the given weekday→label map and
// holiday label. Weekdays absent from the map get the "weekday" label.
func NewCustomDays(cal calendar.Calendar, weekdays map[time.Weekday]types.DayType, holiday types.DayType) *CustomDays {
	s := &CustomDays{
		cal:      cal,
		weekdays: make(map[time.Weekday]types.DayType, len(weekdays)),
		holiday:  holiday,
	}
	for wd, label := range weekdays {
		s.weekdays[wd] = label
	}

	// collect the distinct labels in a stable order
	seen := make(map[types.DayType]bool)
	add := func(label types.DayType) {
		if !seen[label] {
			seen[label] = true
			s.labels = append(s.labels, label)
		}
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		add(s.labelFor(wd))
	}
	add(holiday)
	return s
}

func (s *CustomDays) labelFor(wd time.Weekday) types.DayType {
	if label, ok := s.weekdays[wd]; ok {
		return label
	}
	return types.DayTypeWeekday
}

// DayTypeOf implements DayTypeStrategy.
func (s *CustomDays) DayTypeOf(ctx context.Context, t time.Time) types.DayType {
	if s.cal.IsHoliday(ctx, t) {
		return s.holiday
	}
	return s.labelFor(t.Weekday())
}

// DayTypeBatch implements DayTypeStrategy.
func (s *CustomDays) DayTypeBatch(ctx context.Context, dates []time.Time) []types.DayType {
	holidays := s.cal.IsHolidayBatch(ctx, dates)
	out := make([]types.DayType, len(dates))
	for i, d := range dates {
		if holidays[i] {
			out[i] = s.holiday
		} else {
			out[i] = s.labelFor(d.Weekday())
		}
	}
	return out
}

// DayTypes implements DayTypeStrategy.
func (s *CustomDays) DayTypes() []types.DayType {
	return s.labels
}

// Preload implements DayTypeStrategy.
func (s *CustomDays) Preload(ctx context.Context, years []int) {
	s.cal.Preload(ctx, years)
}
