package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/taipowertou/taipowertou/pkg/common"
	"github.com/taipowertou/taipowertou/pkg/log"
)

const (
	defaultCalendarURL = "https://raw.githubusercontent.com/ruyut/TaiwanCalendar/master/data"

	fetchAttempts     = 3
	fetchRetryBackoff = 500 * time.Millisecond
)

// Taiwan is a Calendar backed by the Taiwan government administrative
// calendar (via the TaiwanCalendar dataset). Year files are fetched on
// demand, cached on disk and memoized in memory. If a year cannot be
// fetched, a static fallback of fixed-date national holidays is used so
// lookups never fail.
type Taiwan struct {
	baseURL  string
	cacheDir string
	client   *http.Client

	mu    sync.Mutex
	years map[int]map[int]bool
}

// ConfiguredTaiwan sets up flags for the Taiwan calendar and returns the
// instance. Fields are populated once lflag.Parse runs.
func ConfiguredTaiwan() *Taiwan {
	c := &Taiwan{
		client: common.HTTPClient(10 * time.Second),
		years:  make(map[int]map[int]bool),
	}
	baseURL := lflag.String("taiwan-calendar-url", defaultCalendarURL, "base URL for the TaiwanCalendar year JSON files")
	cacheDir := lflag.String("taiwan-calendar-cache-dir", "", "directory for cached calendar year files (defaults to the user cache dir)")

	lflag.Do(func() {
		c.baseURL = *baseURL
		c.cacheDir = *cacheDir
	})

	return c
}

// NewTaiwan returns a Taiwan calendar with explicit configuration. Empty
// arguments select the defaults.
func NewTaiwan(baseURL, cacheDir string) *Taiwan {
	if baseURL == "" {
		baseURL = defaultCalendarURL
	}
	return &Taiwan{
		baseURL:  baseURL,
		cacheDir: cacheDir,
		client:   common.HTTPClient(10 * time.Second),
		years:    make(map[int]map[int]bool),
	}
}

// calendarEntry is a single day in a TaiwanCalendar year file.
type calendarEntry struct {
	Date        string `json:"date"`
	Week        string `json:"week"`
	IsHoliday   bool   `json:"isHoliday"`
	Description string `json:"description"`
}

// IsHoliday implements Calendar. Sundays are always holidays. Saturdays
// only count when the calendar names a holiday on them, since plain
// Saturdays carry their own schedule.
func (c *Taiwan) IsHoliday(ctx context.Context, t time.Time) bool {
	if t.Weekday() == time.Sunday {
		return true
	}
	y, m, d := t.Date()
	return c.yearHolidays(ctx, y)[int(m)*100+d]
}

// IsHolidayBatch implements Calendar.
func (c *Taiwan) IsHolidayBatch(ctx context.Context, dates []time.Time) []bool {
	out := make([]bool, len(dates))
	for i, d := range dates {
		out[i] = c.IsHoliday(ctx, d)
	}
	return out
}

// Preload implements Calendar.
func (c *Taiwan) Preload(ctx context.Context, years []int) {
	for _, y := range years {
		c.yearHolidays(ctx, y)
	}
}

// yearHolidays returns the holiday set for a year, keyed by month*100+day.
// It consults, in order: the in-memory memo, the disk cache, the upstream
// dataset and finally the static fallback.
func (c *Taiwan) yearHolidays(ctx context.Context, year int) map[int]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.years[year]; ok {
		return set
	}

	raw, err := c.readCachedYear(year)
	if err != nil {
		raw, err = c.fetchYear(ctx, year)
		if err == nil {
			c.writeCachedYear(ctx, year, raw)
		}
	}

	var set map[int]bool
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"taiwan calendar unavailable, using fallback holidays",
			slog.Int("year", year),
			slog.Any("error", err),
		)
		set = fallbackHolidays()
	} else {
		set, err = parseYear(raw)
		if err != nil {
			log.Ctx(ctx).ErrorContext(
				ctx,
				"failed to parse taiwan calendar data",
				slog.Int("year", year),
				slog.Any("error", err),
			)
			set = fallbackHolidays()
		}
	}

	c.years[year] = set
	return set
}

// parseYear decodes a TaiwanCalendar year file into a holiday set. Saturday
// entries without a description are skipped: those are ordinary Saturdays
// flagged as days off, not national holidays.
func parseYear(raw []byte) (map[int]bool, error) {
	var entries []calendarEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode calendar entries: %w", err)
	}

	set := make(map[int]bool)
	for _, e := range entries {
		if !e.IsHoliday {
			continue
		}
		d, err := time.Parse("20060102", e.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar date %q: %w", e.Date, err)
		}
		if d.Weekday() == time.Saturday && e.Description == "" {
			continue
		}
		set[int(d.Month())*100+d.Day()] = true
	}
	return set, nil
}

func (c *Taiwan) fetchYear(ctx context.Context, year int) ([]byte, error) {
	u := c.baseURL + "/" + strconv.Itoa(year) + ".json"

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(fetchRetryBackoff * time.Duration(attempt)):
			}
		}

		raw, err := c.fetchOnce(ctx, u)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		log.Ctx(ctx).DebugContext(
			ctx,
			"taiwan calendar fetch failed",
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}
	return nil, lastErr
}

func (c *Taiwan) fetchOnce(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar source returned status: %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar response: %w", err)
	}
	return buf, nil
}

func (c *Taiwan) cachePath(year int) (string, error) {
	dir := c.cacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine cache dir: %w", err)
		}
		dir = filepath.Join(base, "taipowertou")
	}
	return filepath.Join(dir, strconv.Itoa(year)+".json"), nil
}

func (c *Taiwan) readCachedYear(year int) ([]byte, error) {
	p, err := c.cachePath(year)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (c *Taiwan) writeCachedYear(ctx context.Context, year int, raw []byte) {
	p, err := c.cachePath(year)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(p), 0o755)
	}
	if err == nil {
		err = os.WriteFile(p, raw, 0o644)
	}
	if err != nil {
		// caching is best-effort, the in-memory memo still applies
		log.Ctx(ctx).DebugContext(
			ctx,
			"failed to cache taiwan calendar year",
			slog.Int("year", year),
			slog.Any("error", err),
		)
	}
}

// fallbackHolidays returns the fixed-date national holidays used when the
// upstream calendar is unreachable. Lunar holidays shift year to year and
// can't be derived offline, so they're absent here. Sundays are handled
// separately and don't need entries.
func fallbackHolidays() map[int]bool {
	fixed := []int{101, 228, 404, 501, 928, 1010, 1025, 1225}
	set := make(map[int]bool, len(fixed))
	for _, d := range fixed {
		set[d] = true
	}
	return set
}
