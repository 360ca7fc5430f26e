// Package window enumerates the date windows queried for each entity.
//
// Two policies exist. Backfill walks a fixed span of historical years anchored at
// a month/day pair. Fallback walks trailing years backward from the current year,
// clamping each window's end to today; it is only used when backfill produced no
// new rows for an entity. Both return windows in ascending chronological order.
package window

import (
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
)

// Config captures the window anchors and spans.
type Config struct {
	BackfillStartYear int
	BackfillYears     int
	FromMonth         time.Month
	FromDay           int
	ToMonth           time.Month
	ToDay             int
	FallbackYears     int
	Layout            string
	Location          *time.Location
}

// Enumerator generates windows for the backfill and fallback policies.
type Enumerator struct {
	cfg Config
}

// New validates the configuration and builds an Enumerator.
func New(cfg Config) (*Enumerator, error) {
	if cfg.BackfillYears < 0 {
		return nil, fmt.Errorf("backfill years must be >= 0")
	}
	if cfg.FallbackYears < 0 {
		return nil, fmt.Errorf("fallback years must be >= 0")
	}
	if cfg.BackfillYears > 0 && cfg.BackfillStartYear <= 0 {
		return nil, fmt.Errorf("backfill start year must be > 0")
	}
	if cfg.FromMonth < time.January || cfg.FromMonth > time.December ||
		cfg.ToMonth < time.January || cfg.ToMonth > time.December {
		return nil, fmt.Errorf("anchor months must be within 1..12")
	}
	if cfg.FromDay < 1 || cfg.FromDay > 31 || cfg.ToDay < 1 || cfg.ToDay > 31 {
		return nil, fmt.Errorf("anchor days must be within 1..31")
	}
	if cfg.Layout == "" {
		cfg.Layout = crawler.DefaultDateLayout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Enumerator{cfg: cfg}, nil
}

// Backfill returns the historical windows in ascending year order.
func (e *Enumerator) Backfill() []crawler.Window {
	out := make([]crawler.Window, 0, e.cfg.BackfillYears)
	for i := 0; i < e.cfg.BackfillYears; i++ {
		from, to := e.anchored(e.cfg.BackfillStartYear + i)
		w, err := crawler.NewWindow(from, to, e.cfg.Layout)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Fallback returns the trailing windows ending at or before now, oldest first.
func (e *Enumerator) Fallback(now time.Time) []crawler.Window {
	today := e.today(now)
	out := make([]crawler.Window, 0, e.cfg.FallbackYears)
	for i := 0; i < e.cfg.FallbackYears; i++ {
		from, to := e.anchored(today.Year() - i)
		if to.After(today) {
			to = today
		}
		w, err := crawler.NewWindow(from, to, e.cfg.Layout)
		if err != nil {
			// the anchor for this year lies in the future
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].From.Before(out[j].From)
	})
	return out
}

// Today is the current calendar day in the exchange's location.
func (e *Enumerator) Today(now time.Time) time.Time {
	return e.today(now)
}

func (e *Enumerator) anchored(year int) (time.Time, time.Time) {
	from := time.Date(year, e.cfg.FromMonth, e.cfg.FromDay, 0, 0, 0, 0, e.cfg.Location)
	to := time.Date(year, e.cfg.ToMonth, e.cfg.ToDay, 0, 0, 0, 0, e.cfg.Location)
	if !to.After(from) {
		to = to.AddDate(1, 0, 0)
	}
	return from, to
}

func (e *Enumerator) today(now time.Time) time.Time {
	local := now.In(e.cfg.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.cfg.Location)
}
