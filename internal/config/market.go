// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"time"
	_ "time/tzdata"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// MarketCalendar decides whether the market is open, for callers that do
// not pass their own market-hours signal. It knows weekdays and a daily
// session window only; exchange holidays count as open days.
type MarketCalendar struct {
	loc         *time.Location
	open, close time.Duration
	openTTL     time.Duration
	closedTTL   time.Duration
}

// NewMarketCalendar parses the session window in cfg.
func NewMarketCalendar(cfg types.MarketHoursConfig) (*MarketCalendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fault.Configf("market_hours: timezone %q: %v", cfg.Timezone, err)
	}
	open, err := clock(cfg.Open)
	if err != nil {
		return nil, fault.Configf("market_hours: open %q: %v", cfg.Open, err)
	}
	closeAt, err := clock(cfg.Close)
	if err != nil {
		return nil, fault.Configf("market_hours: close %q: %v", cfg.Close, err)
	}
	if closeAt <= open {
		return nil, fault.Configf("market_hours: close %s is not after open %s", cfg.Close, cfg.Open)
	}
	return &MarketCalendar{
		loc:       loc,
		open:      open,
		close:     closeAt,
		openTTL:   cfg.OpenTTL,
		closedTTL: cfg.ClosedTTL,
	}, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsOpen reports whether t falls inside a weekday session.
func (m *MarketCalendar) IsOpen(t time.Time) bool {
	local := t.In(m.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	y, mo, d := local.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, m.loc)
	since := local.Sub(midnight)
	return since >= m.open && since < m.close
}

// TTL returns the cache TTL for the market state, preferring the tool's
// own overrides.
func (m *MarketCalendar) TTL(open bool, tool types.ToolSpec) time.Duration {
	if open {
		if tool.OpenTTL > 0 {
			return tool.OpenTTL
		}
		return m.openTTL
	}
	if tool.ClosedTTL > 0 {
		return tool.ClosedTTL
	}
	return m.closedTTL
}
