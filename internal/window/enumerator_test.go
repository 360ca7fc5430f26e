package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		BackfillStartYear: 2014,
		BackfillYears:     10,
		FromMonth:         time.October,
		FromDay:           9,
		ToMonth:           time.August,
		ToDay:             9,
		FallbackYears:     10,
	}
}

func TestBackfillMatchesExchangeAnchors(t *testing.T) {
	t.Parallel()

	enum, err := New(defaultConfig())
	require.NoError(t, err)

	windows := enum.Backfill()
	require.Len(t, windows, 10)
	require.Equal(t, "10/9/2014", windows[0].FromText())
	require.Equal(t, "8/9/2015", windows[0].ToText())
	require.Equal(t, "10/9/2023", windows[9].FromText())
	require.Equal(t, "8/9/2024", windows[9].ToText())

	for i := 1; i < len(windows); i++ {
		require.True(t, windows[i-1].From.Before(windows[i].From), "windows must ascend")
		require.True(t, windows[i-1].To.Before(windows[i].From), "windows must not overlap")
	}
}

func TestFallbackClampsToToday(t *testing.T) {
	t.Parallel()

	enum, err := New(defaultConfig())
	require.NoError(t, err)

	now := time.Date(2026, time.October, 16, 14, 0, 0, 0, time.UTC)
	windows := enum.Fallback(now)
	require.Len(t, windows, 10)

	last := windows[len(windows)-1]
	require.Equal(t, "10/9/2026", last.FromText())
	require.Equal(t, "10/16/2026", last.ToText())

	first := windows[0]
	require.Equal(t, "10/9/2017", first.FromText())
	require.Equal(t, "8/9/2018", first.ToText())

	for _, w := range windows {
		require.False(t, w.To.After(enum.Today(now)))
		require.True(t, w.From.Before(w.To))
	}
}

func TestFallbackSkipsFutureAnchor(t *testing.T) {
	t.Parallel()

	enum, err := New(defaultConfig())
	require.NoError(t, err)

	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	windows := enum.Fallback(now)
	require.Len(t, windows, 9)
	require.Equal(t, "10/9/2025", windows[len(windows)-1].FromText())
	require.Equal(t, "3/1/2026", windows[len(windows)-1].ToText())
}

func TestTodayUsesConfiguredLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 2*60*60)
	cfg := defaultConfig()
	cfg.Location = loc
	enum, err := New(cfg)
	require.NoError(t, err)

	now := time.Date(2026, time.October, 16, 23, 30, 0, 0, time.UTC)
	require.Equal(t, 17, enum.Today(now).Day())
}

func TestNewValidatesAnchors(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.FromMonth = 13
	_, err := New(cfg)
	require.Error(t, err)

	cfg = defaultConfig()
	cfg.ToDay = 0
	_, err = New(cfg)
	require.Error(t, err)

	cfg = defaultConfig()
	cfg.BackfillYears = -1
	_, err = New(cfg)
	require.Error(t, err)
}
