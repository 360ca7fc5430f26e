package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/extract"
	"github.com/JakeFAU/mse-history-crawler/internal/numfmt"
	"github.com/JakeFAU/mse-history-crawler/internal/progress"
)

var testNow = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

type harness struct {
	worker   *Worker
	driver   *fakeDriver
	sessions *fakeSessions
	timer    *fakeTimer
	state    *crawler.RunState
	stats    *Stats
	emitter  *recordingEmitter
}

func newHarness(windows WindowSource, prior map[crawler.CheckpointKey]struct{}, cfg Config) *harness {
	driver := newFakeDriver()
	sessions := &fakeSessions{driver: driver}
	state := crawler.NewRunState(prior)
	stats := &Stats{}
	emitter := &recordingEmitter{}
	if cfg.RunID == [16]byte{} {
		cfg.RunID = [16]byte{1}
	}
	w := New(
		nil,
		sessions,
		extract.NewTableExtractor(""),
		windows,
		state,
		stats,
		emitter,
		fixedClock{now: testNow},
		cfg,
		zap.NewNop(),
	)
	timer := &fakeTimer{}
	w.timer = timer
	return &harness{
		worker:   w,
		driver:   driver,
		sessions: sessions,
		timer:    timer,
		state:    state,
		stats:    stats,
		emitter:  emitter,
	}
}

func TestFetchWindowAbandonsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	h := newHarness(staticWindows{}, nil, Config{MaxAttempts: 5, RetryDelay: 4 * time.Second})
	h.driver.failAll = true
	window := mustWindow(2014, 2015)

	res := h.worker.FetchWindow(context.Background(), "ALK", window)

	assert.Equal(t, FetchAbandoned, res.Status)
	assert.Equal(t, 5, res.Attempts)
	assert.Error(t, res.Err)
	assert.Len(t, h.driver.Searches(), 5)
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}, h.timer.Delays())
	assert.False(t, h.state.Completed(crawler.KeyFor("ALK", window)))
	assert.Zero(t, h.state.RowCount())
	assert.Equal(t, 5, h.sessions.Opens(), "every failed attempt starts from a fresh session")
	assert.EqualValues(t, 1, h.stats.Snapshot().Abandoned)
	assert.Contains(t, h.emitter.Stages(), progress.StageWindowAbandoned)
}

func TestFetchWindowRecoversBeforeLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(staticWindows{}, nil, Config{MaxAttempts: 5, RetryDelay: time.Second})
	window := mustWindow(2014, 2015)
	h.driver.failFirst = 2
	h.driver.serve("ALK", window, tableMarkup([]string{"8/8/2015", "100"}))

	res := h.worker.FetchWindow(context.Background(), "ALK", window)

	assert.Equal(t, FetchSucceeded, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, res.Rows)
	assert.Len(t, h.timer.Delays(), 2)
	assert.Equal(t, 1, h.state.RowCount(), "rows from failed attempts are never kept")
	assert.True(t, h.state.Completed(crawler.KeyFor("ALK", window)))
}

func TestFetchWindowSingleAttemptNeverWaits(t *testing.T) {
	t.Parallel()

	h := newHarness(staticWindows{}, nil, Config{MaxAttempts: 1, RetryDelay: time.Hour})
	h.driver.failAll = true

	res := h.worker.FetchWindow(context.Background(), "ALK", mustWindow(2014, 2015))

	assert.Equal(t, FetchAbandoned, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, h.timer.Delays())
}

func TestFetchWindowRecordsCheckpointForEmptyTable(t *testing.T) {
	t.Parallel()

	h := newHarness(staticWindows{}, nil, Config{MaxAttempts: 5})
	window := mustWindow(2014, 2015)

	res := h.worker.FetchWindow(context.Background(), "ALK", window)

	assert.Equal(t, FetchSucceeded, res.Status)
	assert.Zero(t, res.Rows)
	assert.True(t, h.state.Completed(crawler.KeyFor("ALK", window)))
}

func TestFetchWindowCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(staticWindows{}, nil, Config{MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.worker.FetchWindow(ctx, "ALK", mustWindow(2014, 2015))

	assert.Equal(t, FetchCanceled, res.Status)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, h.driver.Searches())
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestFetchWindowFormatsCells(t *testing.T) {
	t.Parallel()

	formatter := numfmt.New()
	h := newHarness(staticWindows{}, nil, Config{MaxAttempts: 1, Formatter: formatter.Normalize})
	window := mustWindow(2014, 2015)
	h.driver.serve("ALK", window, tableMarkup(
		[]string{"8/8/2015", "1.234,56", "N/A"},
		[]string{"8/7/2015", "700", "12,5"},
	))

	res := h.worker.FetchWindow(context.Background(), "ALK", window)
	require.Equal(t, FetchSucceeded, res.Status)

	rows := h.state.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, crawler.Observation{
		Entity: "ALK",
		From:   "10/9/2014",
		To:     "8/9/2015",
		Fields: []string{"8/8/2015", "1,234.56", "N/A"},
	}, rows[0])
	assert.Equal(t, []string{"8/7/2015", "700.00", "12.50"}, rows[1].Fields)
}

func TestFetchStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "succeeded", FetchSucceeded.String())
	assert.Equal(t, "abandoned", FetchAbandoned.String())
	assert.Equal(t, "canceled", FetchCanceled.String())
	assert.Equal(t, "skipped", FetchSkipped.String())
	assert.Equal(t, "FetchStatus(0)", FetchStatus(0).String())
}
