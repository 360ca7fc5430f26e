package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/progress"
)

const emptyTable = `<table id="resultsTable"><tbody></tbody></table>`

func tableMarkup(rows ...[]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="resultsTable"><thead><tr><th>Date</th><th>Price</th></tr></thead><tbody>`)
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			fmt.Fprintf(&b, "<td>%s</td>", cell)
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

// fakeDriver serves canned markup keyed by "entity window" and can be told to fail.
type fakeDriver struct {
	mu        sync.Mutex
	tables    map[string]string
	failFirst int
	failAll   bool
	onSearch  func(entity crawler.Entity, window crawler.Window)

	entity   crawler.Entity
	window   crawler.Window
	searches []string
	closes   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{tables: map[string]string{}}
}

func (d *fakeDriver) serve(entity crawler.Entity, window crawler.Window, markup string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[string(entity)+" "+window.String()] = markup
}

func (d *fakeDriver) ListEntities(context.Context) ([]string, error) {
	return nil, errors.New("not supported")
}

func (d *fakeDriver) SelectEntity(_ context.Context, entity crawler.Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entity = entity
	return nil
}

func (d *fakeDriver) SetWindow(_ context.Context, window crawler.Window) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = window
	return nil
}

func (d *fakeDriver) Search(context.Context) error {
	d.mu.Lock()
	entity, window := d.entity, d.window
	d.searches = append(d.searches, string(entity)+" "+window.String())
	fail := d.failAll || d.failFirst > 0
	if d.failFirst > 0 {
		d.failFirst--
	}
	hook := d.onSearch
	d.mu.Unlock()
	if hook != nil {
		hook(entity, window)
	}
	if fail {
		return errors.New("element not interactable")
	}
	return nil
}

func (d *fakeDriver) WaitResults(context.Context) error {
	return nil
}

func (d *fakeDriver) PageSource(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if markup, ok := d.tables[string(d.entity)+" "+d.window.String()]; ok {
		return markup, nil
	}
	return emptyTable, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDriver) Searches() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.searches...)
}

func (d *fakeDriver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// fakeSessions hands out the same driver and counts how often a session was opened.
type fakeSessions struct {
	mu     sync.Mutex
	driver *fakeDriver
	opens  int
	err    error
}

func (f *fakeSessions) NewSession(context.Context) (crawler.PageDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.err != nil {
		return nil, f.err
	}
	return f.driver, nil
}

func (f *fakeSessions) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// fakeTimer fires immediately and records the requested delays.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	ch     chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays = append(t.delays, d)
	t.ch = make(chan time.Time, 1)
	t.ch <- time.Time{}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

func (t *fakeTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

// staticWindows is a WindowSource with explicit window lists.
type staticWindows struct {
	backfill []crawler.Window
	fallback []crawler.Window
}

func (s staticWindows) Backfill() []crawler.Window {
	return s.backfill
}

func (s staticWindows) Fallback(time.Time) []crawler.Window {
	return s.fallback
}

func (s staticWindows) Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func mustWindow(fromYear, toYear int) crawler.Window {
	w, err := crawler.NewWindow(
		time.Date(fromYear, time.October, 9, 0, 0, 0, 0, time.UTC),
		time.Date(toYear, time.August, 9, 0, 0, 0, 0, time.UTC),
		"",
	)
	if err != nil {
		panic(err)
	}
	return w
}
