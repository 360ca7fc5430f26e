// Package headless drives the exchange statistics page through headless Chrome.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
	"github.com/JakeFAU/mse-history-crawler/internal/policy/ratelimit"
)

// ErrEntityNotListed indicates the entity is missing from the listing control.
var ErrEntityNotListed = errors.New("entity not listed")

// Selectors locate the form controls on the statistics page.
type Selectors struct {
	Entity  string
	From    string
	To      string
	Submit  string
	Results string
}

// DefaultSelectors match the exchange's symbol history page.
func DefaultSelectors() Selectors {
	return Selectors{
		Entity:  "#Code",
		From:    "#FromDate",
		To:      "#ToDate",
		Submit:  "#report-filter-container > ul > li:nth-child(4) > input",
		Results: "#resultsTable",
	}
}

// Config controls the behavior of the headless page driver.
type Config struct {
	ListingURL         string
	UserAgent          string
	NavigationTimeout  time.Duration
	InteractionTimeout time.Duration
	SearchQPS          float64
	Selectors          Selectors
}

// Browser owns one Chrome process; every session is a tab inside it.
type Browser struct {
	cfg           Config
	limiter       *ratelimit.Limiter
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger

	warmOnce sync.Once
	warmErr  error
}

// NewChromedp prepares a Chrome allocator. The browser starts on the first session.
func NewChromedp(cfg Config, logger *zap.Logger) (*Browser, error) {
	if strings.TrimSpace(cfg.ListingURL) == "" {
		return nil, fmt.Errorf("listing url is required")
	}
	if cfg.SearchQPS < 0 {
		return nil, fmt.Errorf("search qps must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.InteractionTimeout <= 0 {
		cfg.InteractionTimeout = 10 * time.Second
	}
	cfg.Selectors = withDefaults(cfg.Selectors)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Browser{
		cfg:           cfg,
		limiter:       ratelimit.New(ratelimit.Config{QPS: cfg.SearchQPS, Burst: 1}),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close tears down every tab and the Chrome process.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// NewSession opens a tab on the listing page and waits for the entity control.
func (b *Browser) NewSession(ctx context.Context) (crawler.PageDriver, error) {
	err := await(ctx, b.cfg.NavigationTimeout, nil, func() error {
		b.warmOnce.Do(func() {
			if err := chromedp.Run(b.browserCtx); err != nil {
				b.warmErr = fmt.Errorf("chromedp warmup: %w", err)
			}
		})
		return b.warmErr
	})
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	err = await(ctx, b.cfg.NavigationTimeout, tabCancel, func() error {
		return chromedp.Run(tabCtx)
	})
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	s := &Session{
		browser: b,
		tabCtx:  tabCtx,
		cancel:  tabCancel,
	}
	err = s.run(ctx, b.cfg.NavigationTimeout,
		b.userAgentAction(),
		chromedp.Navigate(b.cfg.ListingURL),
		chromedp.WaitVisible(b.cfg.Selectors.Entity, chromedp.ByQuery),
	)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("load listing page: %w", err)
	}
	b.logger.Debug("headless session opened", zap.String("url", b.cfg.ListingURL))
	return s, nil
}

func (b *Browser) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if b.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (b *Browser) waitSearchBudget(ctx context.Context) error {
	waited, err := b.limiter.Wait(ctx, b.cfg.ListingURL)
	if err != nil {
		return fmt.Errorf("wait search limiter: %w", err)
	}
	if waited > time.Millisecond {
		b.logger.Debug("search throttled", zap.Duration("waited", waited))
	}
	return nil
}

// Session is one browser tab. It is not safe for concurrent use.
type Session struct {
	browser *Browser
	tabCtx  context.Context
	cancel  context.CancelFunc
}

// ListEntities returns the raw labels of the entity control's options.
func (s *Session) ListEntities(ctx context.Context) ([]string, error) {
	var labels []string
	err := s.interact(ctx,
		chromedp.WaitVisible(s.sel().Entity, chromedp.ByQuery),
		chromedp.Evaluate(listOptionsJS(s.sel().Entity), &labels),
	)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return labels, nil
}

// SelectEntity picks the option whose visible text equals the entity.
func (s *Session) SelectEntity(ctx context.Context, entity crawler.Entity) error {
	var found bool
	err := s.interact(ctx,
		chromedp.WaitVisible(s.sel().Entity, chromedp.ByQuery),
		chromedp.Evaluate(selectOptionJS(s.sel().Entity, string(entity)), &found),
	)
	if err != nil {
		return fmt.Errorf("select entity %s: %w", entity, err)
	}
	if !found {
		return fmt.Errorf("select entity %s: %w", entity, ErrEntityNotListed)
	}
	return nil
}

// SetWindow clears and types both date inputs.
func (s *Session) SetWindow(ctx context.Context, window crawler.Window) error {
	sel := s.sel()
	err := s.interact(ctx,
		chromedp.WaitVisible(sel.From, chromedp.ByQuery),
		chromedp.WaitVisible(sel.To, chromedp.ByQuery),
		chromedp.SetValue(sel.From, "", chromedp.ByQuery),
		chromedp.SendKeys(sel.From, window.FromText(), chromedp.ByQuery),
		chromedp.SetValue(sel.To, "", chromedp.ByQuery),
		chromedp.SendKeys(sel.To, window.ToText(), chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("set window %s: %w", window, err)
	}
	return nil
}

// Search submits the filter form. Any stale results table is removed first so
// WaitResults only observes the new one.
func (s *Session) Search(ctx context.Context) error {
	if err := s.browser.waitSearchBudget(ctx); err != nil {
		return err
	}
	var cleared bool
	err := s.interact(ctx,
		chromedp.Evaluate(removeElementJS(s.sel().Results), &cleared),
		chromedp.WaitVisible(s.sel().Submit, chromedp.ByQuery),
		chromedp.Click(s.sel().Submit, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	return nil
}

// WaitResults blocks until the results container is present in the DOM.
func (s *Session) WaitResults(ctx context.Context) error {
	if err := s.interact(ctx, chromedp.WaitReady(s.sel().Results, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait results: %w", err)
	}
	return nil
}

// PageSource returns the rendered document markup.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.interact(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}
	return html, nil
}

// Close closes the tab.
func (s *Session) Close() error {
	s.cancel()
	return nil
}

func (s *Session) sel() Selectors {
	return s.browser.cfg.Selectors
}

func (s *Session) interact(ctx context.Context, actions ...chromedp.Action) error {
	return s.run(ctx, s.browser.cfg.InteractionTimeout, actions...)
}

// run executes actions against the tab bounded by timeout. Cancelling ctx
// aborts the actions without closing the tab.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// forwardCancel calls cancel when parent ends. Once the returned stop function
// returns, a later end of parent no longer reaches cancel.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	stop := context.AfterFunc(parent, cancel)
	return func() { stop() }
}

// await runs fn until it returns, ctx ends or timeout elapses. When it gives
// up early it calls abort, if set, and waits for fn to return; without abort
// fn keeps running in the background.
func await(ctx context.Context, timeout time.Duration, abort func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = fmt.Errorf("gave up after %s: %w", timeout, context.DeadlineExceeded)
	}
	if abort != nil {
		abort()
		<-errCh
	}
	return err
}

func withDefaults(sel Selectors) Selectors {
	def := DefaultSelectors()
	if sel.Entity == "" {
		sel.Entity = def.Entity
	}
	if sel.From == "" {
		sel.From = def.From
	}
	if sel.To == "" {
		sel.To = def.To
	}
	if sel.Submit == "" {
		sel.Submit = def.Submit
	}
	if sel.Results == "" {
		sel.Results = def.Results
	}
	return sel
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func listOptionsJS(selector string) string {
	return fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s + " option")).map(o => o.textContent)`,
		jsString(selector),
	)
}

func selectOptionJS(selector, label string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) { return false; }
  const opt = Array.from(el.options).find(o => o.textContent.trim() === %s);
  if (!opt) { return false; }
  el.value = opt.value;
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
})()`, jsString(selector), jsString(label))
}

func removeElementJS(selector string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (el) { el.remove(); } return true; })()`,
		jsString(selector))
}
