// Package collyfetcher discovers entities from the static listing page using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultOptionSelector matches the options of the entity dropdown.
const DefaultOptionSelector = "#Code option"

// Config controls collector behavior.
type Config struct {
	ListingURL     string
	UserAgent      string
	OptionSelector string
	Timeout        time.Duration
}

// Lister implements crawler.EntityLister with a plain HTTP GET. The listing
// control is rendered server-side, so no browser is needed to read it.
type Lister struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Lister.
func New(cfg Config) (*Lister, error) {
	if strings.TrimSpace(cfg.ListingURL) == "" {
		return nil, fmt.Errorf("listing url is required")
	}
	if cfg.OptionSelector == "" {
		cfg.OptionSelector = DefaultOptionSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Lister{cfg: cfg, baseCollector: c}, nil
}

// ListEntities returns the raw option labels of the listing control.
func (l *Lister) ListEntities(ctx context.Context) ([]string, error) {
	collector := l.baseCollector.Clone()
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.SetRequestTimeout(l.cfg.Timeout)

	var (
		mu       sync.Mutex
		labels   []string
		fetchErr error
	)
	l.configureHooks(collector, func(label string) {
		mu.Lock()
		labels = append(labels, label)
		mu.Unlock()
	}, &fetchErr)

	if err := runCollector(ctx, collector, l.cfg.ListingURL, &fetchErr); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), labels...), nil
}

func (l *Lister) configureHooks(hooks collectorHooks, collect func(string), fetchErr *error) {
	hooks.OnHTML(l.cfg.OptionSelector, func(e *colly.HTMLElement) {
		collect(e.Text)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly listing canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
