// Package collyfetcher implements listing.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrEmptyBody is returned when a 2xx response carries no bytes.
var ErrEmptyBody = errors.New("empty response body")

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 32 << 20
	defaultAccept      = "image/*,*/*;q=0.8"
	defaultAcceptLang  = "en-US,en;q=0.9"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Referer is sent with every image request; marketplaces reject hotlinks
	// that arrive without one.
	Referer     string
	Timeout     time.Duration
	MaxBodySize int
	Headers     http.Header
}

// Fetcher downloads image bytes using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	// transport is shared by every cloned collector so keep-alive
	// connections are pooled across fetches.
	transport *http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	// Clones share the base collector's HTTP backend, so the client is
	// configured once here and never per fetch.
	transport := newHTTPTransport()
	c.WithTransport(transport)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		transport:     transport,
	}
}

// Fetch executes a single HTTP GET and returns the body. Non-2xx statuses and
// empty bodies are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := f.buildCollector(&body, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%s: %w", url, ErrEmptyBody)
	}
	return body, nil
}

func (f *Fetcher) buildCollector(body *[]byte, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.MaxBodySize = f.cfg.MaxBodySize
	if collector.MaxBodySize == 0 {
		collector.MaxBodySize = defaultMaxBodySize
	}

	f.configureCollectorHooks(collector, body, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			*fetchErr = fmt.Errorf("unexpected status %d", r.StatusCode)
			return
		}
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) setHeaders(r *colly.Request) {
	r.Headers.Set("Accept", defaultAccept)
	r.Headers.Set("Accept-Language", defaultAcceptLang)
	r.Headers.Set("Cache-Control", "no-cache")
	if f.cfg.Referer != "" {
		r.Headers.Set("Referer", f.cfg.Referer)
	}
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// Close releases idle pooled connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
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
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
}
