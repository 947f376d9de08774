// Package pipeline downloads every candidate image of a listing in parallel,
// trying URL variants in order until one succeeds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/urlnorm"
)

// Fetch outcomes reported to the observer.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

const defaultConcurrency = 8

// Config controls the fetch pipeline.
type Config struct {
	// Concurrency bounds in-flight candidates; zero uses the default.
	Concurrency int
	// Rules produce the fallback variants tried after the primary URL.
	Rules []urlnorm.Rule
	// Throttle, when set, is waited on before every request.
	Throttle Throttle
}

// Throttle paces requests to an origin.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Outcome records how a single candidate resolved.
type Outcome struct {
	Index   int
	URL     string
	Variant string
	Err     error
}

// Summary is the result of a FetchAll call. Items are sorted by Index.
type Summary struct {
	Items    []listing.FetchedItem
	Failures []Outcome
}

// Observer is notified of each candidate's outcome.
type Observer func(outcome string)

// Pipeline fans image downloads out over a bounded worker group.
type Pipeline struct {
	fetcher     listing.Fetcher
	rules       []urlnorm.Rule
	throttle    Throttle
	concurrency int
	logger      *zap.Logger
	observe     Observer
}

// New builds a Pipeline.
func New(fetcher listing.Fetcher, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Pipeline{
		fetcher:     fetcher,
		rules:       cfg.Rules,
		throttle:    cfg.Throttle,
		concurrency: concurrency,
		logger:      logger,
	}
}

// WithObserver registers a callback for per-candidate outcomes.
func (p *Pipeline) WithObserver(obs Observer) *Pipeline {
	p.observe = obs
	return p
}

// FetchAll downloads urls concurrently. Individual failures never abort the
// batch; ErrNoItemsFetched is returned only when nothing succeeded.
func (p *Pipeline) FetchAll(ctx context.Context, urls []string) (Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, raw := range urls {
		index := i + 1
		g.Go(func() error {
			item, outcome := p.fetchOne(gctx, index, raw)
			mu.Lock()
			defer mu.Unlock()
			if outcome.Err != nil {
				summary.Failures = append(summary.Failures, outcome)
				return nil
			}
			summary.Items = append(summary.Items, item)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("fetch canceled: %w", err)
	}
	sort.Slice(summary.Items, func(i, j int) bool { return summary.Items[i].Index < summary.Items[j].Index })
	sort.Slice(summary.Failures, func(i, j int) bool { return summary.Failures[i].Index < summary.Failures[j].Index })

	p.logger.Info("image fetch complete",
		zap.Int("requested", len(urls)),
		zap.Int("fetched", len(summary.Items)),
		zap.Int("failed", len(summary.Failures)),
	)
	if len(summary.Items) == 0 {
		return summary, listing.ErrNoItemsFetched
	}
	return summary, nil
}

func (p *Pipeline) fetchOne(ctx context.Context, index int, raw string) (listing.FetchedItem, Outcome) {
	var errs []error
	for i, variant := range urlnorm.Variants(raw, p.rules) {
		if p.throttle != nil {
			if err := p.throttle.Wait(ctx, variant.URL); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", variant.Name, err))
				break
			}
		}
		data, err := p.fetcher.Fetch(ctx, variant.URL)
		if err == nil {
			if i == 0 {
				p.report(OutcomeOK)
			} else {
				p.report(OutcomeFallback)
				p.logger.Debug("image fetched via fallback",
					zap.Int("index", index),
					zap.String("variant", variant.Name),
					zap.String("url", variant.URL),
				)
			}
			return listing.FetchedItem{Index: index, URL: variant.URL, Data: data},
				Outcome{Index: index, URL: variant.URL, Variant: variant.Name}
		}
		errs = append(errs, fmt.Errorf("%s: %w", variant.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	err := errors.Join(errs...)
	p.report(OutcomeFailed)
	p.logger.Warn("image fetch failed",
		zap.Int("index", index),
		zap.String("url", raw),
		zap.Error(err),
	)
	return listing.FetchedItem{}, Outcome{Index: index, URL: raw, Err: err}
}

func (p *Pipeline) report(outcome string) {
	if p.observe != nil {
		p.observe(outcome)
	}
}
