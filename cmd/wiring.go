package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/app"
	"github.com/JakeFAU/listing-image-archiver/internal/browser"
	"github.com/JakeFAU/listing-image-archiver/internal/clock/system"
	"github.com/JakeFAU/listing-image-archiver/internal/config"
	"github.com/JakeFAU/listing-image-archiver/internal/extract"
	collyfetcher "github.com/JakeFAU/listing-image-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/listing-image-archiver/internal/id/uuid"
	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/metrics"
	"github.com/JakeFAU/listing-image-archiver/internal/pipeline"
	"github.com/JakeFAU/listing-image-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/listing-image-archiver/internal/session"
	gcsstore "github.com/JakeFAU/listing-image-archiver/internal/storage/gcs"
	localstore "github.com/JakeFAU/listing-image-archiver/internal/storage/local"
	memorystore "github.com/JakeFAU/listing-image-archiver/internal/storage/memory"
	"github.com/JakeFAU/listing-image-archiver/internal/urlnorm"
)

// components holds everything one process needs to run extraction cycles.
type components struct {
	browser  *browser.Browser
	sessions *session.Manager
	service  *app.Service
	clock    listing.Clock
	closers  []func() error
}

// Close releases the browser and backend clients in reverse build order.
func (c *components) Close() error {
	var errs []error
	if c.browser != nil {
		c.browser.Shutdown()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildComponents(ctx context.Context, cfg config.Config, logger *zap.Logger) (*components, error) {
	metrics.Init()
	c := &components{clock: system.New()}

	store, err := c.buildStore(ctx, cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	registry, err := c.buildRegistry(ctx, cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	sessions, err := session.NewManager(
		session.Config{
			WorkDir:            cfg.Session.WorkDir,
			Retention:          cfg.Retention(),
			DefaultArchiveName: cfg.Site.DefaultArchiveName,
		},
		store,
		registry,
		c.clock,
		uuid.New(),
		logger.Named("session"),
	)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("init session manager: %w", err)
	}
	c.sessions = sessions.WithHooks(session.Hooks{
		OnArchived: metrics.IncActiveSessions,
		OnExpired:  metrics.ObserveSessionExpired,
	})

	c.browser, err = browser.New(browser.Config{
		Headless:          cfg.Browser.Headless,
		NoSandbox:         cfg.Browser.NoSandbox,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: secondsOrZero(cfg.Browser.NavTimeoutSeconds),
		ImageWaitTimeout:  secondsOrZero(cfg.Browser.ImageWaitTimeoutSeconds),
		MaxPages:          cfg.Browser.MaxPages,
	}, logger.Named("browser"))
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("init browser: %w", err)
	}

	rules, err := urlnorm.CompileRules(cfg.Fetch.VariantRules)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("compile variant rules: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Referer:   cfg.Site.Referer,
		Timeout:   secondsOrZero(cfg.Fetch.TimeoutSeconds),
		Headers:   cfg.FetchHeaders(),
	})
	c.closers = append(c.closers, func() error {
		fetcher.Close()
		return nil
	})
	throttle := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.Fetch.PerHostRPS,
		Burst:      cfg.Fetch.PerHostBurst,
	}).WithObserver(metrics.ObserveFetchThrottle)
	fetchAll := pipeline.New(fetcher, pipeline.Config{
		Concurrency: cfg.Fetch.MaxParallel,
		Rules:       rules,
		Throttle:    throttle,
	}, logger.Named("pipeline")).WithObserver(metrics.ObserveImageFetch)

	heuristic := extract.New(extract.Config{
		DomainMarker: cfg.Site.DomainMarker,
		DefaultTitle: cfg.Site.DefaultTitle,
		MaxImages:    cfg.Extract.MaxImages,
		MinWidth:     cfg.Extract.MinWidth,
		MinHeight:    cfg.Extract.MinHeight,
		ExcludeTerms: cfg.Extract.ExcludeTerms,
	}).WithObserver(metrics.ObserveStrategy)

	c.service = app.NewService(
		app.Site{Name: cfg.Site.Name, DomainMarker: cfg.Site.DomainMarker},
		c.browser,
		heuristic,
		fetchAll,
		c.sessions,
		logger.Named("app"),
	)
	return c, nil
}

func (c *components) buildStore(ctx context.Context, cfg config.Config) (listing.ArchiveStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystore.NewBlobStore(), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	default:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	}
}

func (c *components) buildRegistry(ctx context.Context, cfg config.Config) (session.Registry, error) {
	if cfg.Session.Registry != "redis" {
		return session.NewMemoryRegistry(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c.closers = append(c.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}
	return session.NewRedisRegistry(client, cfg.Redis.Prefix), nil
}

func secondsOrZero(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}
