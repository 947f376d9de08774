// Package browser owns the shared headless Chrome instance used to render
// listing pages.
//
// The browser is launched lazily on first use and released by Shutdown. Each
// render runs in its own tab so concurrent requests never share page state.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/document"
	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

// ErrClosed is returned once Shutdown has been called.
var ErrClosed = errors.New("browser is shut down")

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultImageWaitTimeout  = 10 * time.Second
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Config controls the browser handle.
type Config struct {
	Headless          bool
	NoSandbox         bool
	UserAgent         string
	NavigationTimeout time.Duration
	ImageWaitTimeout  time.Duration
	// MaxPages bounds concurrently open tabs; zero means unbounded.
	MaxPages     int
	ExtraHeaders http.Header
}

// Browser is a lazily launched, explicitly released Chrome instance.
type Browser struct {
	cfg     Config
	logger  *zap.Logger
	limiter chan struct{}

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// New validates cfg; Chrome is not started until the first page is acquired.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxPages > 0 {
		limiter = make(chan struct{}, cfg.MaxPages)
	}
	return &Browser{cfg: cfg, logger: logger, limiter: limiter}, nil
}

// Open launches Chrome if it is not already running.
func (b *Browser) Open(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.browserCtx != nil {
		return nil
	}

	// The default options already run the new headless mode.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	if !b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.NoSandbox {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	opts = append(opts, chromedp.UserAgent(b.userAgent()))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// Running with no actions starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Info("browser launched", zap.Bool("headless", b.cfg.Headless))
	return nil
}

// AcquirePage opens a new tab. The returned release func closes the tab and
// must always be called. The tab is also closed when ctx is done.
func (b *Browser) AcquirePage(ctx context.Context) (context.Context, func(), error) {
	if err := b.Open(ctx); err != nil {
		return nil, nil, err
	}
	if err := b.acquire(ctx); err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.release()
		return nil, nil, ErrClosed
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, tabCancel)
	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			tabCancel()
			b.release()
		})
	}
	return tabCtx, release, nil
}

// Render navigates a fresh tab to url, waits for at least one image, and
// returns the annotated DOM snapshot.
func (b *Browser) Render(ctx context.Context, url string) (listing.Document, error) {
	tabCtx, release, err := b.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	navCtx, cancel := context.WithTimeout(tabCtx, b.navTimeout())
	defer cancel()
	if err := chromedp.Run(navCtx,
		b.networkSetupAction(),
		chromedp.Navigate(url),
	); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", listing.ErrNavigation, url, err)
	}

	waitCtx, cancelWait := context.WithTimeout(tabCtx, b.imageWaitTimeout())
	defer cancelWait()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady("img", chromedp.ByQuery)); err != nil {
		return nil, classifyWaitErr(err)
	}

	var (
		html      string
		finalURL  string
		annotated int
	)
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(annotateImagesJS, &annotated),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("snapshot dom: %w", err)
	}
	b.logger.Debug("page rendered",
		zap.String("url", url),
		zap.String("final_url", finalURL),
		zap.Int("images", annotated),
	)
	if finalURL == "" {
		finalURL = url
	}
	doc, err := document.Parse(html, finalURL)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Shutdown closes Chrome. It is safe to call more than once.
func (b *Browser) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.browserCtx == nil {
		return
	}
	if err := chromedp.Cancel(b.browserCtx); err != nil {
		b.logger.Warn("browser close failed", zap.Error(err))
	}
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	b.logger.Info("browser shut down")
}

const annotateImagesJS = `(() => {
  const imgs = document.querySelectorAll('img');
  imgs.forEach((img) => {
    img.setAttribute('` + document.AnnotationSrc + `', img.src || '');
    img.setAttribute('` + document.AnnotationWidth + `', String(img.width));
    img.setAttribute('` + document.AnnotationHeight + `', String(img.height));
  });
  return imgs.length;
})()`

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(b.userAgent()).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(b.cfg.ExtraHeaders) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.ExtraHeaders)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("page slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (b *Browser) imageWaitTimeout() time.Duration {
	if b.cfg.ImageWaitTimeout > 0 {
		return b.cfg.ImageWaitTimeout
	}
	return defaultImageWaitTimeout
}

func (b *Browser) userAgent() string {
	if b.cfg.UserAgent != "" {
		return b.cfg.UserAgent
	}
	return defaultUserAgent
}

func classifyWaitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", listing.ErrRenderTimeout, err)
	}
	return fmt.Errorf("wait for images: %w", err)
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
