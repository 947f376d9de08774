package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-image-archiver/internal/archive"
	"github.com/JakeFAU/listing-image-archiver/internal/document"
	"github.com/JakeFAU/listing-image-archiver/internal/extract"
	collyfetcher "github.com/JakeFAU/listing-image-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/pipeline"
	"github.com/JakeFAU/listing-image-archiver/internal/session"
	"github.com/JakeFAU/listing-image-archiver/internal/storage/memory"
	"github.com/JakeFAU/listing-image-archiver/internal/urlnorm"
)

const listingURL = "https://www.market.test/items/42-vintage-jacket"

type htmlRenderer struct {
	html string
	err  error
	urls []string
}

func (r *htmlRenderer) Render(_ context.Context, url string) (listing.Document, error) {
	r.urls = append(r.urls, url)
	if r.err != nil {
		return nil, r.err
	}
	return document.Parse(r.html, url)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("sess-%d", g.n), nil
}

// imageOrigin serves /photos/<n>.png and 404s for /photos/missing.png.
func imageOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/photos/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func listingHTML(origin string, photos ...string) string {
	var buf bytes.Buffer
	buf.WriteString(`<html><body><h1 data-testid="item-title">Vintage Jacket</h1><div data-testid="item-photos">`)
	for _, p := range photos {
		fmt.Fprintf(&buf, `<img src="%s/photos/%s">`, origin, p)
	}
	buf.WriteString(`</div></body></html>`)
	return buf.String()
}

type harness struct {
	service  *Service
	store    *memory.BlobStore
	sessions *session.Manager
	renderer *htmlRenderer
}

func newHarness(t *testing.T, html string) harness {
	t.Helper()
	store := memory.NewBlobStore()
	sessions, err := session.NewManager(
		session.Config{WorkDir: filepath.Join(t.TempDir(), "work")},
		store,
		session.NewMemoryRegistry(),
		fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		&seqIDs{},
		nil,
	)
	require.NoError(t, err)

	renderer := &htmlRenderer{html: html}
	fetcher := pipeline.New(collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second}),
		pipeline.Config{Concurrency: 2, Rules: urlnorm.MustDefaultRules()}, nil)
	svc := NewService(
		Site{Name: "Market", DomainMarker: "market.test"},
		renderer,
		extract.New(extract.Config{DomainMarker: "market.test"}),
		fetcher,
		sessions,
		nil,
	)
	return harness{service: svc, store: store, sessions: sessions, renderer: renderer}
}

func TestProcessArchivesSurvivorsWithOriginalIndices(t *testing.T) {
	t.Parallel()

	origin := imageOrigin(t)
	h := newHarness(t, listingHTML(origin.URL, "1.png", "missing.png", "3.png", "4.png"))

	result, err := h.service.Process(context.Background(), listingURL)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, "Vintage Jacket", result.Title)
	assert.Equal(t, "Vintage_Jacket", result.SanitizedTitle)
	assert.Equal(t, 3, result.ImageCount)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{extract.StrategyProductSelectors}, result.Extract.DebugInfo.StrategiesTried)

	dl, err := h.sessions.Open(context.Background(), result.SessionID)
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, "Vintage_Jacket.zip", dl.Filename)

	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	names, err := archive.List(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, []string{"image_1.png", "image_3.png", "image_4.png"}, names)
}

func TestProcessValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	cases := []struct {
		url  string
		want error
	}{
		{url: "", want: listing.ErrMissingURL},
		{url: "   ", want: listing.ErrMissingURL},
		{url: "not a url", want: listing.ErrInvalidURL},
		{url: "ftp://www.market.test/items/1", want: listing.ErrInvalidURL},
		{url: "https://www.example.com/items/1", want: listing.ErrInvalidURL},
		{url: "https://example.com/market.test", want: listing.ErrInvalidURL},
	}
	for _, tc := range cases {
		_, err := h.service.Process(context.Background(), tc.url)
		require.ErrorIs(t, err, tc.want, tc.url)
	}
	assert.Empty(t, h.renderer.urls, "invalid URLs must not reach the browser")
	assert.Equal(t, "Please provide a valid Market URL", h.service.InvalidURLMessage())
}

func TestProcessNoImages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `<html><body><h1>Empty</h1></body></html>`)
	_, err := h.service.Process(context.Background(), listingURL)
	require.ErrorIs(t, err, listing.ErrNoImages)
	assert.Zero(t, h.store.Len())
}

func TestProcessAllFetchesFail(t *testing.T) {
	t.Parallel()

	origin := imageOrigin(t)
	h := newHarness(t, listingHTML(origin.URL, "missing.png"))
	_, err := h.service.Process(context.Background(), listingURL)
	require.ErrorIs(t, err, listing.ErrNoItemsFetched)
	assert.Zero(t, h.store.Len())
}

func TestProcessRenderFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.renderer.err = fmt.Errorf("%w: boom", listing.ErrNavigation)
	_, err := h.service.Process(context.Background(), listingURL)
	require.ErrorIs(t, err, listing.ErrNavigation)

	h.renderer.err = fmt.Errorf("%w: %w", listing.ErrRenderTimeout, context.DeadlineExceeded)
	_, err = h.service.Process(context.Background(), listingURL)
	require.ErrorIs(t, err, listing.ErrRenderTimeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
