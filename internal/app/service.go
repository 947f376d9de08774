// Package app runs one extraction cycle: render the listing, extract its
// images, fetch them and archive the survivors into a session.
package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/pipeline"
	"github.com/JakeFAU/listing-image-archiver/internal/session"
)

// Extractor turns a rendered page into a ListingExtract.
type Extractor interface {
	Extract(doc listing.Document) listing.ListingExtract
}

// BatchFetcher downloads candidate images.
type BatchFetcher interface {
	FetchAll(ctx context.Context, urls []string) (pipeline.Summary, error)
}

// Archiver packages fetched items into a downloadable session.
type Archiver interface {
	Assemble(ctx context.Context, title string, items []listing.FetchedItem) (listing.Session, error)
}

// Site identifies the marketplace listings must belong to.
type Site struct {
	// Name is used in validation messages.
	Name string
	// DomainMarker must appear in the listing URL's host.
	DomainMarker string
}

// Service orchestrates extraction requests.
type Service struct {
	site      Site
	renderer  listing.Renderer
	extractor Extractor
	fetcher   BatchFetcher
	archiver  Archiver
	logger    *zap.Logger
}

// NewService wires a Service.
func NewService(
	site Site,
	renderer listing.Renderer,
	extractor Extractor,
	fetcher BatchFetcher,
	archiver Archiver,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if site.Name == "" {
		site.Name = site.DomainMarker
	}
	return &Service{
		site:      site,
		renderer:  renderer,
		extractor: extractor,
		fetcher:   fetcher,
		archiver:  archiver,
		logger:    logger,
	}
}

// InvalidURLMessage is the client-facing message for rejected listing URLs.
func (s *Service) InvalidURLMessage() string {
	return fmt.Sprintf("Please provide a valid %s URL", s.site.Name)
}

// ValidateURL checks raw is an absolute http(s) URL on the configured site.
func (s *Service) ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return listing.ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", listing.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", listing.ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || !strings.Contains(host, strings.ToLower(s.site.DomainMarker)) {
		return fmt.Errorf("%w: host %q is not on %s", listing.ErrInvalidURL, host, s.site.Name)
	}
	return nil
}

// Process runs the full cycle for one listing URL.
func (s *Service) Process(ctx context.Context, rawURL string) (listing.Result, error) {
	if err := s.ValidateURL(rawURL); err != nil {
		return listing.Result{}, err
	}
	rawURL = strings.TrimSpace(rawURL)
	logger := s.logger.With(zap.String("listing_url", rawURL))

	doc, err := s.renderer.Render(ctx, rawURL)
	if err != nil {
		return listing.Result{}, fmt.Errorf("render listing: %w", err)
	}
	extract := s.extractor.Extract(doc)
	logger.Info("listing extracted",
		zap.String("title", extract.Title),
		zap.Int("images", len(extract.Images)),
		zap.Int("total_found", extract.DebugInfo.TotalImagesFound),
		zap.Strings("strategies", extract.DebugInfo.StrategiesTried),
	)
	if len(extract.Images) == 0 {
		return listing.Result{}, listing.ErrNoImages
	}

	summary, err := s.fetcher.FetchAll(ctx, extract.Images)
	if err != nil {
		return listing.Result{}, err
	}

	sess, err := s.archiver.Assemble(ctx, extract.Title, summary.Items)
	if err != nil {
		return listing.Result{}, fmt.Errorf("archive images: %w", err)
	}
	return listing.Result{
		SessionID:      sess.ID,
		Title:          extract.Title,
		SanitizedTitle: session.SanitizeTitle(extract.Title),
		ImageCount:     len(summary.Items),
		Failed:         len(summary.Failures),
		Extract:        extract,
	}, nil
}
