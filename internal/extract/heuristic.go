// Package extract discovers a listing's title and product image URLs from a
// rendered page using a cascade of increasingly permissive strategies.
package extract

import (
	"strings"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
	"github.com/JakeFAU/listing-image-archiver/internal/urlnorm"
)

// DefaultTitleSelectors run from a titled test-id down to a bare heading.
var DefaultTitleSelectors = []string{
	`h1[data-testid="item-title"]`,
	`h1.item-title`,
	`[data-testid="item-title"]`,
	`h1`,
	`.item-title`,
	`.item-box h1`,
	`.ItemBox-title`,
}

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxImages    = 20
	DefaultMinDimension = 100
	DefaultTitle        = "Marketplace Listing"
)

// Config controls the heuristic.
type Config struct {
	DomainMarker     string
	DefaultTitle     string
	MaxImages        int
	MinWidth         int
	MinHeight        int
	TitleSelectors   []string
	ProductSelectors []string
	ExcludeTerms     []string
}

// Observer is notified after each strategy runs.
type Observer func(strategy string, accepted int)

// Heuristic turns a rendered Document into a ListingExtract.
type Heuristic struct {
	titleSelectors []string
	defaultTitle   string
	maxImages      int
	strategies     []Strategy
	observer       Observer
}

// New builds the default three-strategy cascade.
func New(cfg Config) *Heuristic {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = DefaultMinDimension
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = DefaultMinDimension
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTitle
	}
	if len(cfg.TitleSelectors) == 0 {
		cfg.TitleSelectors = DefaultTitleSelectors
	}
	if len(cfg.ProductSelectors) == 0 {
		cfg.ProductSelectors = DefaultProductSelectors
	}
	if len(cfg.ExcludeTerms) == 0 {
		cfg.ExcludeTerms = DefaultExcludeTerms
	}
	filter := NewExclusionFilter(cfg.ExcludeTerms)
	return NewWithStrategies(cfg,
		NewSelectorStrategy(cfg.ProductSelectors, filter),
		NewDomainStrategy(cfg.DomainMarker, filter),
		NewSizeStrategy(cfg.DomainMarker, filter, cfg.MinWidth, cfg.MinHeight),
	)
}

// NewWithStrategies builds a heuristic with an explicit cascade.
func NewWithStrategies(cfg Config, strategies ...Strategy) *Heuristic {
	h := &Heuristic{
		titleSelectors: cfg.TitleSelectors,
		defaultTitle:   cfg.DefaultTitle,
		maxImages:      cfg.MaxImages,
		strategies:     strategies,
	}
	if h.maxImages <= 0 {
		h.maxImages = DefaultMaxImages
	}
	if h.defaultTitle == "" {
		h.defaultTitle = DefaultTitle
	}
	if len(h.titleSelectors) == 0 {
		h.titleSelectors = DefaultTitleSelectors
	}
	return h
}

// WithObserver registers a hook invoked after every strategy.
func (h *Heuristic) WithObserver(obs Observer) *Heuristic {
	h.observer = obs
	return h
}

// Extract runs title resolution and the image cascade. A strategy only runs
// when every earlier one produced nothing.
func (h *Heuristic) Extract(doc listing.Document) listing.ListingExtract {
	set := newOrderedSet()
	tried := make([]string, 0, len(h.strategies))
	for _, strategy := range h.strategies {
		tried = append(tried, strategy.Name())
		for _, raw := range strategy.Candidates(doc) {
			set.add(urlnorm.Normalize(raw))
		}
		if h.observer != nil {
			h.observer(strategy.Name(), set.len())
		}
		if set.len() > 0 {
			break
		}
	}
	return listing.ListingExtract{
		Title:  h.title(doc),
		Images: set.first(h.maxImages),
		DebugInfo: listing.DebugInfo{
			TotalImagesFound: set.len(),
			StrategiesTried:  tried,
		},
	}
}

func (h *Heuristic) title(doc listing.Document) string {
	for _, selector := range h.titleSelectors {
		for _, node := range doc.QueryAll(selector) {
			if text := strings.TrimSpace(node.Text()); text != "" {
				return text
			}
		}
	}
	return h.defaultTitle
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) len() int { return len(s.items) }

func (s *orderedSet) first(n int) []string {
	if len(s.items) < n {
		n = len(s.items)
	}
	out := make([]string, n)
	copy(out, s.items[:n])
	return out
}
