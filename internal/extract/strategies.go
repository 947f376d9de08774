package extract

import (
	"strings"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

// Strategy is one discovery pass over a rendered page.
type Strategy interface {
	Name() string
	// Candidates returns accepted raw URLs in discovery order.
	Candidates(doc listing.Document) []string
}

// Strategy names, also used as metric labels.
const (
	StrategyProductSelectors = "product-selectors"
	StrategyDomainFilter     = "domain-filter"
	StrategySizeFilter       = "size-filter"
)

// DefaultProductSelectors hold product photos on known listing layouts, most
// specific first.
var DefaultProductSelectors = []string{
	`img[data-testid="item-photo"]`,
	`[data-testid="item-photos"] img`,
	`[data-testid="carousel"] img`,
	`.item-photos img`,
	`.carousel img`,
	`.ItemPhotos img`,
	`.item-photo img`,
}

type selectorStrategy struct {
	selectors []string
	filter    *ExclusionFilter
}

// NewSelectorStrategy queries each selector in turn and stops at the first
// one that yields an accepted URL.
func NewSelectorStrategy(selectors []string, filter *ExclusionFilter) Strategy {
	return &selectorStrategy{selectors: selectors, filter: filter}
}

func (s *selectorStrategy) Name() string { return StrategyProductSelectors }

func (s *selectorStrategy) Candidates(doc listing.Document) []string {
	for _, selector := range s.selectors {
		var out []string
		for _, node := range doc.QueryAll(selector) {
			src := node.ImageSource()
			if src != "" && s.filter.Accepts(src) {
				out = append(out, src)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

type domainStrategy struct {
	marker string
	filter *ExclusionFilter
}

// NewDomainStrategy accepts every image hosted under the site's domain marker
// that passes the exclusion filter.
func NewDomainStrategy(marker string, filter *ExclusionFilter) Strategy {
	return &domainStrategy{marker: marker, filter: filter}
}

func (s *domainStrategy) Name() string { return StrategyDomainFilter }

func (s *domainStrategy) Candidates(doc listing.Document) []string {
	var out []string
	for _, node := range doc.QueryAll("img") {
		src := node.ImageSource()
		if src == "" || !strings.Contains(src, s.marker) {
			continue
		}
		if s.filter.Accepts(src) {
			out = append(out, src)
		}
	}
	return out
}

type sizeStrategy struct {
	marker    string
	filter    *ExclusionFilter
	minWidth  int
	minHeight int
}

// NewSizeStrategy is the least discriminating pass: on-site images that are
// rendered larger than the minimum in both dimensions. Small icons and avatars
// that slip past the denylist fail the size check.
func NewSizeStrategy(marker string, filter *ExclusionFilter, minWidth, minHeight int) Strategy {
	return &sizeStrategy{marker: marker, filter: filter, minWidth: minWidth, minHeight: minHeight}
}

func (s *sizeStrategy) Name() string { return StrategySizeFilter }

func (s *sizeStrategy) Candidates(doc listing.Document) []string {
	var out []string
	for _, node := range doc.QueryAll("img") {
		src := node.ImageSource()
		if src == "" || !strings.Contains(src, s.marker) || !s.filter.Accepts(src) {
			continue
		}
		w, h := node.RenderedSize()
		if w > s.minWidth && h > s.minHeight {
			out = append(out, src)
		}
	}
	return out
}
