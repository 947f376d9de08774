package extract

import "strings"

// DefaultExcludeTerms are URL substrings that mark site chrome rather than
// product photos.
var DefaultExcludeTerms = []string{
	"avatar", "logo", "profile", "user-", "member-", "badge", "icon-",
	"header", "footer", "navigation", "nav-", "menu", "button",
}

// ExclusionFilter rejects URLs containing any denylisted term, ignoring case.
type ExclusionFilter struct {
	terms []string
}

// NewExclusionFilter lowercases and de-duplicates the provided terms.
func NewExclusionFilter(terms []string) *ExclusionFilter {
	f := &ExclusionFilter{}
	seen := make(map[string]struct{}, len(terms))
	for _, raw := range terms {
		term := strings.ToLower(strings.TrimSpace(raw))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		f.terms = append(f.terms, term)
	}
	return f
}

// Accepts reports whether the URL passes the filter.
func (f *ExclusionFilter) Accepts(src string) bool {
	if f == nil {
		return true
	}
	lower := strings.ToLower(src)
	for _, term := range f.terms {
		if strings.Contains(lower, term) {
			return false
		}
	}
	return true
}
