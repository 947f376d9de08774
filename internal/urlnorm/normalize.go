// Package urlnorm canonicalizes marketplace image URLs and derives the
// alternative URL variants tried when the origin rejects a fetch.
package urlnorm

import (
	"fmt"
	"regexp"
	"strings"
)

var sizeToken = regexp.MustCompile(`_\d+x\d+`)

// Normalize strips the first embedded _WIDTHxHEIGHT token and a single trailing
// colon from the URL's path portion. The query string carries signed access
// tokens and is returned byte-identical.
func Normalize(raw string) string {
	path, query, hasQuery := strings.Cut(raw, "?")
	if loc := sizeToken.FindStringIndex(path); loc != nil {
		path = path[:loc[0]] + path[loc[1]:]
	}
	path = strings.TrimSuffix(path, ":")
	if !hasQuery {
		return path
	}
	return path + "?" + query
}

// TrimTrailingColon removes one trailing colon from the path portion only.
func TrimTrailingColon(raw string) string {
	path, query, hasQuery := strings.Cut(raw, "?")
	path = strings.TrimSuffix(path, ":")
	if !hasQuery {
		return path
	}
	return path + "?" + query
}

// RuleSpec is the configuration form of a Rule.
type RuleSpec struct {
	Name        string `mapstructure:"name"`
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

// Rule rewrites a URL into an alternative the origin may accept.
type Rule struct {
	Name        string
	pattern     *regexp.Regexp
	replacement string
}

// DefaultRuleSpecs drop the /t/<token>/ and /t/<token>/f800/ segments that the
// CDN sometimes rejects.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{Name: "strip-t-token", Pattern: `/t/([^/]+)/`, Replacement: "//"},
		{Name: "strip-t-token-f800", Pattern: `/t/([^/]+)/f800/`, Replacement: "//"},
	}
}

// CompileRules validates and compiles rule specs.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, fmt.Errorf("variant rule %d: pattern is required", i)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("variant rule %d (%s): %w", i, spec.Name, err)
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		rules = append(rules, Rule{Name: name, pattern: re, replacement: spec.Replacement})
	}
	return rules, nil
}

// MustDefaultRules compiles DefaultRuleSpecs and panics on failure.
func MustDefaultRules() []Rule {
	rules, err := CompileRules(DefaultRuleSpecs())
	if err != nil {
		panic(err)
	}
	return rules
}

// Apply rewrites the first match of the rule's pattern.
func (r Rule) Apply(raw string) string {
	loc := r.pattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return raw
	}
	var dst []byte
	dst = r.pattern.ExpandString(dst, r.replacement, raw, loc)
	return raw[:loc[0]] + string(dst) + raw[loc[1]:]
}

// Variant is one URL to try for a candidate.
type Variant struct {
	Name string
	URL  string
}

// Variants lists the URLs to try for a candidate, primary first. Rules that
// do not change the URL, or produce a URL already listed, are skipped.
func Variants(raw string, rules []Rule) []Variant {
	primary := TrimTrailingColon(raw)
	out := []Variant{{Name: "original", URL: primary}}
	seen := map[string]struct{}{primary: {}}
	for _, rule := range rules {
		alt := TrimTrailingColon(rule.Apply(primary))
		if _, dup := seen[alt]; dup {
			continue
		}
		seen[alt] = struct{}{}
		out = append(out, Variant{Name: rule.Name, URL: alt})
	}
	return out
}
