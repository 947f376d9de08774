// Package document adapts a rendered HTML snapshot to listing.Document using
// goquery.
//
// The browser annotates every <img> with its resolved source and rendered
// size before serializing the DOM (see the Annotation* attribute names), so
// layout information survives the trip from Chrome into a static parse.
package document

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

// Attributes written onto <img> elements by the browser before snapshotting.
const (
	AnnotationSrc    = "data-archiver-src"
	AnnotationWidth  = "data-archiver-width"
	AnnotationHeight = "data-archiver-height"
)

// Document wraps a parsed goquery document.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// Parse builds a Document from rendered HTML. baseURL resolves relative
// image sources that were not annotated by the browser; it may be empty.
func Parse(html string, baseURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	d := &Document{doc: doc}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		d.base = base
	}
	return d, nil
}

// QueryAll implements listing.Document. Invalid selectors match nothing.
func (d *Document) QueryAll(selector string) []listing.Node {
	var nodes []listing.Node
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &Node{sel: s, base: d.base})
	})
	return nodes
}

// Node wraps a single goquery selection.
type Node struct {
	sel  *goquery.Selection
	base *url.URL
}

// Attr returns an attribute value.
func (n *Node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

// Text returns the text content of the element and its descendants.
func (n *Node) Text() string {
	return n.sel.Text()
}

// ImageSource prefers the browser-resolved source, then src, then the common
// lazy-load attributes.
func (n *Node) ImageSource() string {
	for _, attr := range []string{AnnotationSrc, "src", "data-src", "data-original"} {
		v, ok := n.sel.Attr(attr)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		return n.resolve(v)
	}
	return ""
}

// RenderedSize reads the browser annotation, falling back to the width and
// height attributes.
func (n *Node) RenderedSize() (int, int) {
	return n.intAttr(AnnotationWidth, "width"), n.intAttr(AnnotationHeight, "height")
}

func (n *Node) intAttr(names ...string) int {
	for _, name := range names {
		raw, ok := n.sel.Attr(name)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "px"), 64)
		if err == nil {
			return int(v)
		}
	}
	return 0
}

func (n *Node) resolve(raw string) string {
	if n.base == nil || strings.HasPrefix(raw, "data:") {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if ref.IsAbs() {
		return raw
	}
	return n.base.ResolveReference(ref).String()
}
