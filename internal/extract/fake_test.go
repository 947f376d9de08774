package extract

import "github.com/JakeFAU/listing-image-archiver/internal/listing"

type fakeDoc struct {
	bySelector map[string][]listing.Node
	queries    []string
}

func newFakeDoc() *fakeDoc {
	return &fakeDoc{bySelector: make(map[string][]listing.Node)}
}

func (d *fakeDoc) with(selector string, nodes ...listing.Node) *fakeDoc {
	d.bySelector[selector] = append(d.bySelector[selector], nodes...)
	return d
}

func (d *fakeDoc) QueryAll(selector string) []listing.Node {
	d.queries = append(d.queries, selector)
	return d.bySelector[selector]
}

type fakeNode struct {
	attrs  map[string]string
	text   string
	src    string
	width  int
	height int
}

func img(src string) *fakeNode {
	return &fakeNode{src: src, width: 800, height: 600}
}

func sizedImg(src string, w, h int) *fakeNode {
	return &fakeNode{src: src, width: w, height: h}
}

func textNode(text string) *fakeNode {
	return &fakeNode{text: text}
}

func (n *fakeNode) Attr(name string) (string, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

func (n *fakeNode) Text() string { return n.text }

func (n *fakeNode) ImageSource() string { return n.src }

func (n *fakeNode) RenderedSize() (int, int) { return n.width, n.height }

type spyStrategy struct {
	name  string
	urls  []string
	calls int
}

func (s *spyStrategy) Name() string { return s.name }

func (s *spyStrategy) Candidates(listing.Document) []string {
	s.calls++
	return s.urls
}
