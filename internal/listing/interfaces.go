package listing

import (
	"context"
	"io"
	"time"
)

// Document is a queryable snapshot of a rendered page.
type Document interface {
	// QueryAll returns the elements matching a CSS selector in document order.
	QueryAll(selector string) []Node
}

// Node is a single element within a Document.
type Node interface {
	// Attr returns the attribute value and whether it was present.
	Attr(name string) (string, bool)
	// Text returns the element's text content.
	Text() string
	// ImageSource resolves the URL an image element displays, falling back to
	// lazy-load attributes. Empty when nothing is set.
	ImageSource() string
	// RenderedSize reports the element's rendered width and height in pixels.
	RenderedSize() (width, height int)
}

// Renderer navigates to a listing and returns its rendered Document.
type Renderer interface {
	Render(ctx context.Context, url string) (Document, error)
}

// Fetcher retrieves a single URL as binary content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ArchiveStore keeps the retained artifacts of a session.
type ArchiveStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
