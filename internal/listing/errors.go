package listing

import "errors"

// Validation errors are the caller's fault and surface as 4xx.
var (
	// ErrMissingURL is returned when the request carries no URL.
	ErrMissingURL = errors.New("URL is required")
	// ErrInvalidURL is returned when the URL is malformed or off-site.
	ErrInvalidURL = errors.New("invalid URL")
)

// Not-found errors surface as 404.
var (
	// ErrNoImages means the extraction cascade found nothing.
	ErrNoImages = errors.New("no images found in the listing")
	// ErrSessionNotFound covers both unknown and expired sessions.
	ErrSessionNotFound = errors.New("download not found or expired")
	// ErrObjectNotFound is returned by archive stores for missing paths.
	ErrObjectNotFound = errors.New("object not found")
)

// Total failures surface as a generic 5xx.
var (
	// ErrNoItemsFetched means every candidate failed every variant.
	ErrNoItemsFetched = errors.New("failed to download any images")
	// ErrNavigation wraps browser navigation failures.
	ErrNavigation = errors.New("navigation failed")
	// ErrRenderTimeout wraps timeouts while waiting for page images.
	ErrRenderTimeout = errors.New("timed out waiting for page images")
)
