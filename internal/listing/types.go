package listing

import "time"

// ListingExtract is produced once per extraction and is not mutated afterwards.
type ListingExtract struct {
	Title     string    `json:"title"`
	Images    []string  `json:"images"`
	DebugInfo DebugInfo `json:"debugInfo"`
}

// DebugInfo records how the image set was discovered.
type DebugInfo struct {
	// TotalImagesFound counts unique candidates before truncation.
	TotalImagesFound int      `json:"totalImagesFound"`
	StrategiesTried  []string `json:"strategiesTried"`
}

// FetchedItem is a successfully retrieved candidate.
type FetchedItem struct {
	// Index is the 1-based position of the candidate in ListingExtract.Images.
	Index int
	// URL is the variant that succeeded.
	URL  string
	Data []byte
}

// SessionState tracks where a session is in its lifecycle.
type SessionState string

// Session lifecycle states.
const (
	SessionCreated    SessionState = "created"
	SessionPopulating SessionState = "populating"
	SessionArchived   SessionState = "archived"
	SessionExpired    SessionState = "expired"
)

// SessionFile is one item written into a session before archiving.
type SessionFile struct {
	Index     int    `json:"index"`
	LocalPath string `json:"local_path"`
}

// Session is a time-boxed working area holding one extraction's assets.
type Session struct {
	ID            string        `json:"id"`
	Directory     string        `json:"directory"`
	Files         []SessionFile `json:"files"`
	ArchivePath   string        `json:"archive_path"`
	TitleSnapshot string        `json:"title"`
	State         SessionState  `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// Result is what the orchestrator hands back to callers after a full cycle.
type Result struct {
	SessionID      string
	Title          string
	SanitizedTitle string
	ImageCount     int
	Failed         int
	Extract        ListingExtract
}
