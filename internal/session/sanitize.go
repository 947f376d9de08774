package session

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/listing-image-archiver/internal/archive"
)

// MaxFilenameLength caps the sanitized title, excluding the extension.
const MaxFilenameLength = 50

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRuns       = regexp.MustCompile(`\s+`)
	unsafeFilenameChars  = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
)

// SanitizeTitle turns a listing title into a filesystem-safe base name. The
// result may be empty.
func SanitizeTitle(title string) string {
	name := invalidFilenameChars.ReplaceAllString(title, "")
	name = whitespaceRuns.ReplaceAllString(name, "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	if len(name) > MaxFilenameLength {
		name = name[:MaxFilenameLength]
	}
	return strings.Trim(name, ".")
}

// DisplayFilename returns the download filename for title, or fallback when
// the title sanitizes to nothing.
func DisplayFilename(title, fallback string) string {
	name := SanitizeTitle(title)
	if name == "" {
		return fallback
	}
	return name + archive.Extension
}
