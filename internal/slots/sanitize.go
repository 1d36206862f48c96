package slots

import (
	"regexp"
	"strings"
)

const maxFilenameLength = 255

var (
	unsafeChars  = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	repeatedDots = regexp.MustCompile(`\.{2,}`)
	leadingJunk  = regexp.MustCompile(`^[.\-_]+`)
)

// sanitizeFilename strips directory components, shell metacharacters, and
// ".."-style tricks from a caller-supplied filename. The result feeds the
// storage key and the client-facing curl example, so it must never contain a
// path separator, a leading dot or dash, or be empty. Sanitizing is
// idempotent.
func sanitizeFilename(raw string) string {
	// Basename only: drop everything up to the last slash or backslash.
	name := raw
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = repeatedDots.ReplaceAllString(name, ".")
	name = leadingJunk.ReplaceAllString(name, "")
	if name == "" {
		name = "upload"
	}
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	return name
}
