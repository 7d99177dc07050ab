package upload

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength bounds stored file names, in bytes.
const MaxFilenameLength = 255

// ErrInvalidFilename is returned when nothing usable is left after sanitizing.
var ErrInvalidFilename = errors.New("invalid file name")

// SanitizeFilename makes name safe to use as a single path element.
// Path separators, control characters and characters reserved on common
// filesystems are stripped, invalid UTF-8 is dropped, and the result is
// truncated to MaxFilenameLength bytes without splitting a rune.
func SanitizeFilename(name string) (string, error) {
	// Fast path: if nothing is unsafe, only the length needs checking.
	clean := utf8.ValidString(name)
	if clean {
		for _, r := range name {
			if isUnsafe(r) {
				clean = false
				break
			}
		}
	}

	out := name
	if !clean {
		var b strings.Builder
		b.Grow(len(name))
		for _, r := range name {
			if r == utf8.RuneError || isUnsafe(r) {
				continue
			}
			b.WriteRune(r)
		}
		out = b.String()
	}

	if len(out) > MaxFilenameLength {
		cut := MaxFilenameLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}

	// "." and ".." are directory references, never files.
	if strings.Trim(out, ".") == "" {
		return "", ErrInvalidFilename
	}
	return out, nil
}

func isUnsafe(r rune) bool {
	if unicode.IsControl(r) {
		return true
	}
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}
