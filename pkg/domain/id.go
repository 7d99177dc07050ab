package domain

import "fmt"

// MaxIDLength is the longest session identifier the cookie transport accepts.
const MaxIDLength = 4064

// ValidateID checks that id can travel inside a session cookie.
// Only ASCII letters, digits, '-', '_' and '.' are allowed.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrKeyEncoding)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: identifier length %d exceeds %d", ErrKeyEncoding, len(id), MaxIDLength)
	}
	for i := 0; i < len(id); i++ {
		if !isIDByte(id[i]) {
			return fmt.Errorf("%w: invalid character %q at offset %d", ErrKeyEncoding, id[i], i)
		}
	}
	return nil
}

func isIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.':
		return true
	}
	return false
}
