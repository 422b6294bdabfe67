// Package guard holds the small safety checks shared by the snapshot
// packages: SQL identifier validation and quoting, and file-name and path
// containment checks for the snapshot directory.
package guard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a name would escape its base directory.
var ErrPathTraversal = errors.New("guard: path traversal detected")

// ErrInvalidIdentifier is returned for table names that cannot be used
// unquoted in generated SQL.
var ErrInvalidIdentifier = errors.New("guard: invalid identifier")

const maxIdentLen = 128

// ValidateIdentifier accepts [A-Za-z_][A-Za-z0-9_]* up to 128 bytes. Table
// names from callers go through it before being interpolated anywhere.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(s) > maxIdentLen {
		return fmt.Errorf("%w: %q too long (max %d)", ErrInvalidIdentifier, s, maxIdentLen)
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: invalid character %q in %q", ErrInvalidIdentifier, r, s)
		}
	}
	return nil
}

// QuoteIdent wraps a SQL identifier in double quotes. Column names such as
// "E/Z" are only ever emitted through it.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ValidateFileName rejects names that are not a single path element made
// of alphanumerics, underscore, hyphen and dot.
func ValidateFileName(s string) error {
	if s == "" || s == "." || s == ".." {
		return fmt.Errorf("guard: invalid file name %q", s)
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '_' || r == '-' || r == '.') {
			return fmt.Errorf("guard: invalid character %q in file name %q", r, s)
		}
	}
	return nil
}

// SafePath joins base and name and verifies the result stays under base.
func SafePath(base, name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+name))
	root := filepath.Clean(base)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}
