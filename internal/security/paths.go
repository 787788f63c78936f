// Package security checks file paths assembled from configuration values
// before anything is written under them.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateComponent checks that name can be used as exactly one path
// element, so a dataset name such as "../etc" cannot redirect output.
func ValidateComponent(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty path component")
	case name == "." || name == "..":
		return fmt.Errorf("path component %q is not allowed", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("path component %q contains a separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("path component %q contains a NUL byte", name)
	}
	return nil
}

// ValidatePathWithinDirectory checks that filePath, once cleaned, does not
// escape dir. The check is lexical so it also holds for paths that do not
// exist yet.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, dir)
	}
	return nil
}

// SanitizeFilename maps each run of characters other than ASCII letters,
// digits, dot and dash to a single underscore, then trims leading and
// trailing dots and underscores.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
