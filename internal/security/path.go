package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const maxObjectNameLength = 200

// ValidateFilePath validates that a file path is safe and doesn't contain directory traversal attempts
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ValidateFilePathWithBase validates a file path against a base directory
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	cleanBase := filepath.Clean(baseDir)
	cleanPath := filepath.Clean(filepath.Join(cleanBase, path))

	// Ensure the resolved path is still within the base directory
	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}

// SanitizeObjectName reduces an uploaded file name to a single safe path
// element. Separators and control characters are replaced with '_'.
func SanitizeObjectName(name string) (string, error) {
	name = strings.TrimSpace(filepath.Base(filepath.ToSlash(strings.ReplaceAll(name, "\\", "/"))))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("invalid object name")
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':':
			b.WriteRune('_')
		case unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "", fmt.Errorf("invalid object name")
	}
	if runes := []rune(out); len(runes) > maxObjectNameLength {
		out = string(runes[len(runes)-maxObjectNameLength:])
	}
	return out, nil
}
