// Package validation provides input validation for security-critical
// operations: package names, versions, platform tags, and path components.
// The path checks implement defense-in-depth against traversal attacks.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Package name validation:
// - Lowercase letters, digits, and separators (., _, -)
// - Separators must not be adjacent and cannot start/end the name
var packageNameRegex = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// Checksum validation for content-addressable lookups: 64 lowercase hex chars
// (SHA-256).
var checksumRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// MaxPackageNameLength is the maximum allowed length for package names.
const MaxPackageNameLength = 128

// ValidatePackageName validates a package name.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if len(name) > MaxPackageNameLength {
		return fmt.Errorf("package name too long: %d chars (max %d)", len(name), MaxPackageNameLength)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("package name contains path traversal sequence")
	}
	if !packageNameRegex.MatchString(name) {
		return fmt.Errorf("invalid package name: must contain only lowercase letters, digits, and separators (., _, -)")
	}
	return nil
}

// ValidateVersion validates a semantic version string.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}
	if _, err := semver.StrictNewVersion(version); err != nil {
		return fmt.Errorf("invalid semantic version %q: %w", version, err)
	}
	return nil
}

// MajorVersion returns the major component of a semantic version, or -1 when
// the version does not parse.
func MajorVersion(version string) int {
	v, err := semver.NewVersion(version)
	if err != nil {
		return -1
	}
	return int(v.Major())
}

// ValidateChecksum validates a SHA-256 hex digest.
func ValidateChecksum(checksum string) error {
	if checksum == "" {
		return fmt.Errorf("checksum cannot be empty")
	}
	if !checksumRegex.MatchString(checksum) {
		return fmt.Errorf("invalid checksum: must be 64 lowercase hex characters")
	}
	return nil
}

// ValidateEntryName validates an archive entry name. Rejects traversal
// sequences, absolute paths, Windows drive letters, and home expansion.
func ValidateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("entry name cannot be empty")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("entry name contains path traversal sequence: %q", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return fmt.Errorf("entry name is absolute: %q", name)
	}
	if len(name) >= 2 && name[1] == ':' {
		return fmt.Errorf("entry name contains drive letter: %q", name)
	}
	if strings.HasPrefix(name, "~") {
		return fmt.Errorf("entry name starts with home expansion: %q", name)
	}
	return nil
}

// ValidatePath sanitizes and validates a relative path component.
// Returns the cleaned path or an error if the path is unsafe.
func ValidatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("path traversal not allowed")
	}
	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("absolute paths not allowed")
	}
	return cleanPath, nil
}

// ValidatePathWithinRoot validates that a constructed path stays within the
// root directory after filepath.Join operations.
func ValidatePathWithinRoot(rootDir, fullPath string) error {
	cleanRoot := filepath.Clean(rootDir)
	cleanPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)) && cleanPath != cleanRoot {
		return fmt.Errorf("path escapes root directory")
	}
	return nil
}
