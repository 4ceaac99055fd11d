// Package naming builds and validates Postgres database identifiers for
// project databases.
//
// Every project database is named <prefix><sanitized-name>_<8-hex-suffix>.
// Postgres truncates identifiers above 63 bytes, so generated names are kept
// at or below MaxDatabaseNameLength to leave headroom.
package naming

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// DatabasePrefix is the fixed prefix carried by every project database.
	DatabasePrefix = "codexd_"

	// MaxDatabaseNameLength is the ceiling for generated and overridden
	// database names. Postgres allows 63 bytes; 60 leaves headroom.
	MaxDatabaseNameLength = 60

	// suffixLength is the hex suffix taken from a generated token.
	suffixLength = 8

	// defaultIdentifier is used when sanitization produces an empty result.
	defaultIdentifier = "project"
)

// Errors for name validation.
var (
	ErrEmptyDatabaseName   = errors.New("database name cannot be empty")
	ErrMissingPrefix       = errors.New("database name must start with " + DatabasePrefix)
	ErrDatabaseNameTooLong = fmt.Errorf("database name exceeds %d characters", MaxDatabaseNameLength)
)

// SanitizeIdentifier converts a free-text project name into a
// storage-engine-safe identifier fragment.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid character runs with a single underscore
//   - Trims leading/trailing underscores
//   - Returns "project" if the result would be empty
func SanitizeIdentifier(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return defaultIdentifier
	}
	return sanitized
}

// GenerateDatabaseName produces a unique database name for a project.
//
// Format: codexd_<sanitized-name>_<8-hex-chars>. The suffix comes from a
// freshly generated UUID, not from hashing the name: two generations for the
// same name yield different results. The sanitized name is truncated so the
// whole identifier never exceeds MaxDatabaseNameLength.
//
// Examples:
//
//	"My Project!"  -> "codexd_my_project_3f9c01ab"
//	"github.com/x" -> "codexd_github_com_x_77aa41d0"
func GenerateDatabaseName(projectName string) string {
	sanitized := SanitizeIdentifier(projectName)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:suffixLength]

	// prefix + sanitized + "_" + suffix must fit the ceiling
	maxBase := MaxDatabaseNameLength - len(DatabasePrefix) - 1 - suffixLength
	if len(sanitized) > maxBase {
		sanitized = strings.TrimRight(sanitized[:maxBase], "_")
	}

	return DatabasePrefix + sanitized + "_" + suffix
}

// ValidateDatabaseName checks an explicitly overridden database name.
//
// Overrides are not rewritten: a name that lacks the fixed prefix or exceeds
// the length ceiling is a hard input error, never a fallback to generation.
func ValidateDatabaseName(name string) error {
	if name == "" {
		return ErrEmptyDatabaseName
	}
	if !strings.HasPrefix(name, DatabasePrefix) {
		return fmt.Errorf("%w: got %q", ErrMissingPrefix, name)
	}
	if len(name) > MaxDatabaseNameLength {
		return fmt.Errorf("%w: got %q (%d characters)", ErrDatabaseNameTooLong, name, len(name))
	}
	return nil
}
