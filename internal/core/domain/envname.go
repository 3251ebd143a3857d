package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Names
// =============================================================================

var (
	ErrNameRequired = errors.New("name is required")
	ErrInvalidName  = errors.New("name contains characters outside [a-z0-9_-]")
)

// Well-known environments. Any other valid name is accepted as well.
const (
	EnvDev        = "dev"
	EnvProduction = "production"
)

// ValidateEnvName checks that an environment name is safe to use as a
// directory name under the migrations directory.
//
// The rules are:
//   - Lowercase letters (a-z) and digits (0-9) are allowed
//   - Hyphens (-) and underscores (_) are allowed
//   - Everything else, including path separators and dots, is rejected
//
// Example:
//
//	ValidateEnvName("dev")        // nil
//	ValidateEnvName("staging-2")  // nil
//	ValidateEnvName("../prod")    // ErrInvalidName
func ValidateEnvName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
