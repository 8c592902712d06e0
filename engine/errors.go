/*
errors.go - Centralized error types for the rules engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Services wrap these with context; the API maps them to HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - Malformed or missing input (bad date, negative premium)
  2. Configuration errors - Missing or inconsistent rule configuration
  3. Ambiguous match errors - One feed record matches several internal policies
  4. Store errors - Not found, conflicts

USAGE:
  if errors.Is(err, engine.ErrValidation) {
      // 400
  }

  var verr *engine.ValidationError
  if errors.As(err, &verr) {
      log.Printf("bad field %s", verr.Field)
  }

SEE ALSO:
  - time.go: Date parsing returns ValidationError
  - config.go: Returns ConfigurationError
  - reconcile.go: Returns AmbiguousMatchError in strict mode
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the category of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration is the category of every ConfigurationError.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrAmbiguousMatch is returned when one indicator matches several
	// internal policies and the caller asked for strict reconciliation.
	ErrAmbiguousMatch = errors.New("ambiguous policy match")

	// ErrNotFound is returned by stores when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores on unique constraint violations.
	ErrConflict = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single invalid input field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConfigurationError describes a missing or unusable configuration key.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// AmbiguousMatchError lists the internal policies that matched one
// indicator policy number.
type AmbiguousMatchError struct {
	PolicyNumber string
	Candidates   []PolicyID
}

func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = string(c)
	}
	return fmt.Sprintf("policy %s matches %d internal policies (%s)",
		e.PolicyNumber, len(e.Candidates), strings.Join(ids, ", "))
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// PolicyError attaches the offending policy to an error from a batch.
type PolicyError struct {
	PolicyID PolicyID
	Number   string
	Err      error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s (%s): %v", e.Number, e.PolicyID, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAmbiguousMatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a duplicate record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
