/*
errors.go - Centralized error types for the fee engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The taxonomy is small and stable:

  1. ResourceNotFoundError - rule, record, or card absent / not owned
  2. ValidationError       - malformed input (bad condition values, bad dates)
  3. BusinessRuleError     - duplicate record, illegal state transition,
                             deletion of a referenced rule

USAGE:
  Callers match with errors.Is against the sentinels:

    if errors.Is(err, fee.ErrNotFound) { ... 404 ... }
    if errors.Is(err, fee.ErrBusinessRule) { ... 409 ... }

  Structured types carry context and unwrap to the sentinel.

SEE ALSO:
  - lifecycle.go: Raises BusinessRuleError on illegal transitions
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package fee

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the root of all missing-resource errors.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation is the root of all malformed-input errors.
	ErrValidation = errors.New("validation failed")

	// ErrBusinessRule is the root of all business-rule violations.
	ErrBusinessRule = errors.New("business rule violated")
)

// Business rule codes carried by BusinessRuleError.
const (
	CodeDuplicateRecord   = "duplicate_record"
	CodeIllegalTransition = "illegal_transition"
	CodeRuleReferenced    = "rule_referenced"
	CodeDuplicateRule     = "duplicate_rule"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ResourceNotFoundError identifies which resource was missing.
type ResourceNotFoundError struct {
	Resource string // "rule", "record", "card", "transaction"
	ID       string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *ResourceNotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError identifies the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BusinessRuleError carries a stable machine-readable code.
type BusinessRuleError struct {
	Code    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation returns true if the error is due to invalid input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsBusinessRule returns true if the error is a business-rule violation.
func IsBusinessRule(err error) bool { return errors.Is(err, ErrBusinessRule) }
