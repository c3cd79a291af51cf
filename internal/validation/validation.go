// Package validation provides centralized input validation for pdmcore.
//
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/aispark/pdmcore/internal/errors"
)

// =============================================================================
// Identifier Validation
// =============================================================================

// IDRules defines the validation rules for entity identifiers.
type IDRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// DefaultIDRules returns the default rules for client and machine IDs.
func DefaultIDRules() IDRules {
	return IDRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// SensorTypeRules returns rules for sensor type names.
func SensorTypeRules() IDRules {
	return IDRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateID validates an identifier according to the given rules. All
// rejections wrap ErrValidation so callers can categorize them.
func ValidateID(id string, rules IDRules) error {
	if len(id) < rules.MinLength {
		return fmt.Errorf("identifier too short: minimum %d characters required: %w", rules.MinLength, errors.ErrValidation)
	}
	if len(id) > rules.MaxLength {
		return fmt.Errorf("identifier too long: maximum %d characters allowed: %w", rules.MaxLength, errors.ErrValidation)
	}

	if id == "." || id == ".." {
		return fmt.Errorf("identifier cannot be '.' or '..': %w", errors.ErrValidation)
	}

	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("identifier cannot start with '.': %w", errors.ErrValidation)
	}

	for i, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("identifier cannot contain control characters at position %d: %w", i, errors.ErrValidation)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("identifier cannot contain path separators at position %d: %w", i, errors.ErrValidation)
		}
		if !isAllowedIDChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d: %w", r, i, errors.ErrValidation)
		}
	}

	return nil
}

func isAllowedIDChar(r rune, rules IDRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateEntityID validates an entity identifier with default rules.
func ValidateEntityID(id string) error {
	return ValidateID(id, DefaultIDRules())
}

// =============================================================================
// Numeric Validation
// =============================================================================

// ValidateFinite rejects NaN and infinite values.
func ValidateFinite(field string, v float64) error {
	if math.IsNaN(v) {
		return fmt.Errorf("%s is NaN: %w", field, errors.ErrNonFiniteValue)
	}
	if math.IsInf(v, 0) {
		return fmt.Errorf("%s is infinite: %w", field, errors.ErrNonFiniteValue)
	}
	return nil
}

// ValidateScore checks that a score is finite and within [0, 1].
func ValidateScore(field string, v float64) error {
	if err := ValidateFinite(field, v); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return errors.NewInvalidValue(field, v, "out of range [0, 1]")
	}
	return nil
}

// =============================================================================
// Enum Validation
// =============================================================================

// ValidateEnum checks that a value is one of the allowed members.
func ValidateEnum(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return errors.NewInvalidValue(field, value, "not one of "+strings.Join(allowed, ", "))
}

// =============================================================================
// SQL LIKE Escaping
// =============================================================================

var sqlLikeMetaChars = regexp.MustCompile(`[%_\[\]\\]`)

// EscapeLikePattern escapes special characters in a LIKE pattern.
func EscapeLikePattern(pattern string) string {
	return sqlLikeMetaChars.ReplaceAllStringFunc(pattern, func(s string) string {
		return "\\" + s
	})
}

// SafeLikePrefix creates a safe LIKE prefix pattern.
func SafeLikePrefix(prefix string) string {
	return EscapeLikePattern(prefix) + "%"
}

// SafeLikeContains creates a safe LIKE contains pattern.
func SafeLikeContains(pattern string) string {
	return "%" + EscapeLikePattern(pattern) + "%"
}
