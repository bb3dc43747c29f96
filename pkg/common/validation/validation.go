// Package validation provides common validation utilities for the webstreams library.
package validation

import (
	"math"

	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return wserrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that a numeric value is a non-negative number.
// NaN is rejected as well, since it compares false against every bound.
func ValidateNonNegative(module, field string, value float64) error {
	if math.IsNaN(value) {
		return wserrors.NewValidationError(module, field, value, "must be a number").
			WithHint("use 0 or a positive value")
	}
	if value < 0 {
		return wserrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return wserrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return wserrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
