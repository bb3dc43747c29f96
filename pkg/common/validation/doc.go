// Package validation provides common validation utilities for configuration
// parameters across the webstreams library.
//
// Stream constructors use it for high-water marks, adapters for their
// connection and batching settings. Every failure is a
// *errors.ValidationError wrapping errors.ErrInvalidConfiguration.
package validation
