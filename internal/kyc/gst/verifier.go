// Package gst verifies Indian GST identification numbers.
//
// Two kinds of Verifier exist: FormatVerifier, which only certifies the shape
// of the number, and RegistryVerifier, which asks a GST registry whether the
// number is registered and active. BreakerVerifier and CachedVerifier wrap a
// registry verifier for resilience and cost.
package gst

import (
	"context"
	"errors"

	"kyc-intake/internal/kyc/models"
)

// Verifier decides whether a GST number is acceptable. A nil error means
// verified. Rejections are *RejectionError; anything else is an
// infrastructure failure that says nothing about the number.
type Verifier interface {
	Verify(ctx context.Context, gstNumber string) (*models.GSTVerification, error)
}

// RejectionKind classifies why a number was turned down.
type RejectionKind string

const (
	KindEmptyInput     RejectionKind = "empty_input"
	KindFormatMismatch RejectionKind = "format_mismatch"
	KindNotRegistered  RejectionKind = "not_registered"
)

// RejectionError is a user-facing verification failure, shown inline next to
// the GST field.
type RejectionError struct {
	Kind    RejectionKind
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

var (
	ErrEmptyInput     = &RejectionError{Kind: KindEmptyInput, Message: "Please enter a GST number"}
	ErrFormatMismatch = &RejectionError{Kind: KindFormatMismatch, Message: "Please enter a valid GST number format"}
	ErrNotRegistered  = &RejectionError{Kind: KindNotRegistered, Message: "GST number is not registered or inactive"}
)

// AsRejection extracts a rejection from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
