package gst

import (
	"context"
	"regexp"
	"time"

	"kyc-intake/internal/kyc/models"
)

// 2 digit state code, 10 character PAN (5 letters, 4 digits, 1 letter), entity
// number, literal Z, check character.
var gstPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z]{1}[1-9A-Z]{1}Z[0-9A-Z]{1}$`)

// ValidFormat reports whether s has the exact shape of a GSTIN. Matching is
// case sensitive and does not trim.
func ValidFormat(s string) bool {
	return gstPattern.MatchString(s)
}

// CheckFormat returns ErrEmptyInput, ErrFormatMismatch or nil.
func CheckFormat(s string) error {
	if s == "" {
		return ErrEmptyInput
	}
	if !ValidFormat(s) {
		return ErrFormatMismatch
	}
	return nil
}

// FormatVerifier certifies shape only. It never leaves the process, so a
// verified result says nothing about real-world registration.
type FormatVerifier struct {
	now func() time.Time
}

func NewFormatVerifier() *FormatVerifier {
	return &FormatVerifier{now: time.Now}
}

func (v *FormatVerifier) Verify(_ context.Context, gstNumber string) (*models.GSTVerification, error) {
	if err := CheckFormat(gstNumber); err != nil {
		return nil, err
	}
	now := time.Now
	if v != nil && v.now != nil {
		now = v.now
	}
	return &models.GSTVerification{
		Status:    models.GSTStatusVerified,
		Source:    models.GSTSourceFormat,
		CheckedAt: now(),
	}, nil
}
