package models

import "time"

// GSTStatus is the tri-state outcome of GST verification.
type GSTStatus string

const (
	GSTStatusUnknown  GSTStatus = "unknown"
	GSTStatusVerified GSTStatus = "verified"
	GSTStatusRejected GSTStatus = "rejected"
)

// Sources of a GST verification result.
const (
	GSTSourceFormat         = "format"
	GSTSourceFormatFallback = "format-fallback"
)

// GSTVerification is the verification result shown next to the GST field.
type GSTVerification struct {
	Status    GSTStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Source    string    `json:"source,omitempty"`
	LegalName string    `json:"legal_name,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// UnknownGST is the initial state and the state after any GST number edit.
func UnknownGST() GSTVerification {
	return GSTVerification{Status: GSTStatusUnknown}
}

func (g GSTVerification) Verified() bool {
	return g.Status == GSTStatusVerified
}
