package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "kyc-intake/pkg/domain-errors"
)

// Submission is the immutable snapshot handed to a submission sink.
type Submission struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   uuid.UUID       `json:"session_id"`
	UserID      string          `json:"user_id"`
	Form        KYCForm         `json:"form"`
	PANDocument *UploadedFile   `json:"pan_document,omitempty"`
	GST         GSTVerification `json:"gst"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// NewSubmission snapshots the session as of now.
func NewSubmission(s *Session, now time.Time) *Submission {
	snap := s.Clone()
	return &Submission{
		ID:          uuid.New(),
		SessionID:   snap.ID,
		UserID:      snap.UserID,
		Form:        snap.Form,
		PANDocument: snap.PANDocument,
		GST:         snap.GST,
		SubmittedAt: now,
	}
}

// SubmissionPolicy gates Submit. Both checks are off by default, which
// matches the form's historic behavior of accepting any submission.
type SubmissionPolicy struct {
	RequireDeclaration bool
	RequireVerifiedGST bool
}

// Check reports the first unmet requirement as a validation error.
func (p SubmissionPolicy) Check(s *Session) error {
	if p.RequireDeclaration && !s.Form.Declaration {
		return dErrors.New(dErrors.CodeValidation, "declaration must be accepted before submitting")
	}
	if p.RequireVerifiedGST && !s.GST.Verified() {
		return dErrors.New(dErrors.CodeValidation, "GST number must be verified before submitting")
	}
	return nil
}
