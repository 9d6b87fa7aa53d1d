package handler

import (
	"time"

	"github.com/google/uuid"

	"kyc-intake/internal/kyc/models"
)

type SessionResponse struct {
	ID                uuid.UUID              `json:"id"`
	Form              models.KYCForm         `json:"form"`
	BusinessTypeLabel string                 `json:"business_type_label,omitempty"`
	PANDocument       *models.UploadedFile   `json:"pan_document,omitempty"`
	GST               models.GSTVerification `json:"gst"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	SubmittedAt       *time.Time             `json:"submitted_at,omitempty"`
}

// toSessionResponse never echoes document bytes back to the client.
func toSessionResponse(s *models.Session) *SessionResponse {
	return &SessionResponse{
		ID:                s.ID,
		Form:              s.Form,
		BusinessTypeLabel: s.Form.BusinessType.Label(),
		PANDocument:       s.PANDocument.Metadata(),
		GST:               s.GST,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		SubmittedAt:       s.SubmittedAt,
	}
}

type SubmissionResponse struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	SessionID    uuid.UUID `json:"session_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

func toSubmissionResponse(s *models.Submission) *SubmissionResponse {
	return &SubmissionResponse{
		SubmissionID: s.ID,
		SessionID:    s.SessionID,
		SubmittedAt:  s.SubmittedAt,
	}
}
