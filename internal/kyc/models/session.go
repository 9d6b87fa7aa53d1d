package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the ISO date format of the declaration date.
const DateLayout = "2006-01-02"

// Session owns the single live form state of one form visit. Version is
// bumped by the store on every successful write and guards concurrent
// read-modify-write cycles.
type Session struct {
	ID          uuid.UUID       `json:"id"`
	UserID      string          `json:"user_id"`
	Form        KYCForm         `json:"form"`
	PANDocument *UploadedFile   `json:"pan_document,omitempty"`
	GST         GSTVerification `json:"gst"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	Version     int64           `json:"version"`
}

// NewSession starts an empty form dated to now.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Form:      KYCForm{Date: now.UTC().Format(DateLayout)},
		GST:       UnknownGST(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) Submitted() bool {
	return s.SubmittedAt != nil
}

// UpdateField sets a text field. Any change to the GST number discards the
// previous verification outcome.
func (s *Session) UpdateField(field Field, value string, now time.Time) {
	s.Form.set(field, value)
	if field == FieldGSTNumber {
		s.GST = UnknownGST()
	}
	s.UpdatedAt = now
}

func (s *Session) SetBusinessType(b BusinessType, now time.Time) {
	s.Form.BusinessType = b
	s.UpdatedAt = now
}

func (s *Session) SetDeclaration(checked bool, now time.Time) {
	s.Form.Declaration = checked
	s.UpdatedAt = now
}

// AttachPANDocument replaces any previously selected file.
func (s *Session) AttachPANDocument(f *UploadedFile, now time.Time) {
	s.PANDocument = f
	s.UpdatedAt = now
}

func (s *Session) RemovePANDocument(now time.Time) {
	s.PANDocument = nil
	s.UpdatedAt = now
}

// RecordGST stores a verification outcome for the GST number it was computed
// for. Outcomes for a number the user has since edited are dropped.
func (s *Session) RecordGST(gstNumber string, result GSTVerification, now time.Time) bool {
	if s.Form.GSTNumber != gstNumber {
		return false
	}
	s.GST = result
	s.UpdatedAt = now
	return true
}

func (s *Session) MarkSubmitted(now time.Time) {
	s.SubmittedAt = &now
	s.UpdatedAt = now
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.PANDocument != nil {
		doc := *s.PANDocument
		doc.Content = append([]byte(nil), s.PANDocument.Content...)
		c.PANDocument = &doc
	}
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		c.SubmittedAt = &t
	}
	return &c
}
