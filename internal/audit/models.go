package audit

import "time"

// Action names a KYC session lifecycle step worth an audit record.
type Action string

const (
	ActionSessionStarted   Action = "kyc_session_started"
	ActionSessionDiscarded Action = "kyc_session_discarded"
	ActionDocumentAttached Action = "kyc_pan_document_attached"
	ActionDocumentRemoved  Action = "kyc_pan_document_removed"
	ActionGSTVerified      Action = "kyc_gst_verified"
	ActionGSTRejected      Action = "kyc_gst_rejected"
	ActionSubmitted        Action = "kyc_submitted"
	ActionSubmitFailed     Action = "kyc_submit_failed"
)

// Event is emitted from domain logic to capture key actions. It never carries
// form values, only identifiers and outcomes.
type Event struct {
	Timestamp time.Time
	UserID    string
	SessionID string
	Action    Action
	Reason    string
	RequestID string
}
