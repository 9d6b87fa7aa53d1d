// Package sink delivers submitted KYC forms to the system that processes
// them. Every sink receives the same immutable Submission snapshot.
package sink

import (
	"context"
	"encoding/json"

	"kyc-intake/internal/kyc/models"
)

// Sink hands a submission to an external collaborator. Deliver must return
// only after the collaborator has accepted the submission.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, sub *models.Submission) error
}

// encodeSubmission renders the wire JSON. Brokers with small message limits
// get document metadata only; the content travels with http and postgres.
func encodeSubmission(sub *models.Submission, includeContent bool) ([]byte, error) {
	out := *sub
	if !includeContent {
		out.PANDocument = sub.PANDocument.Metadata()
	}
	return json.Marshal(out)
}
