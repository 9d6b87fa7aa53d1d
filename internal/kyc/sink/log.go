package sink

import (
	"context"
	"log/slog"

	"kyc-intake/internal/kyc/models"
)

// LogSink only writes a log record. It is a stub for local development and
// says so in every record it writes.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Deliver(ctx context.Context, sub *models.Submission) error {
	attrs := []any{
		"stub", true,
		"submission_id", sub.ID.String(),
		"session_id", sub.SessionID.String(),
		"business_type", string(sub.Form.BusinessType),
		"declaration", sub.Form.Declaration,
		"gst_status", string(sub.GST.Status),
		"date", sub.Form.Date,
	}
	if sub.PANDocument != nil {
		attrs = append(attrs,
			"pan_document_name", sub.PANDocument.Name,
			"pan_document_size", sub.PANDocument.Size,
			"pan_document_sha256", sub.PANDocument.SHA256,
		)
	}
	s.logger.InfoContext(ctx, "kyc form submitted (log sink, not forwarded)", attrs...)
	return nil
}
