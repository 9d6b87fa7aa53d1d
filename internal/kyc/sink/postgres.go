package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/sentinel"
)

// Schema creates the submissions table used by PostgresSink.
const Schema = `
CREATE TABLE IF NOT EXISTS kyc_submissions (
	id           UUID PRIMARY KEY,
	session_id   UUID NOT NULL UNIQUE,
	user_id      TEXT NOT NULL,
	legal_name   TEXT NOT NULL,
	business_pan TEXT NOT NULL,
	gst_number   TEXT NOT NULL,
	gst_status   TEXT NOT NULL,
	declaration  BOOLEAN NOT NULL,
	payload      JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL
)`

const uniqueViolation = "23505"

// PostgresSink records submissions in PostgreSQL for a downstream reviewer.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

// Migrate creates the table if needed.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate kyc_submissions: %w", err)
	}
	return nil
}

func (s *PostgresSink) Deliver(ctx context.Context, sub *models.Submission) error {
	payload, err := encodeSubmission(sub, true)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	query := `
		INSERT INTO kyc_submissions
			(id, session_id, user_id, legal_name, business_pan, gst_number, gst_status, declaration, payload, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		sub.ID,
		sub.SessionID,
		sub.UserID,
		sub.Form.LegalName,
		sub.Form.BusinessPAN,
		sub.Form.GSTNumber,
		string(sub.GST.Status),
		sub.Form.Declaration,
		payload,
		sub.SubmittedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("session already submitted: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}
