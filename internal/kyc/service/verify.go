package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kyc-intake/internal/audit"
	"kyc-intake/internal/kyc/gst"
	"kyc-intake/internal/kyc/models"
	dErrors "kyc-intake/pkg/domain-errors"
	"kyc-intake/pkg/requestcontext"
)

// VerifyGST verifies the session's current GST number and records the
// result next to the field. A rejection is a normal outcome, not an error.
// If the number is edited while verification runs, the result is dropped.
func (s *Service) VerifyGST(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.loadEditable(ctx, id)
	if err != nil {
		return nil, err
	}

	number := session.Form.GSTNumber
	result, err := s.verifyNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	// The write reloads the session, so an edit made during the remote call
	// is seen here and never overwritten.
	stale := false
	session, err = s.mutate(ctx, id, func(session *models.Session, now time.Time) error {
		stale = !session.RecordGST(number, *result, now)
		if stale {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stale {
		s.logger.InfoContext(ctx, "discarding GST result for edited number",
			"session_id", id.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return session, nil
	}

	action := audit.ActionGSTVerified
	if result.Status == models.GSTStatusRejected {
		action = audit.ActionGSTRejected
	}
	s.logAudit(ctx, session, action, result.Error)
	return session, nil
}

// VerifyGSTNumber verifies a number without touching any session.
func (s *Service) VerifyGSTNumber(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	return s.verifyNumber(ctx, gstNumber)
}

func (s *Service) verifyNumber(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	ctx, span := s.tracer.Start(ctx, "kyc.VerifyGST")
	defer span.End()

	result, err := s.verifier.Verify(ctx, gstNumber)
	if err != nil {
		if rej, ok := gst.AsRejection(err); ok {
			span.SetAttributes(attribute.String("gst.status", string(models.GSTStatusRejected)))
			s.metrics.RecordGSTVerification(string(models.GSTStatusRejected), string(rej.Kind))
			return &models.GSTVerification{
				Status:    models.GSTStatusRejected,
				Error:     rej.Message,
				CheckedAt: requestcontext.Now(ctx),
			}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "gst verification unavailable")
		s.metrics.RecordGSTVerification(string(models.GSTStatusUnknown), string(gst.GetCategory(err)))
		s.logger.WarnContext(ctx, "GST verification unavailable",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "GST verification is temporarily unavailable, please try again")
	}

	span.SetAttributes(
		attribute.String("gst.status", string(result.Status)),
		attribute.String("gst.source", result.Source),
	)
	s.metrics.RecordGSTVerification(string(result.Status), result.Source)
	return result, nil
}
