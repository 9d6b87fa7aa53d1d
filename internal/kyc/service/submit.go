package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kyc-intake/internal/audit"
	"kyc-intake/internal/kyc/models"
	dErrors "kyc-intake/pkg/domain-errors"
	"kyc-intake/pkg/platform/sentinel"
	"kyc-intake/pkg/requestcontext"
)

// Submission outcomes as recorded in metrics.
const (
	outcomeAccepted  = "accepted"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
	outcomeDuplicate = "duplicate"
)

// Submit checks the submission policy, hands a snapshot of the form to the
// sink, and locks the session. A failed delivery leaves the session
// editable so the user can retry. When the sink reports it already holds
// this session's submission, the session is locked and Submit reports a
// conflict, so an earlier delivery whose lock was lost cannot leave the
// session stuck.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	ctx, span := s.tracer.Start(ctx, "kyc.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("kyc.sink", s.sink.Name()))

	session, err := s.loadEditable(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.policy.Check(session); err != nil {
		s.metrics.RecordSubmission(outcomeRejected, s.sink.Name())
		return nil, err
	}

	now := requestcontext.Now(ctx)
	sub := models.NewSubmission(session, now)

	start := time.Now()
	err = s.sink.Deliver(ctx, sub)
	s.metrics.ObserveSinkDelivery(s.sink.Name(), start)
	if errors.Is(err, sentinel.ErrConflict) {
		s.metrics.RecordSubmission(outcomeDuplicate, s.sink.Name())
		s.logger.WarnContext(ctx, "sink already holds submission, locking session",
			"session_id", id.String(),
			"sink", s.sink.Name(),
			"request_id", requestcontext.RequestID(ctx),
		)
		locked, lockErr := s.lockSubmitted(ctx, id, now)
		if lockErr != nil {
			return nil, lockErr
		}
		s.logAudit(ctx, locked, audit.ActionSubmitted, s.sink.Name()+": already delivered")
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "session has already been submitted")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission delivery failed")
		s.metrics.RecordSubmission(outcomeFailed, s.sink.Name())
		s.logger.ErrorContext(ctx, "submission delivery failed",
			"session_id", id.String(),
			"sink", s.sink.Name(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.logAudit(ctx, session, audit.ActionSubmitFailed, s.sink.Name())
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "submission could not be delivered, please try again")
	}

	session, err = s.lockSubmitted(ctx, id, now)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSubmission(outcomeAccepted, s.sink.Name())
	s.logAudit(ctx, session, audit.ActionSubmitted, s.sink.Name())
	return sub, nil
}

// lockSubmitted marks the session submitted at now. Edits that raced the
// delivery do not block the lock; a session someone else already locked is
// returned as is.
func (s *Service) lockSubmitted(ctx context.Context, id uuid.UUID, now time.Time) (*models.Session, error) {
	return s.write(ctx, id, s.load, func(session *models.Session, _ time.Time) error {
		if session.Submitted() {
			return errUnchanged
		}
		session.MarkSubmitted(now)
		return nil
	})
}
