package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"kyc-intake/internal/audit"
	"kyc-intake/internal/kyc/metrics"
	"kyc-intake/internal/kyc/models"
	dErrors "kyc-intake/pkg/domain-errors"
	"kyc-intake/pkg/platform/sentinel"
	"kyc-intake/pkg/requestcontext"
)

// DefaultMaxUploadBytes bounds the PAN document size.
const DefaultMaxUploadBytes int64 = 5 << 20

// SessionStore persists sessions. Update is a compare-and-set on
// Session.Version and returns sentinel.ErrConflict when the stored session
// changed since it was read.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type Verifier interface {
	Verify(ctx context.Context, gstNumber string) (*models.GSTVerification, error)
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, sub *models.Submission) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service holds the live form state of every session and hands completed
// forms to the configured sink.
type Service struct {
	sessions       SessionStore
	verifier       Verifier
	sink           Sink
	policy         models.SubmissionPolicy
	maxUploadBytes int64
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSubmissionPolicy(p models.SubmissionPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service. Submission gating is off unless a policy is set.
func New(sessions SessionStore, verifier Verifier, sink Sink, opts ...Option) *Service {
	s := &Service{
		sessions:       sessions,
		verifier:       verifier,
		sink:           sink,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.New(slog.DiscardHandler),
		tracer:         otel.Tracer("kyc-intake/internal/kyc/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// StartSession opens a blank form dated today.
func (s *Service) StartSession(ctx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user is not authenticated")
	}
	session := models.NewSession(userID, requestcontext.Now(ctx))
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	s.metrics.IncrementSessionsStarted()
	s.logAudit(ctx, session, audit.ActionSessionStarted, "")
	return session, nil
}

// GetSession returns the caller's session. Sessions owned by someone else
// are reported as not found.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.load(ctx, id)
}

// DiscardSession drops the form state. Submitted sessions may be discarded
// too; the submission itself already lives in the sink.
func (s *Service) DiscardSession(ctx context.Context, id uuid.UUID) error {
	session, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return translateStoreError(err, "failed to discard session")
	}
	s.logAudit(ctx, session, audit.ActionSessionDiscarded, "")
	return nil
}

// UpdateField sets a text field. Editing the GST number resets its
// verification result.
func (s *Service) UpdateField(ctx context.Context, id uuid.UUID, field models.Field, value string) (*models.Session, error) {
	return s.mutate(ctx, id, func(session *models.Session, now time.Time) error {
		session.UpdateField(field, value, now)
		return nil
	})
}

func (s *Service) SetBusinessType(ctx context.Context, id uuid.UUID, businessType models.BusinessType) (*models.Session, error) {
	return s.mutate(ctx, id, func(session *models.Session, now time.Time) error {
		session.SetBusinessType(businessType, now)
		return nil
	})
}

func (s *Service) SetDeclaration(ctx context.Context, id uuid.UUID, checked bool) (*models.Session, error) {
	return s.mutate(ctx, id, func(session *models.Session, now time.Time) error {
		session.SetDeclaration(checked, now)
		return nil
	})
}

// AttachPANDocument replaces any previously attached document. The picker
// type hint is advisory, so other types are accepted with a warning.
func (s *Service) AttachPANDocument(ctx context.Context, id uuid.UUID, file *models.UploadedFile) (*models.Session, error) {
	if file == nil || file.Size == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "PAN document is empty")
	}
	if file.Size > s.maxUploadBytes {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("PAN document exceeds %d bytes", s.maxUploadBytes))
	}
	session, err := s.mutate(ctx, id, func(session *models.Session, now time.Time) error {
		session.AttachPANDocument(file, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !file.AcceptedType() {
		s.logger.WarnContext(ctx, "PAN document is neither an image nor a PDF",
			"session_id", id.String(),
			"content_type", file.ContentType,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	s.logAudit(ctx, session, audit.ActionDocumentAttached, "")
	return session, nil
}

func (s *Service) RemovePANDocument(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.mutate(ctx, id, func(session *models.Session, now time.Time) error {
		session.RemovePANDocument(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, session, audit.ActionDocumentRemoved, "")
	return session, nil
}

// maxWriteAttempts bounds the read-modify-write retries when another request
// wrote the session between our read and our write.
const maxWriteAttempts = 3

// errUnchanged lets a mutation skip the write without failing.
var errUnchanged = errors.New("session unchanged")

// mutate applies fn to an editable session and persists the result.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*models.Session, time.Time) error) (*models.Session, error) {
	return s.write(ctx, id, s.loadEditable, fn)
}

// write runs a compare-and-set cycle: load, apply fn, save. A version
// conflict reloads and reapplies fn so concurrent edits are never lost.
func (s *Service) write(
	ctx context.Context,
	id uuid.UUID,
	loadFn func(context.Context, uuid.UUID) (*models.Session, error),
	fn func(*models.Session, time.Time) error,
) (*models.Session, error) {
	for attempt := 1; ; attempt++ {
		session, err := loadFn(ctx, id)
		if err != nil {
			return nil, err
		}
		err = fn(session, requestcontext.Now(ctx))
		if errors.Is(err, errUnchanged) {
			return session, nil
		}
		if err != nil {
			return nil, err
		}
		err = s.sessions.Update(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) || attempt == maxWriteAttempts {
			return nil, translateStoreError(err, "failed to save session")
		}
		s.logger.DebugContext(ctx, "session changed concurrently, retrying write",
			"session_id", id.String(),
			"attempt", attempt,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "failed to load session")
	}
	if session.UserID != requestcontext.UserID(ctx) {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return session, nil
}

func (s *Service) loadEditable(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Submitted() {
		return nil, dErrors.New(dErrors.CodeConflict, "session has already been submitted")
	}
	return session, nil
}

func translateStoreError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "session was modified concurrently, please retry")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) logAudit(ctx context.Context, session *models.Session, action audit.Action, reason string) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(action),
		"session_id", session.ID.String(),
		"user_id", session.UserID,
		"reason", reason,
		"request_id", requestID,
		"log_type", "audit",
	)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:    session.UserID,
		SessionID: session.ID.String(),
		Action:    action,
		Reason:    reason,
		RequestID: requestID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", string(action),
			"error", err,
			"request_id", requestID,
		)
	}
}
