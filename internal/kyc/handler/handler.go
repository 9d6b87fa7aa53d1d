package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/internal/platform/metrics"
	"kyc-intake/internal/platform/middleware"
	dErrors "kyc-intake/pkg/domain-errors"
	"kyc-intake/pkg/platform/httputil"
	"kyc-intake/pkg/requestcontext"
)

// Service defines the form operations the handler drives.
type Service interface {
	StartSession(ctx context.Context, userID string) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	DiscardSession(ctx context.Context, id uuid.UUID) error
	UpdateField(ctx context.Context, id uuid.UUID, field models.Field, value string) (*models.Session, error)
	SetBusinessType(ctx context.Context, id uuid.UUID, businessType models.BusinessType) (*models.Session, error)
	SetDeclaration(ctx context.Context, id uuid.UUID, checked bool) (*models.Session, error)
	AttachPANDocument(ctx context.Context, id uuid.UUID, file *models.UploadedFile) (*models.Session, error)
	RemovePANDocument(ctx context.Context, id uuid.UUID) (*models.Session, error)
	VerifyGST(ctx context.Context, id uuid.UUID) (*models.Session, error)
	VerifyGSTNumber(ctx context.Context, gstNumber string) (*models.GSTVerification, error)
	Submit(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	MaxUploadBytes() int64
}

// multipartOverhead is headroom for boundaries and part headers on upload.
const multipartOverhead = 64 << 10

// Handler serves the KYC form endpoints.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	// verifyLimiter guards the GST verify routes, which may call the registry.
	verifyLimiter func(http.Handler) http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithVerifyLimiter wraps both GST verify routes with mw.
func WithVerifyLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.verifyLimiter = mw
	}
}

func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		service:       service,
		logger:        logger,
		metrics:       metrics,
		jwtValidator:  jwtValidator,
		verifyLimiter: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the KYC routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	kycRouter := chi.NewRouter()
	kycRouter.Use(middleware.Recovery(h.logger))
	kycRouter.Use(middleware.RequestID)
	kycRouter.Use(middleware.RequestTime)
	kycRouter.Use(middleware.ClientMetadata)
	kycRouter.Use(middleware.Logger(h.logger))
	kycRouter.Use(middleware.Timeout(30 * time.Second))
	kycRouter.Use(middleware.LatencyMiddleware(h.metrics))
	kycRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	kycRouter.With(h.verifyLimiter).Post("/kyc/gst/verify", h.handleVerifyGSTNumber)
	kycRouter.Post("/kyc/sessions", h.handleStartSession)
	kycRouter.Route("/kyc/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDiscardSession)
		r.Patch("/fields", h.handleUpdateField)
		r.Put("/business-type", h.handleSetBusinessType)
		r.Put("/declaration", h.handleSetDeclaration)
		r.Put("/pan-document", h.handleAttachPANDocument)
		r.Delete("/pan-document", h.handleRemovePANDocument)
		r.With(h.verifyLimiter).Post("/gst/verify", h.handleVerifyGST)
		r.Post("/submit", h.handleSubmit)
	})

	r.Mount("/", kycRouter)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.service.StartSession(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, err, "failed to start session")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to load session", h.service.GetSession)
}

func (h *Handler) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.DiscardSession(ctx, id); err != nil {
		h.writeError(ctx, w, err, "failed to discard session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[UpdateFieldRequest](h, w, r)
	if !ok {
		return
	}
	h.withSession(w, r, "failed to update field", func(ctx context.Context, id uuid.UUID) (*models.Session, error) {
		return h.service.UpdateField(ctx, id, req.field, req.Value)
	})
}

func (h *Handler) handleSetBusinessType(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[BusinessTypeRequest](h, w, r)
	if !ok {
		return
	}
	h.withSession(w, r, "failed to set business type", func(ctx context.Context, id uuid.UUID) (*models.Session, error) {
		return h.service.SetBusinessType(ctx, id, req.businessType)
	})
}

func (h *Handler) handleSetDeclaration(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[DeclarationRequest](h, w, r)
	if !ok {
		return
	}
	h.withSession(w, r, "failed to set declaration", func(ctx context.Context, id uuid.UUID) (*models.Session, error) {
		return h.service.SetDeclaration(ctx, id, *req.Checked)
	})
}

func (h *Handler) handleAttachPANDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	file, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read upload")
		return
	}

	session, err := h.service.AttachPANDocument(ctx, id, file)
	if err != nil {
		h.writeError(ctx, w, err, "failed to attach PAN document")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) handleRemovePANDocument(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to remove PAN document", h.service.RemovePANDocument)
}

func (h *Handler) handleVerifyGST(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, "failed to verify GST number", h.service.VerifyGST)
}

func (h *Handler) handleVerifyGSTNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[VerifyGSTRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.VerifyGSTNumber(ctx, req.GSTNumber)
	if err != nil {
		h.writeError(ctx, w, err, "failed to verify GST number")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sub, err := h.service.Submit(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err, "failed to submit")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

// withSession runs op against the session named in the path and writes the
// resulting session.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, failure string, op func(context.Context, uuid.UUID) (*models.Session, error)) {
	ctx := r.Context()
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	session, err := op(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err, failure)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r.Context(), w, dErrors.New(dErrors.CodeBadRequest, "invalid session id"), "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func decode[T any, PT interface {
	*T
	httputil.Validatable
}](h *Handler, w http.ResponseWriter, r *http.Request) (*T, bool) {
	req, err := httputil.DecodeAndPrepare[T, PT](r)
	if err != nil {
		h.writeError(r.Context(), w, err, "invalid request")
		return nil, false
	}
	return req, true
}

// readUpload reads the multipart "file" part, bounded by the upload limit.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*models.UploadedFile, error) {
	limit := h.service.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	part, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.Wrap(err, dErrors.CodeTooLarge, "PAN document is too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "multipart field \"file\" is required")
	}
	defer part.Close()

	content, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read PAN document")
	}
	return models.NewUploadedFile(header.Filename, header.Header.Get("Content-Type"), content), nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	requestID := requestcontext.RequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", requestID,
		)
	default:
		h.logger.WarnContext(ctx, msg,
			"error", err,
			"request_id", requestID,
		)
	}
	httputil.WriteError(w, err)
}
