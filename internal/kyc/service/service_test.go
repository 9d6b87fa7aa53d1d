package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks SessionStore,Verifier,Sink,AuditPublisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kyc-intake/internal/audit"
	"kyc-intake/internal/kyc/gst"
	"kyc-intake/internal/kyc/models"
	"kyc-intake/internal/kyc/service/mocks"
	"kyc-intake/internal/kyc/sink"
	"kyc-intake/internal/kyc/store"
	dErrors "kyc-intake/pkg/domain-errors"
	"kyc-intake/pkg/platform/sentinel"
	"kyc-intake/pkg/requestcontext"
)

const (
	testUser  = "user-1"
	testGSTIN = "22AAAAA0000A1Z5"
)

var fixedNow = time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *store.InMemorySessionStore
	verifier *mocks.MockVerifier
	sink     *mocks.MockSink
	audit    *mocks.MockAuditPublisher
	service  *Service
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemorySessionStore(time.Hour)
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.sink = mocks.NewMockSink(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.sink.EXPECT().Name().Return("test").AnyTimes()
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.service = New(s.store, s.verifier, s.sink, WithAuditPublisher(s.audit))

	ctx := requestcontext.WithUserID(context.Background(), testUser)
	s.ctx = requestcontext.WithTime(ctx, fixedNow)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) startSession() *models.Session {
	session, err := s.service.StartSession(s.ctx, testUser)
	s.Require().NoError(err)
	return session
}

func (s *ServiceSuite) assertCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *ServiceSuite) TestStartSession() {
	s.Run("opens a blank form dated today in UTC", func() {
		session := s.startSession()

		s.Equal(testUser, session.UserID)
		s.Equal("2024-03-09", session.Form.Date)
		s.Equal(models.GSTStatusUnknown, session.GST.Status)
		s.Nil(session.PANDocument)
	})

	s.Run("requires a user", func() {
		_, err := s.service.StartSession(s.ctx, "")
		s.assertCode(err, dErrors.CodeUnauthorized)
	})
}

func (s *ServiceSuite) TestGetSession() {
	session := s.startSession()

	s.Run("owner can read", func() {
		got, err := s.service.GetSession(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(session.ID, got.ID)
	})

	s.Run("other users see not found", func() {
		other := requestcontext.WithUserID(s.ctx, "user-2")
		_, err := s.service.GetSession(other, session.ID)
		s.assertCode(err, dErrors.CodeNotFound)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.service.GetSession(s.ctx, uuid.New())
		s.assertCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestDiscardSession() {
	session := s.startSession()

	s.Require().NoError(s.service.DiscardSession(s.ctx, session.ID))

	_, err := s.service.GetSession(s.ctx, session.ID)
	s.assertCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestUpdateField() {
	s.Run("sets text field", func() {
		session := s.startSession()

		got, err := s.service.UpdateField(s.ctx, session.ID, models.FieldLegalName, "Acme Traders")
		s.Require().NoError(err)
		s.Equal("Acme Traders", got.Form.LegalName)
	})

	s.Run("editing GST number after verification resets the result", func() {
		session := s.startSession()
		_, err := s.service.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN)
		s.Require().NoError(err)

		s.verifier.EXPECT().Verify(gomock.Any(), testGSTIN).
			Return(&models.GSTVerification{Status: models.GSTStatusVerified, Source: "format", CheckedAt: fixedNow}, nil)
		verified, err := s.service.VerifyGST(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.GSTStatusVerified, verified.GST.Status)

		got, err := s.service.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN+"X")
		s.Require().NoError(err)
		s.Equal(models.GSTStatusUnknown, got.GST.Status)
		s.Empty(got.GST.Error)
	})

	s.Run("editing GST number after rejection clears the error", func() {
		session := s.startSession()
		_, err := s.service.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, "abc123")
		s.Require().NoError(err)

		s.verifier.EXPECT().Verify(gomock.Any(), "abc123").Return(nil, gst.ErrFormatMismatch)
		rejected, err := s.service.VerifyGST(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.GSTStatusRejected, rejected.GST.Status)

		got, err := s.service.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN)
		s.Require().NoError(err)
		s.Equal(models.GSTStatusUnknown, got.GST.Status)
		s.Empty(got.GST.Error)
	})
}

func (s *ServiceSuite) TestSetBusinessTypeAndDeclaration() {
	session := s.startSession()

	got, err := s.service.SetBusinessType(s.ctx, session.ID, models.BusinessTypeLLP)
	s.Require().NoError(err)
	s.Equal(models.BusinessTypeLLP, got.Form.BusinessType)

	got, err = s.service.SetDeclaration(s.ctx, session.ID, true)
	s.Require().NoError(err)
	s.True(got.Form.Declaration)
}

func (s *ServiceSuite) TestAttachPANDocument() {
	s.Run("second file replaces the first", func() {
		session := s.startSession()
		first := models.NewUploadedFile("a.pdf", "application/pdf", []byte("%PDF-1.4 a"))
		second := models.NewUploadedFile("b.png", "image/png", []byte("png-bytes"))

		_, err := s.service.AttachPANDocument(s.ctx, session.ID, first)
		s.Require().NoError(err)
		got, err := s.service.AttachPANDocument(s.ctx, session.ID, second)
		s.Require().NoError(err)

		s.Require().NotNil(got.PANDocument)
		s.Equal("b.png", got.PANDocument.Name)
	})

	s.Run("other types are accepted", func() {
		session := s.startSession()
		doc := models.NewUploadedFile("pan.txt", "text/plain", []byte("not really a scan"))

		got, err := s.service.AttachPANDocument(s.ctx, session.ID, doc)
		s.Require().NoError(err)
		s.Equal("pan.txt", got.PANDocument.Name)
	})

	s.Run("oversize file is rejected", func() {
		svc := New(s.store, s.verifier, s.sink, WithMaxUploadBytes(4))
		session := s.startSession()

		_, err := svc.AttachPANDocument(s.ctx, session.ID, models.NewUploadedFile("a.pdf", "application/pdf", []byte("12345")))
		s.assertCode(err, dErrors.CodeValidation)
	})

	s.Run("remove clears the document", func() {
		session := s.startSession()
		_, err := s.service.AttachPANDocument(s.ctx, session.ID, models.NewUploadedFile("a.pdf", "application/pdf", []byte("%PDF")))
		s.Require().NoError(err)

		got, err := s.service.RemovePANDocument(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Nil(got.PANDocument)
	})
}

func (s *ServiceSuite) TestVerifyGST() {
	s.Run("empty number is rejected inline", func() {
		session := s.startSession()
		s.verifier.EXPECT().Verify(gomock.Any(), "").Return(nil, gst.ErrEmptyInput)

		got, err := s.service.VerifyGST(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.GSTStatusRejected, got.GST.Status)
		s.Equal("Please enter a GST number", got.GST.Error)
	})

	s.Run("outage leaves status unknown", func() {
		session := s.startSession()
		_, err := s.service.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN)
		s.Require().NoError(err)
		s.verifier.EXPECT().Verify(gomock.Any(), testGSTIN).
			Return(nil, gst.NewProviderError(gst.ErrorProviderOutage, "registry", "registry returned 503", nil))

		_, err = s.service.VerifyGST(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeUnavailable)

		stored, err := s.service.GetSession(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.GSTStatusUnknown, stored.GST.Status)
	})

	s.Run("result for an edited number is dropped", func() {
		session := s.startSession()
		_, err := s.service.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN)
		s.Require().NoError(err)

		s.verifier.EXPECT().Verify(gomock.Any(), testGSTIN).
			DoAndReturn(func(ctx context.Context, _ string) (*models.GSTVerification, error) {
				_, err := s.service.UpdateField(ctx, session.ID, models.FieldGSTNumber, "27AAPFU0939F1ZV")
				s.Require().NoError(err)
				return &models.GSTVerification{Status: models.GSTStatusVerified, Source: "format"}, nil
			})

		got, err := s.service.VerifyGST(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal("27AAPFU0939F1ZV", got.Form.GSTNumber)
		s.Equal(models.GSTStatusUnknown, got.GST.Status)
	})
}

func (s *ServiceSuite) TestVerifyGSTNumber() {
	svc := New(s.store, gst.NewFormatVerifier(), s.sink)

	got, err := svc.VerifyGSTNumber(s.ctx, testGSTIN)
	s.Require().NoError(err)
	s.Equal(models.GSTStatusVerified, got.Status)
	s.Equal(models.GSTSourceFormat, got.Source)

	got, err = svc.VerifyGSTNumber(s.ctx, "22aaaaa0000a1z5")
	s.Require().NoError(err)
	s.Equal(models.GSTStatusRejected, got.Status)
	s.Equal("Please enter a valid GST number format", got.Error)
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("ungated submit succeeds without declaration", func() {
		session := s.startSession()
		s.sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, sub *models.Submission) error {
				s.Equal(session.ID, sub.SessionID)
				s.False(sub.Form.Declaration)
				return nil
			})

		sub, err := s.service.Submit(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(fixedNow, sub.SubmittedAt)

		stored, err := s.service.GetSession(s.ctx, session.ID)
		s.Require().NoError(err)
		s.True(stored.Submitted())
	})

	s.Run("submitted session is read-only", func() {
		session := s.startSession()
		s.sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil)
		_, err := s.service.Submit(s.ctx, session.ID)
		s.Require().NoError(err)

		_, err = s.service.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeConflict)
		_, err = s.service.UpdateField(s.ctx, session.ID, models.FieldEmail, "a@b.c")
		s.assertCode(err, dErrors.CodeConflict)
	})

	s.Run("gated submit requires declaration and verified GST", func() {
		svc := New(s.store, s.verifier, s.sink, WithSubmissionPolicy(models.SubmissionPolicy{
			RequireDeclaration: true,
			RequireVerifiedGST: true,
		}))
		session := s.startSession()

		_, err := svc.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeValidation)

		_, err = svc.SetDeclaration(s.ctx, session.ID, true)
		s.Require().NoError(err)
		_, err = svc.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeValidation)
	})

	s.Run("sink failure keeps the session editable", func() {
		session := s.startSession()
		s.sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

		_, err := s.service.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeUnavailable)

		_, err = s.service.UpdateField(s.ctx, session.ID, models.FieldMobile, "9876543210")
		s.NoError(err)
	})

	s.Run("duplicate delivery is a conflict and locks the session", func() {
		session := s.startSession()
		s.sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

		_, err := s.service.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeConflict)

		stored, err := s.service.GetSession(s.ctx, session.ID)
		s.Require().NoError(err)
		s.True(stored.Submitted())
		s.Equal(fixedNow, *stored.SubmittedAt)

		// Deliver is expected once, so a second attempt must stop before the sink.
		_, err = s.service.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeConflict)
	})

	s.Run("retry after a partial multi-sink delivery completes the submission", func() {
		archive := &dedupingSink{seen: map[uuid.UUID]bool{}}
		intake := &flakySink{failures: 1}
		svc := New(s.store, s.verifier, sink.NewMultiSink(archive, intake))
		session := s.startSession()

		_, err := svc.Submit(s.ctx, session.ID)
		s.assertCode(err, dErrors.CodeUnavailable)
		s.True(archive.seen[session.ID], "archive took the first attempt")

		sub, err := svc.Submit(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(session.ID, sub.SessionID)
		s.Equal(2, intake.calls)

		stored, err := svc.GetSession(s.ctx, session.ID)
		s.Require().NoError(err)
		s.True(stored.Submitted())
	})
}

func (s *ServiceSuite) TestConcurrentWrites() {
	racing := &racingStore{InMemorySessionStore: s.store}
	svc := New(racing, s.verifier, s.sink)

	s.Run("an edit that lands between read and write is kept", func() {
		session := s.startSession()
		racing.beforeUpdate = func() {
			_, err := svc.UpdateField(s.ctx, session.ID, models.FieldEmail, "ops@acme.test")
			s.Require().NoError(err)
		}

		_, err := svc.UpdateField(s.ctx, session.ID, models.FieldMobile, "9876543210")
		s.Require().NoError(err)

		stored, err := svc.GetSession(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal("ops@acme.test", stored.Form.Email)
		s.Equal("9876543210", stored.Form.Mobile)
		s.Equal(int64(2), stored.Version)
	})

	s.Run("GST result does not overwrite an edit made while verifying", func() {
		session := s.startSession()
		_, err := svc.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN)
		s.Require().NoError(err)

		s.verifier.EXPECT().Verify(gomock.Any(), testGSTIN).
			Return(&models.GSTVerification{Status: models.GSTStatusVerified, Source: "registry"}, nil)
		racing.beforeUpdate = func() {
			_, err := svc.UpdateField(s.ctx, session.ID, models.FieldLegalName, "Acme Traders Pvt Ltd")
			s.Require().NoError(err)
		}

		got, err := svc.VerifyGST(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.GSTStatusVerified, got.GST.Status)
		s.Equal("Acme Traders Pvt Ltd", got.Form.LegalName)
	})

	s.Run("GST result for a number edited just before the write is dropped", func() {
		session := s.startSession()
		_, err := svc.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, testGSTIN)
		s.Require().NoError(err)

		s.verifier.EXPECT().Verify(gomock.Any(), testGSTIN).
			Return(&models.GSTVerification{Status: models.GSTStatusVerified, Source: "registry"}, nil)
		racing.beforeUpdate = func() {
			_, err := svc.UpdateField(s.ctx, session.ID, models.FieldGSTNumber, "27AAPFU0939F1ZV")
			s.Require().NoError(err)
		}

		got, err := svc.VerifyGST(s.ctx, session.ID)
		s.Require().NoError(err)
		s.Equal("27AAPFU0939F1ZV", got.Form.GSTNumber)
		s.Equal(models.GSTStatusUnknown, got.GST.Status)
	})
}

func TestService_WriteConflictGivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	svc := New(sessions, mocks.NewMockVerifier(ctrl), mocks.NewMockSink(ctrl))
	ctx := requestcontext.WithUserID(context.Background(), testUser)
	session := models.NewSession(testUser, fixedNow)

	sessions.EXPECT().FindByID(gomock.Any(), session.ID).
		DoAndReturn(func(context.Context, uuid.UUID) (*models.Session, error) { return session.Clone(), nil }).
		Times(maxWriteAttempts)
	sessions.EXPECT().Update(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict).Times(maxWriteAttempts)

	_, err := svc.UpdateField(ctx, session.ID, models.FieldEmail, "a@b.c")
	if dErrors.CodeOf(err) != dErrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

// racingStore runs beforeUpdate once, just before the next write reaches the
// store, to simulate another request saving the session in between.
type racingStore struct {
	*store.InMemorySessionStore
	beforeUpdate func()
}

func (r *racingStore) Update(ctx context.Context, session *models.Session) error {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}
	return r.InMemorySessionStore.Update(ctx, session)
}

// dedupingSink accepts each session once, like the postgres sink's unique
// session_id.
type dedupingSink struct {
	seen map[uuid.UUID]bool
}

func (d *dedupingSink) Name() string { return "archive" }

func (d *dedupingSink) Deliver(_ context.Context, sub *models.Submission) error {
	if d.seen[sub.SessionID] {
		return sentinel.ErrConflict
	}
	d.seen[sub.SessionID] = true
	return nil
}

type flakySink struct {
	failures int
	calls    int
}

func (f *flakySink) Name() string { return "intake" }

func (f *flakySink) Deliver(context.Context, *models.Submission) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("intake endpoint returned 503")
	}
	return nil
}

func (s *ServiceSuite) TestAuditEvents() {
	recorder := audit.NewInMemoryStore()
	svc := New(s.store, s.verifier, s.sink, WithAuditPublisher(audit.NewPublisher(recorder)))

	session, err := svc.StartSession(s.ctx, testUser)
	s.Require().NoError(err)
	s.sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil)
	_, err = svc.Submit(s.ctx, session.ID)
	s.Require().NoError(err)

	events, err := recorder.ListBySession(s.ctx, session.ID.String())
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionSessionStarted, events[0].Action)
	s.Equal(audit.ActionSubmitted, events[1].Action)
}

func TestService_StoreFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	svc := New(sessions, mocks.NewMockVerifier(ctrl), mocks.NewMockSink(ctrl))
	ctx := requestcontext.WithUserID(context.Background(), testUser)
	id := uuid.New()

	sessions.EXPECT().FindByID(gomock.Any(), id).Return(nil, errors.New("redis: connection pool timeout"))
	_, err := svc.GetSession(ctx, id)
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}

	sessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("redis: connection pool timeout"))
	_, err = svc.StartSession(ctx, testUser)
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}
