package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO kyc_audit_events").
		WithArgs(sqlmock.AnyArg(), ts, "user-1", "s1", "kyc_submitted", "", "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresStore(db).Append(context.Background(), Event{
		Timestamp: ts,
		UserID:    "user-1",
		SessionID: "s1",
		Action:    ActionSubmitted,
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListBySession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"timestamp", "user_id", "session_id", "action", "reason", "request_id"}).
		AddRow(ts, "user-1", "s1", "kyc_session_started", "", "req-1").
		AddRow(ts.Add(time.Minute), "user-1", "s1", "kyc_gst_rejected", "format_mismatch", "req-2")
	mock.ExpectQuery("SELECT timestamp, user_id, session_id, action, reason, request_id").
		WithArgs("s1").
		WillReturnRows(rows)

	events, err := NewPostgresStore(db).ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionSessionStarted, events[0].Action)
	assert.Equal(t, ActionGSTRejected, events[1].Action)
	assert.Equal(t, "format_mismatch", events[1].Reason)
}
