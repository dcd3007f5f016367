package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/system-policy-control/internal/audit"
	"github.com/xela07ax/system-policy-control/internal/repository/postgres"
)

func TestAuditRepo_WriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	events := []audit.AuditEvent{
		{ID: "a", TraceID: "t1", Action: audit.ActionApply, ProfileIdentifier: "corp.gk", Install: true,
			Status: audit.StatusSuccess, Timestamp: ts, DurationMs: 12},
		{ID: "b", TraceID: "t2", Action: audit.ActionRemove, ProfileIdentifier: "corp.gk",
			Status: audit.StatusFailed, ExitCode: 1, Error: "agent remove exited with code 1", Timestamp: ts, DurationMs: 7},
	}

	mock.ExpectExec(`INSERT INTO policy_audit_log \(id, trace_id, action, profile_identifier, install, status, exit_code, error, duration_ms, timestamp\) VALUES \(\$1, .*\$10\), \(\$11, .*\$20\)`).
		WithArgs(
			"a", "t1", "apply", "corp.gk", true, "SUCCESS", 0, nil, int64(12), ts,
			"b", "t2", "remove", "corp.gk", false, "FAILED", 1, "agent remove exited with code 1", int64(7), ts,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	repo := postgres.NewAuditRepoFromDB(db)
	require.NoError(t, repo.WriteBatch(context.Background(), events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_EmptyBatchIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, postgres.NewAuditRepoFromDB(db).WriteBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_WrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	driverErr := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO policy_audit_log").WillReturnError(driverErr)

	err = postgres.NewAuditRepoFromDB(db).WriteBatch(context.Background(), []audit.AuditEvent{{ID: "a"}})
	assert.ErrorIs(t, err, driverErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
