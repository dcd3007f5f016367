package postgres

/*
Файл audit_repo.go — Postgres-хранилище журнала изменений политики.
Включается, если задан audit.database_url. Таблица:

	CREATE TABLE policy_audit_log (
		id                 UUID PRIMARY KEY,
		trace_id           TEXT NOT NULL,
		action             TEXT NOT NULL,
		profile_identifier TEXT NOT NULL,
		install            BOOLEAN NOT NULL,
		status             TEXT NOT NULL,
		exit_code          INTEGER NOT NULL,
		error              TEXT,
		duration_ms        BIGINT NOT NULL,
		timestamp          TIMESTAMPTZ NOT NULL
	);
*/

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/system-policy-control/internal/audit"
)

// Количество колонок в таблице policy_audit_log
const auditColumns = 10

type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo открывает пул соединений. Доступность проверяется через Ping.
func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewAuditRepoFromDB(db), nil
}

func NewAuditRepoFromDB(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(events))
	vals := make([]interface{}, 0, len(events)*auditColumns)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * auditColumns
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10))

		vals = append(vals,
			e.ID, e.TraceID, e.Action, e.ProfileIdentifier, e.Install,
			e.Status, e.ExitCode, nullable(e.Error), e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO policy_audit_log (id, trace_id, action, profile_identifier, install, status, exit_code, error, duration_ms, timestamp) VALUES %s",
		strings.Join(placeholders, ", "),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("insert audit batch (%d events): %w", len(events), err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
