// Package audit persists operation records produced by the orchestrator.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"history_table_manager/internal/history"
	"history_table_manager/internal/migrate"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// PGRecorder writes records to the operation_records table.
type PGRecorder struct {
	pool   *pgxpool.Pool
	logger Logger
}

// OpenPG connects to dsn and migrates the operation log schema.
func OpenPG(ctx context.Context, dsn string, logger Logger) (*PGRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if err := migrate.New(pool, logger).Up(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return NewPGRecorder(pool, logger), nil
}

func NewPGRecorder(pool *pgxpool.Pool, logger Logger) *PGRecorder {
	return &PGRecorder{pool: pool, logger: logger}
}

func (p *PGRecorder) Record(ctx context.Context, rec history.OperationRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal operation record: %w", err)
	}
	var category, message *string
	if rec.Failure != nil {
		category, message = &rec.Failure.Category, &rec.Failure.Message
	}
	var backupID *string
	if rec.BackupID != "" {
		backupID = &rec.BackupID
	}

	if _, err := p.pool.Exec(ctx, `
INSERT INTO operation_records (id, schema_name, table_name, action, outcome, state, started_at, finished_at,
  duration_ms, attempts, backup_id, payload, failure_category, failure_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`, rec.ID, rec.Schema, rec.Table, string(rec.Action), string(rec.Outcome), string(rec.State), rec.StartedAt, rec.FinishedAt,
		rec.Duration.Milliseconds(), rec.Attempts, backupID, body, category, message); err != nil {
		if p.logger != nil {
			p.logger.Error("audit insert failed", "id", rec.ID, "error", err)
		}
		return fmt.Errorf("insert operation record: %w", err)
	}
	return nil
}

func (p *PGRecorder) Close() {
	p.pool.Close()
}

// LogRecorder writes one structured log line per record.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (l *LogRecorder) Record(ctx context.Context, rec history.OperationRecord) error {
	attrs := []slog.Attr{
		slog.String("id", rec.ID.String()),
		slog.String("action", string(rec.Action)),
		slog.String("table", rec.QualifiedTable()),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("state", string(rec.State)),
		slog.Int("statements", len(rec.Statements)),
		slog.Duration("duration", rec.Duration),
	}
	if rec.BackupID != "" {
		attrs = append(attrs, slog.String("backup_id", rec.BackupID))
	}
	level := slog.LevelInfo
	if rec.Failure != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("failure", rec.Failure.Message))
	}
	l.logger.LogAttrs(ctx, level, "operation record", attrs...)
	return nil
}

// Multi fans a record out to every non-nil recorder and joins their errors.
type Multi []history.Recorder

func (m Multi) Record(ctx context.Context, rec history.OperationRecord) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
