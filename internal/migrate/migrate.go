// Package migrate brings the operation log database up to date.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"history_table_manager/migrations"
)

type Runner struct {
	pool   *pgxpool.Pool
	logger Logger
	fs     fs.FS
}

const lockKey int64 = 0x68697374 // "hist"

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// New runs the embedded migrations against pool.
func New(pool *pgxpool.Pool, logger Logger) *Runner {
	return &Runner{
		pool:   pool,
		logger: logger,
		fs:     migrations.FS(),
	}
}

// Up applies every migration not yet recorded, in version order, each in
// its own transaction.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureTable(ctx); err != nil {
		return err
	}
	// Session lock: held on one connection for the whole run.
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey) // nolint:errcheck

	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return err
	}

	pending, err := Pending(r.fs, applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := r.apply(ctx, m.Version, m.Name, m.Body); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.File, err)
		}
		r.logger.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return nil
}

// Migration is one embedded SQL file.
type Migration struct {
	Version int64
	Name    string
	File    string
	Body    string
}

// Pending lists the migrations in fsys whose versions are not in applied,
// ordered by version. Duplicate versions are rejected.
func Pending(fsys fs.FS, applied map[int64]bool) ([]Migration, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	seen := map[int64]string{}
	var out []Migration
	for _, file := range files {
		version, name, err := parseVersion(file)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, file, version)
		}
		seen[version] = file
		if applied[version] {
			continue
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		out = append(out, Migration{Version: version, Name: name, File: file, Body: string(body)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *Runner) apply(ctx context.Context, version int64, name string, body string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`, version, name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version BIGINT PRIMARY KEY,
  name    TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (r *Runner) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func parseVersion(path string) (int64, string, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("invalid migration filename: %s", base)
	}
	version, err := strconv.ParseInt(strings.TrimSuffix(parts[0], ".sql"), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %s: %w", base, err)
	}
	name := strings.TrimSuffix(parts[1], ".sql")
	return version, name, nil
}
