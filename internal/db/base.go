package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"history_table_manager/internal/dialect"
	"history_table_manager/internal/schema"
)

type locker interface {
	lock(ctx context.Context, tx *sqlx.Tx, key string) error
	unlock(ctx context.Context, conn *sqlx.Conn, key string)
}

// base carries what the engine drivers share: the pool, statement timeouts
// and transactions.
type base struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	timeout time.Duration
	locker  locker
}

func newBase(db *sqlx.DB, d dialect.Dialect, timeout time.Duration, l locker) *base {
	return &base{db: db, dialect: d, timeout: timeout, locker: l}
}

func (b *base) Dialect() dialect.Dialect { return b.dialect }

func (b *base) MapType(native string) (schema.DataType, bool) { return b.dialect.MapType(native) }

func (b *base) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b *base) Close() error { return b.db.Close() }

func (b *base) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execWithTimeout(ctx, b.db, b.timeout, query, args...)
}

func (b *base) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()
	rows, err := b.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &Rows{}
	if out.Columns, err = rows.Columns(); err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			if raw, ok := v.([]byte); ok && !binaryType(types[i].DatabaseTypeName()) {
				vals[i] = string(raw)
			}
		}
		out.Values = append(out.Values, vals)
	}
	return out, rows.Err()
}

func (b *base) Begin(ctx context.Context) (Tx, error) {
	conn, err := b.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sqlTx{conn: conn, tx: tx, timeout: b.timeout, locker: b.locker}, nil
}

// selectRows runs a catalog query with the statement timeout applied.
func (b *base) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()
	return b.db.SelectContext(ctx, dest, query, args...)
}

func (b *base) exists(ctx context.Context, query string, args ...any) (bool, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()
	var n int
	if err := b.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

type sqlTx struct {
	conn    *sqlx.Conn
	tx      *sqlx.Tx
	timeout time.Duration
	locker  locker
	held    []string
	done    bool
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execWithTimeout(ctx, t.tx, t.timeout, query, args...)
}

func (t *sqlTx) Lock(ctx context.Context, key string) error {
	if t.locker == nil {
		return nil
	}
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.locker.lock(ctx, t.tx, key); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *sqlTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	err := t.tx.Commit()
	t.finish()
	return err
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	err := t.tx.Rollback()
	t.finish()
	return err
}

func (t *sqlTx) finish() {
	t.done = true
	if t.locker != nil {
		for _, key := range t.held {
			t.locker.unlock(context.Background(), t.conn, key)
		}
	}
	t.held = nil
	t.conn.Close() // nolint:errcheck
}

func execWithTimeout(ctx context.Context, exec sqlx.ExecerContext, timeout time.Duration, query string, args ...any) (int64, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// DDL results do not always report affected rows.
		return 0, nil
	}
	return n, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func binaryType(name string) bool {
	switch strings.ToUpper(name) {
	case "", "BLOB", "BYTEA", "BINARY", "VARBINARY", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		return true
	}
	return false
}
