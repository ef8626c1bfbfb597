package db

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"

	"history_table_manager/internal/schema"
)

// ErrLockTimeout is returned when a named lock could not be taken in time.
var ErrLockTimeout = errors.New("lock wait timeout")

type MySQLDriver struct {
	*base
}

func (m *MySQLDriver) CurrentSchema(ctx context.Context) (string, error) {
	var name *string
	if err := m.db.GetContext(ctx, &name, `SELECT DATABASE()`); err != nil {
		return "", err
	}
	if name == nil {
		return "", errors.New("no database selected in dsn")
	}
	return *name, nil
}

func (m *MySQLDriver) FetchTable(ctx context.Context, schemaName, table string) (*schema.RawTable, error) {
	var cols []schema.RawColumn
	err := m.selectRows(ctx, &cols, `
SELECT c.COLUMN_NAME AS column_name,
       c.COLUMN_TYPE AS native_type,
       c.IS_NULLABLE = 'YES' AS is_nullable,
       c.COLUMN_DEFAULT AS column_default,
       c.ORDINAL_POSITION AS ordinal_position,
       COALESCE((
           SELECT k.ORDINAL_POSITION FROM information_schema.KEY_COLUMN_USAGE k
           WHERE k.TABLE_SCHEMA = c.TABLE_SCHEMA AND k.TABLE_NAME = c.TABLE_NAME
             AND k.COLUMN_NAME = c.COLUMN_NAME AND k.CONSTRAINT_NAME = 'PRIMARY'
       ), 0) AS pk_position,
       c.COLUMN_KEY = 'UNI' AS is_unique
FROM information_schema.COLUMNS c
JOIN information_schema.TABLES t ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
WHERE c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ? AND t.TABLE_TYPE = 'BASE TABLE'
ORDER BY c.ORDINAL_POSITION`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s.%s: %w", schemaName, table, err)
	}
	if len(cols) == 0 {
		return nil, nil
	}

	var indexes []string
	if err := m.selectRows(ctx, &indexes, `
SELECT DISTINCT INDEX_NAME FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY INDEX_NAME`, schemaName, table); err != nil {
		return nil, fmt.Errorf("indexes of %s.%s: %w", schemaName, table, err)
	}
	return &schema.RawTable{Schema: schemaName, Name: table, Columns: cols, Indexes: indexes}, nil
}

func (m *MySQLDriver) ListTables(ctx context.Context, schemaName string) ([]TableInfo, error) {
	var out []TableInfo
	err := m.selectRows(ctx, &out, `
SELECT TABLE_SCHEMA AS table_schema, TABLE_NAME AS table_name,
       TABLE_TYPE = 'VIEW' AS is_view,
       TABLE_TYPE = 'SYSTEM VIEW' OR TABLE_SCHEMA IN ('mysql', 'sys', 'performance_schema', 'information_schema') AS is_system
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ?
ORDER BY TABLE_NAME`, schemaName)
	return out, err
}

func (m *MySQLDriver) ObjectExists(ctx context.Context, kind ObjectKind, schemaName, name string) (bool, error) {
	switch kind {
	case ObjectTable:
		return m.exists(ctx, `
SELECT COUNT(*) FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'`, schemaName, name)
	case ObjectTrigger:
		return m.exists(ctx, `
SELECT COUNT(*) FROM information_schema.TRIGGERS
WHERE TRIGGER_SCHEMA = ? AND TRIGGER_NAME = ?`, schemaName, name)
	case ObjectFunction:
		return m.exists(ctx, `
SELECT COUNT(*) FROM information_schema.ROUTINES
WHERE ROUTINE_SCHEMA = ? AND ROUTINE_NAME = ?`, schemaName, name)
	case ObjectIndex:
		return m.exists(ctx, `
SELECT COUNT(*) FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = ? AND INDEX_NAME = ?`, schemaName, name)
	default:
		return false, fmt.Errorf("unknown object kind %q", kind)
	}
}

// mysqlLocker uses named locks. They belong to the session, so they are
// released explicitly once the transaction ends.
type mysqlLocker struct {
	wait time.Duration
}

func newMySQLLocker(wait time.Duration) mysqlLocker {
	return mysqlLocker{wait: wait}
}

func (l mysqlLocker) lock(ctx context.Context, tx *sqlx.Tx, key string) error {
	seconds := int(l.wait / time.Second)
	if seconds < 1 {
		seconds = 10
	}
	var got *int
	if err := tx.QueryRowxContext(ctx, `SELECT GET_LOCK(?, ?)`, lockName(key), seconds).Scan(&got); err != nil {
		return fmt.Errorf("get lock %s: %w", key, err)
	}
	if got == nil || *got != 1 {
		return fmt.Errorf("get lock %s: %w", key, ErrLockTimeout)
	}
	return nil
}

func (l mysqlLocker) unlock(ctx context.Context, conn *sqlx.Conn, key string) {
	conn.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, lockName(key)) // nolint:errcheck
}

// lockName keeps names under the 64 character limit of GET_LOCK.
func lockName(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return "histgen:" + hex.EncodeToString(h.Sum(nil))
}
