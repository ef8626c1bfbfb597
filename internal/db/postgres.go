package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"

	"history_table_manager/internal/schema"
)

type PostgresDriver struct {
	*base
}

func (p *PostgresDriver) CurrentSchema(ctx context.Context) (string, error) {
	var name string
	if err := p.db.GetContext(ctx, &name, `SELECT current_schema()`); err != nil {
		return "", err
	}
	return name, nil
}

func (p *PostgresDriver) FetchTable(ctx context.Context, schemaName, table string) (*schema.RawTable, error) {
	var cols []schema.RawColumn
	err := p.selectRows(ctx, &cols, `
SELECT a.attname::text AS column_name,
       format_type(a.atttypid, a.atttypmod) AS native_type,
       NOT a.attnotnull AS is_nullable,
       pg_get_expr(d.adbin, d.adrelid) AS column_default,
       a.attnum::int AS ordinal_position,
       COALESCE(array_position(pk.conkey, a.attnum), 0)::int AS pk_position,
       EXISTS (
           SELECT 1 FROM pg_constraint u
           WHERE u.conrelid = c.oid AND u.contype = 'u' AND a.attnum = ANY (u.conkey)
       ) AS is_unique
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
LEFT JOIN pg_constraint pk ON pk.conrelid = c.oid AND pk.contype = 'p'
WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
  AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s.%s: %w", schemaName, table, err)
	}
	if len(cols) == 0 {
		return nil, nil
	}

	var indexes []string
	if err := p.selectRows(ctx, &indexes, `
SELECT indexname::text FROM pg_indexes
WHERE schemaname = $1 AND tablename = $2
ORDER BY indexname`, schemaName, table); err != nil {
		return nil, fmt.Errorf("indexes of %s.%s: %w", schemaName, table, err)
	}
	return &schema.RawTable{Schema: schemaName, Name: table, Columns: cols, Indexes: indexes}, nil
}

func (p *PostgresDriver) ListTables(ctx context.Context, schemaName string) ([]TableInfo, error) {
	var out []TableInfo
	err := p.selectRows(ctx, &out, `
SELECT table_schema::text AS table_schema, table_name::text AS table_name,
       table_type = 'VIEW' AS is_view,
       table_schema IN ('pg_catalog', 'information_schema') OR table_name LIKE 'pg\_%' AS is_system
FROM information_schema.tables
WHERE table_schema = $1
ORDER BY table_name`, schemaName)
	return out, err
}

func (p *PostgresDriver) ObjectExists(ctx context.Context, kind ObjectKind, schemaName, name string) (bool, error) {
	switch kind {
	case ObjectTable:
		return p.exists(ctx, `
SELECT count(*) FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')`, schemaName, name)
	case ObjectTrigger:
		return p.exists(ctx, `
SELECT count(*) FROM pg_trigger t
JOIN pg_class c ON c.oid = t.tgrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND t.tgname = $2 AND NOT t.tgisinternal`, schemaName, name)
	case ObjectFunction:
		return p.exists(ctx, `
SELECT count(*) FROM pg_proc f JOIN pg_namespace n ON n.oid = f.pronamespace
WHERE n.nspname = $1 AND f.proname = $2`, schemaName, name)
	case ObjectIndex:
		return p.exists(ctx, `
SELECT count(*) FROM pg_indexes WHERE schemaname = $1 AND indexname = $2`, schemaName, name)
	default:
		return false, fmt.Errorf("unknown object kind %q", kind)
	}
}

type pgLocker struct{}

// lock takes a transaction-scoped advisory lock; it is released on commit
// or rollback.
func (pgLocker) lock(ctx context.Context, tx *sqlx.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(key)); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	return nil
}

func (pgLocker) unlock(context.Context, *sqlx.Conn, string) {}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte("histgen:" + key))
	return int64(h.Sum64())
}
