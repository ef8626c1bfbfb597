package db

import (
	"context"
	"fmt"

	"history_table_manager/internal/schema"
)

// SQLiteDriver works on the main database; schema names are ignored.
type SQLiteDriver struct {
	*base
}

func (s *SQLiteDriver) CurrentSchema(context.Context) (string, error) { return "main", nil }

func (s *SQLiteDriver) FetchTable(ctx context.Context, schemaName, table string) (*schema.RawTable, error) {
	found, err := s.exists(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	if !found {
		return nil, nil
	}

	var cols []schema.RawColumn
	err = s.selectRows(ctx, &cols, `
SELECT p.name AS column_name,
       p.type AS native_type,
       p."notnull" = 0 AS is_nullable,
       p.dflt_value AS column_default,
       p.cid + 1 AS ordinal_position,
       p.pk AS pk_position,
       EXISTS (
           SELECT 1 FROM pragma_index_list(?) il, pragma_index_info(il.name) ii
           WHERE il."unique" = 1 AND il.origin <> 'pk' AND ii.name = p.name
       ) AS is_unique
FROM pragma_table_info(?) p
ORDER BY p.cid`, table, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	var indexes []string
	if err := s.selectRows(ctx, &indexes, `SELECT name FROM pragma_index_list(?) ORDER BY name`, table); err != nil {
		return nil, fmt.Errorf("indexes of %s: %w", table, err)
	}
	return &schema.RawTable{Schema: schemaName, Name: table, Columns: cols, Indexes: indexes}, nil
}

func (s *SQLiteDriver) ListTables(ctx context.Context, schemaName string) ([]TableInfo, error) {
	var out []TableInfo
	err := s.selectRows(ctx, &out, `
SELECT ? AS table_schema, name AS table_name,
       type = 'view' AS is_view,
       name LIKE 'sqlite\_%' ESCAPE '\' AS is_system
FROM sqlite_master
WHERE type IN ('table', 'view')
ORDER BY name`, schemaName)
	return out, err
}

func (s *SQLiteDriver) ObjectExists(ctx context.Context, kind ObjectKind, schemaName, name string) (bool, error) {
	switch kind {
	case ObjectTable, ObjectTrigger, ObjectIndex:
		return s.exists(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, string(kind), name)
	case ObjectFunction:
		return false, nil
	default:
		return false, fmt.Errorf("unknown object kind %q", kind)
	}
}
