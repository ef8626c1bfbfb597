package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// TypePolicy decides what happens to columns whose native type has no
// portable mapping.
type TypePolicy string

const (
	PolicyFail     TypePolicy = "fail"
	PolicyFallback TypePolicy = "fallback"
)

// RawColumn is one metadata row as returned by an engine catalog query.
type RawColumn struct {
	Name       string         `db:"column_name"`
	NativeType string         `db:"native_type"`
	Nullable   bool           `db:"is_nullable"`
	Default    sql.NullString `db:"column_default"`
	Position   int            `db:"ordinal_position"`
	PKPosition int            `db:"pk_position"`
	Unique     bool           `db:"is_unique"`
}

// RawTable is the catalog view of a table before type mapping.
type RawTable struct {
	Schema  string
	Name    string
	Columns []RawColumn
	Indexes []string
}

// Source reads table metadata. Every database driver implements it.
type Source interface {
	// FetchTable returns nil when the table does not exist.
	FetchTable(ctx context.Context, schemaName, table string) (*RawTable, error)
	MapType(native string) (DataType, bool)
}

// Introspect reads the structure of schemaName.table and maps every column
// into the portable model. It never writes.
func Introspect(ctx context.Context, src Source, schemaName, table string, policy TypePolicy) (TableSchema, error) {
	raw, err := src.FetchTable(ctx, schemaName, table)
	if err != nil {
		return TableSchema{}, fmt.Errorf("introspect %s: %w", table, err)
	}
	if raw == nil || len(raw.Columns) == 0 {
		return TableSchema{}, &Error{Kind: KindNotFound, Schema: schemaName, Table: table}
	}

	cols := append([]RawColumn(nil), raw.Columns...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })

	out := TableSchema{
		Schema:  raw.Schema,
		Name:    raw.Name,
		Indexes: append([]string(nil), raw.Indexes...),
	}
	if out.Schema == "" {
		out.Schema = schemaName
	}
	if out.Name == "" {
		out.Name = table
	}

	var keyed []RawColumn
	for _, rc := range cols {
		dt, ok := src.MapType(rc.NativeType)
		if !ok {
			if policy != PolicyFallback {
				return TableSchema{}, &Error{Kind: KindUnsupportedType, Schema: out.Schema, Table: out.Name, Column: rc.Name, Native: rc.NativeType}
			}
			dt = DataType{Kind: KindGeneric, Native: rc.NativeType}
		}
		out.Columns = append(out.Columns, Column{
			Name:       rc.Name,
			Type:       dt,
			Nullable:   rc.Nullable,
			Default:    rc.Default,
			PrimaryKey: rc.PKPosition > 0,
			Unique:     rc.Unique,
			Position:   rc.Position,
		})
		if rc.PKPosition > 0 {
			keyed = append(keyed, rc)
		}
	}
	if len(keyed) == 0 {
		return TableSchema{}, &Error{Kind: KindNoPrimaryKey, Schema: out.Schema, Table: out.Name}
	}
	sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].PKPosition < keyed[j].PKPosition })
	for _, rc := range keyed {
		out.PrimaryKey = append(out.PrimaryKey, rc.Name)
	}
	return out, nil
}
