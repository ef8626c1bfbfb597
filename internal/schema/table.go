package schema

import "strings"

// TableSchema is the introspected structure of one table. Columns are kept in
// physical order, PrimaryKey in key order.
type TableSchema struct {
	Schema     string
	Name       string
	Columns    []Column
	PrimaryKey []string
	Indexes    []string
}

// QualifiedName renders schema.table for logs and errors.
func (t TableSchema) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnNames returns column names in physical order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up by name, ignoring case.
func (t TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// HasIndex reports whether an index with the given name exists, ignoring case.
func (t TableSchema) HasIndex(name string) bool {
	for _, idx := range t.Indexes {
		if strings.EqualFold(idx, name) {
			return true
		}
	}
	return false
}
