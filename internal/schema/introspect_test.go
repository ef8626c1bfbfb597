package schema

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

type fakeSource struct {
	table *RawTable
	err   error
	types map[string]DataType
}

func (f fakeSource) FetchTable(ctx context.Context, schemaName, table string) (*RawTable, error) {
	return f.table, f.err
}

func (f fakeSource) MapType(native string) (DataType, bool) {
	dt, ok := f.types[native]
	return dt, ok
}

var testTypes = map[string]DataType{
	"integer":      {Kind: KindInteger, Native: "integer"},
	"varchar(100)": {Kind: KindVarchar, Length: 100, Native: "varchar(100)"},
}

func TestIntrospectOrdersColumnsAndKey(t *testing.T) {
	src := fakeSource{
		types: testTypes,
		table: &RawTable{
			Schema: "public",
			Name:   "links",
			Columns: []RawColumn{
				{Name: "b_id", NativeType: "integer", Position: 2, PKPosition: 1},
				{Name: "a_id", NativeType: "integer", Position: 1, PKPosition: 2},
				{Name: "label", NativeType: "varchar(100)", Nullable: true, Position: 3, Default: sql.NullString{String: "'x'", Valid: true}},
			},
			Indexes: []string{"links_pkey"},
		},
	}
	ts, err := Introspect(context.Background(), src, "public", "links", PolicyFail)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if got := strings.Join(ts.ColumnNames(), ","); got != "a_id,b_id,label" {
		t.Fatalf("columns not in physical order: %s", got)
	}
	if got := strings.Join(ts.PrimaryKey, ","); got != "b_id,a_id" {
		t.Fatalf("key not in key order: %s", got)
	}
	if !ts.Columns[2].Nullable || !ts.Columns[2].Default.Valid {
		t.Fatalf("column attributes lost: %+v", ts.Columns[2])
	}
	if !ts.HasIndex("LINKS_PKEY") {
		t.Fatalf("index lookup should ignore case")
	}
}

func TestIntrospectNotFound(t *testing.T) {
	_, err := Introspect(context.Background(), fakeSource{}, "public", "missing", PolicyFail)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIntrospectNoPrimaryKey(t *testing.T) {
	src := fakeSource{
		types: testTypes,
		table: &RawTable{Columns: []RawColumn{{Name: "id", NativeType: "integer", Position: 1}}},
	}
	_, err := Introspect(context.Background(), src, "public", "logs", PolicyFail)
	if !errors.Is(err, ErrNoPrimaryKey) {
		t.Fatalf("expected no primary key, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("kinds must not match each other")
	}
}

func TestIntrospectUnsupportedType(t *testing.T) {
	src := fakeSource{
		types: testTypes,
		table: &RawTable{Columns: []RawColumn{
			{Name: "id", NativeType: "integer", Position: 1, PKPosition: 1},
			{Name: "shape", NativeType: "geometry", Position: 2, Nullable: true},
		}},
	}
	_, err := Introspect(context.Background(), src, "public", "places", PolicyFail)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindUnsupportedType || se.Column != "shape" {
		t.Fatalf("expected unsupported type on shape, got %v", err)
	}

	ts, err := Introspect(context.Background(), src, "public", "places", PolicyFallback)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if ts.Columns[1].Type.Kind != KindGeneric || ts.Columns[1].Type.Native != "geometry" {
		t.Fatalf("expected generic fallback, got %+v", ts.Columns[1].Type)
	}
}

func TestIntrospectWrapsSourceErrors(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := Introspect(context.Background(), fakeSource{err: boom}, "public", "t", PolicyFail)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestParseNative(t *testing.T) {
	cases := []struct {
		in       string
		base     string
		args     []int
		unsigned bool
	}{
		{"numeric(10,2)", "numeric", []int{10, 2}, false},
		{"int(11) unsigned", "int", []int{11}, true},
		{"timestamp(6) without time zone", "timestamp without time zone", []int{6}, false},
		{"double precision", "double precision", nil, false},
		{"character varying(255)", "character varying", []int{255}, false},
		{"VARCHAR( 20 )", "varchar", []int{20}, false},
		{"enum('a','b')", "enum('a','b')", nil, false},
		{"", "", nil, false},
	}
	for _, c := range cases {
		got := ParseNative(c.in)
		if got.Base != c.base || got.Unsigned != c.unsigned || len(got.Args) != len(c.args) {
			t.Fatalf("%q: got %+v", c.in, got)
		}
		for i := range c.args {
			if got.Args[i] != c.args[i] {
				t.Fatalf("%q: arg %d = %d", c.in, i, got.Args[i])
			}
		}
	}
}
