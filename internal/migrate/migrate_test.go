package migrate

import (
	"testing"
	"testing/fstest"

	"history_table_manager/migrations"
)

func TestPendingOrdersAndSkipsApplied(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_later.sql":       {Data: []byte("SELECT 10")},
		"0002_second.sql":      {Data: []byte("SELECT 2")},
		"0001_first_table.sql": {Data: []byte("SELECT 1")},
		"README.md":            {Data: []byte("ignored")},
	}
	pending, err := Pending(fsys, map[int64]bool{2: true})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Version != 1 || pending[1].Version != 10 {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if pending[0].Name != "first_table" || pending[0].Body != "SELECT 1" {
		t.Fatalf("unexpected migration %+v", pending[0])
	}
}

func TestPendingRejectsBadNames(t *testing.T) {
	if _, err := Pending(fstest.MapFS{"init.sql": {}}, nil); err == nil {
		t.Fatalf("expected invalid filename error")
	}
	if _, err := Pending(fstest.MapFS{"x_init.sql": {}}, nil); err == nil {
		t.Fatalf("expected invalid version error")
	}
	dup := fstest.MapFS{"1_a.sql": {}, "0001_b.sql": {}}
	if _, err := Pending(dup, nil); err == nil {
		t.Fatalf("expected duplicate version error")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	pending, err := Pending(migrations.FS(), nil)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(pending) < 2 || pending[0].Name != "operation_records" {
		t.Fatalf("unexpected embedded migrations %+v", pending)
	}
}
