package history

import (
	"context"
	"strings"
	"sync"

	"history_table_manager/internal/backup"
	"history_table_manager/internal/db"
	"history_table_manager/internal/ddl"
	"history_table_manager/internal/dialect"
	"history_table_manager/internal/schema"
)

// toggled overrides the capabilities of a real dialect.
type toggled struct {
	dialect.Dialect
	caps dialect.Capabilities
}

func (t toggled) Capabilities() dialect.Capabilities { return t.caps }

type fakeDriver struct {
	mu      sync.Mutex
	dialect dialect.Dialect
	tables  map[string]*schema.RawTable
	objects map[string]bool
	listing []db.TableInfo
	pingErr error
	// fail decides whether a statement errors.
	fail   func(stmt string) error
	execs  []string
	locks  []string
	begins int
	commit int
}

func newFakeDriver(d dialect.Dialect, tables ...string) *fakeDriver {
	f := &fakeDriver{dialect: d, tables: map[string]*schema.RawTable{}, objects: map[string]bool{}}
	for _, name := range tables {
		f.tables[name] = &schema.RawTable{
			Schema: "public",
			Name:   name,
			Columns: []schema.RawColumn{
				{Name: "id", NativeType: "integer", Position: 1, PKPosition: 1},
				{Name: "name", NativeType: "text", Nullable: true, Position: 2},
			},
		}
	}
	return f
}

func (f *fakeDriver) Dialect() dialect.Dialect { return f.dialect }

func (f *fakeDriver) FetchTable(_ context.Context, _ string, table string) (*schema.RawTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table], nil
}

func (f *fakeDriver) MapType(native string) (schema.DataType, bool) { return f.dialect.MapType(native) }

func (f *fakeDriver) CurrentSchema(context.Context) (string, error) { return "public", nil }

func (f *fakeDriver) ListTables(context.Context, string) ([]db.TableInfo, error) {
	return f.listing, nil
}

func (f *fakeDriver) ObjectExists(_ context.Context, kind db.ObjectKind, _ string, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[string(kind)+":"+name], nil
}

func (f *fakeDriver) Exec(_ context.Context, query string, _ ...any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, query)
	if f.fail != nil {
		if err := f.fail(query); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (f *fakeDriver) Query(context.Context, string, ...any) (*db.Rows, error) { return &db.Rows{}, nil }

func (f *fakeDriver) Begin(context.Context) (db.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return &fakeTx{driver: f}, nil
}

func (f *fakeDriver) Ping(context.Context) error { return f.pingErr }

func (f *fakeDriver) Close() error { return nil }

func (f *fakeDriver) executed(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.execs {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

type fakeTx struct {
	driver *fakeDriver
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return t.driver.Exec(ctx, query, args...)
}

func (t *fakeTx) Lock(_ context.Context, key string) error {
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	t.driver.locks = append(t.driver.locks, key)
	return nil
}

func (t *fakeTx) Commit() error {
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	t.driver.commit++
	return nil
}

func (t *fakeTx) Rollback() error { return nil }

type memoryRecorder struct {
	mu      sync.Mutex
	records []OperationRecord
}

func (m *memoryRecorder) Record(_ context.Context, rec OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// brokenBackups fails every capture with err.
type brokenBackups struct {
	err      error
	captures int
}

func (b *brokenBackups) Capture(context.Context, ddl.Names) (*backup.Handle, error) {
	b.captures++
	return nil, b.err
}

func (b *brokenBackups) Latest(context.Context, string, string) (*backup.Handle, error) {
	return nil, nil
}

func (b *brokenBackups) Restore(context.Context, *backup.Handle) error { return b.err }
