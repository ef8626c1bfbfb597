package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"history_table_manager/internal/db"
	"history_table_manager/internal/ddl"
	"history_table_manager/internal/schema"
)

// ErrNoDump means the backup recorded a pre-existing history table without
// capturing its rows, so it cannot be brought back.
var ErrNoDump = errors.New("backup holds no dump of the history table")

const (
	manifestFile = "manifest.json"
	dumpFile     = "dump.sql"
	sourceFile   = "source.sql"
)

// ObjectState records whether a derived object existed before apply.
type ObjectState struct {
	Kind    db.ObjectKind `json:"kind"`
	Name    string        `json:"name"`
	Existed bool          `json:"existed"`
}

// Handle is the manifest of one backup.
type Handle struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	Location  string        `json:"location"`
	Dialect   string        `json:"dialect"`
	Names     ddl.Names     `json:"names"`
	CreatedAt time.Time     `json:"created_at"`
	Objects   []ObjectState `json:"objects"`
	DumpKey   string        `json:"dump_key,omitempty"`
	Checksum  string        `json:"checksum,omitempty"`
	Rows      int           `json:"rows"`
	// Source is a copy of the source table's rows taken before apply. It is
	// kept for operators and never replayed.
	Source *Dump `json:"source,omitempty"`
}

// Dump locates one stored data dump.
type Dump struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	Rows     int    `json:"rows"`
}

// Existed reports whether the named object was present at capture time.
func (h *Handle) Existed(kind db.ObjectKind, name string) bool {
	for _, o := range h.Objects {
		if o.Kind == kind && o.Name == name {
			return o.Existed
		}
	}
	return false
}

// Coordinator captures and restores backups for derived objects.
type Coordinator struct {
	driver      db.Driver
	gen         *ddl.Generator
	store       Store
	includeData bool
	logger      *slog.Logger
	now         func() time.Time
}

func NewCoordinator(driver db.Driver, gen *ddl.Generator, store Store, includeData bool, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		driver:      driver,
		gen:         gen,
		store:       store,
		includeData: includeData,
		logger:      logger,
		now:         time.Now,
	}
}

// Capture records the pre-apply state of the objects derived for names.
func (c *Coordinator) Capture(ctx context.Context, names ddl.Names) (*Handle, error) {
	created := c.now().UTC()
	id := uuid.NewString()
	prefix := fmt.Sprintf("%s/%s/%s-%s/", safeName(names.Schema), safeName(names.Table), created.Format("20060102T150405.000000000Z"), id)

	h := &Handle{
		ID:        id,
		Key:       prefix + manifestFile,
		Location:  c.store.Location(),
		Dialect:   c.driver.Dialect().Name(),
		Names:     names,
		CreatedAt: created,
	}

	objects := []ObjectState{{Kind: db.ObjectTable, Name: names.HistoryTable}}
	for _, trg := range names.Triggers() {
		objects = append(objects, ObjectState{Kind: db.ObjectTrigger, Name: trg})
	}
	if names.Function != "" {
		objects = append(objects, ObjectState{Kind: db.ObjectFunction, Name: names.Function})
	}
	for i := range objects {
		ok, err := c.driver.ObjectExists(ctx, objects[i].Kind, names.Schema, objects[i].Name)
		if err != nil {
			return nil, fmt.Errorf("check %s %s: %w", objects[i].Kind, objects[i].Name, err)
		}
		objects[i].Existed = ok
	}
	h.Objects = objects

	if c.includeData {
		src, err := c.dumpSource(ctx, names)
		if err != nil {
			return nil, err
		}
		h.Source = &Dump{Key: prefix + sourceFile, Checksum: computeChecksum(src.data), Rows: src.rows}
		if err := c.store.Put(ctx, h.Source.Key, src.data); err != nil {
			return nil, fmt.Errorf("store source dump: %w", err)
		}
	}

	if c.includeData && h.Existed(db.ObjectTable, names.HistoryTable) {
		hist, err := c.dumpHistory(ctx, names)
		if err != nil {
			return nil, err
		}
		h.DumpKey = prefix + dumpFile
		h.Checksum = computeChecksum(hist.data)
		h.Rows = hist.rows
		if err := c.store.Put(ctx, h.DumpKey, hist.data); err != nil {
			return nil, fmt.Errorf("store dump: %w", err)
		}
	}

	manifest, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, h.Key, manifest); err != nil {
		return nil, fmt.Errorf("store manifest: %w", err)
	}
	c.logger.Info("backup captured", "table", names.QualifiedTable(), "backup_id", h.ID, "rows", h.Rows)
	return h, nil
}

type dump struct {
	data []byte
	rows int
}

// dumpHistory snapshots an existing history table. When its columns still
// match what the generator derives from the source table, the dump carries
// the full history DDL and the indexes that were present, so a restore
// brings back the CHECK constraint and indexes as well.
func (c *Coordinator) dumpHistory(ctx context.Context, names ddl.Names) (dump, error) {
	ts, err := schema.Introspect(ctx, c.driver, names.Schema, names.HistoryTable, schema.PolicyFallback)
	if err != nil {
		return dump{}, fmt.Errorf("introspect history table: %w", err)
	}
	create := c.gen.CreateTableDDL(ts)
	var indexes []string
	if spec, ok := c.derivedSpec(ctx, names, ts); ok {
		create = c.gen.HistoryTableDDL(spec)
		for i, idx := range []string{spec.Names.TimestampIndex, spec.Names.OperationIndex} {
			if ts.HasIndex(idx) {
				indexes = append(indexes, c.gen.IndexDDL(spec)[i])
			}
		}
	}
	return c.dumpRows(ctx, ts, create, indexes)
}

// derivedSpec returns the history spec of the source table when its columns
// line up with the captured history table.
func (c *Coordinator) derivedSpec(ctx context.Context, names ddl.Names, hist schema.TableSchema) (ddl.HistoryTableSpec, bool) {
	src, err := schema.Introspect(ctx, c.driver, names.Schema, names.Table, schema.PolicyFallback)
	if err != nil {
		return ddl.HistoryTableSpec{}, false
	}
	spec, err := c.gen.BuildSpec(src)
	if err != nil {
		return ddl.HistoryTableSpec{}, false
	}
	want := spec.Columns()
	if len(want) != len(hist.Columns) {
		return ddl.HistoryTableSpec{}, false
	}
	for i := range want {
		if want[i].Name != hist.Columns[i].Name {
			return ddl.HistoryTableSpec{}, false
		}
	}
	return spec, true
}

func (c *Coordinator) dumpSource(ctx context.Context, names ddl.Names) (dump, error) {
	ts, err := schema.Introspect(ctx, c.driver, names.Schema, names.Table, schema.PolicyFallback)
	if err != nil {
		return dump{}, fmt.Errorf("introspect source table: %w", err)
	}
	return c.dumpRows(ctx, ts, c.gen.CreateTableDDL(ts), nil)
}

// dumpRows renders create, one INSERT per row in key order, then trailer.
func (c *Coordinator) dumpRows(ctx context.Context, ts schema.TableSchema, create string, trailer []string) (dump, error) {
	d := c.driver.Dialect()
	caps := d.Capabilities()
	table := caps.Qualify(ts.Schema, ts.Name)

	cols := make([]string, len(ts.Columns))
	for i, col := range ts.Columns {
		cols[i] = caps.Quote(col.Name)
	}
	list := strings.Join(cols, ", ")
	query := fmt.Sprintf("SELECT %s FROM %s", list, table)
	if len(ts.PrimaryKey) > 0 {
		keys := make([]string, len(ts.PrimaryKey))
		for i, k := range ts.PrimaryKey {
			keys[i] = caps.Quote(k)
		}
		query += " ORDER BY " + strings.Join(keys, ", ")
	}
	rows, err := c.driver.Query(ctx, query)
	if err != nil {
		return dump{}, fmt.Errorf("read rows of %s: %w", ts.QualifiedName(), err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- backup of %s\n", ts.QualifiedName())
	b.WriteString(create)
	b.WriteString(";\n")
	for _, row := range rows.Values {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = d.Literal(v)
		}
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s);\n", table, list, strings.Join(vals, ", "))
	}
	for _, stmt := range trailer {
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return dump{data: []byte(b.String()), rows: len(rows.Values)}, nil
}

// Latest returns the newest backup for a table, or nil when there is none.
func (c *Coordinator) Latest(ctx context.Context, schemaName, table string) (*Handle, error) {
	keys, err := c.store.List(ctx, safeName(schemaName)+"/"+safeName(table)+"/")
	if err != nil {
		return nil, err
	}
	var manifests []string
	for _, k := range keys {
		if strings.HasSuffix(k, "/"+manifestFile) {
			manifests = append(manifests, k)
		}
	}
	if len(manifests) == 0 {
		return nil, nil
	}
	sort.Strings(manifests)
	return c.Load(ctx, manifests[len(manifests)-1])
}

// Load reads a manifest by key.
func (c *Coordinator) Load(ctx context.Context, key string) (*Handle, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", key, err)
	}
	return &h, nil
}

// Restore brings a captured history table back, together with its triggers
// when they existed. It runs in one transaction and expects the derived
// objects to have been dropped already.
func (c *Coordinator) Restore(ctx context.Context, h *Handle) error {
	if !h.Existed(db.ObjectTable, h.Names.HistoryTable) {
		c.logger.Info("backup restore: nothing existed before apply", "table", h.Names.QualifiedTable(), "backup_id", h.ID)
		return nil
	}
	if h.DumpKey == "" {
		return ErrNoDump
	}
	dump, err := c.store.Get(ctx, h.DumpKey)
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}
	if sum := computeChecksum(dump); sum != h.Checksum {
		return fmt.Errorf("dump %s checksum mismatch: got %s want %s", h.DumpKey, sum, h.Checksum)
	}

	statements := db.SplitStatements(string(dump))
	if h.Existed(db.ObjectTrigger, h.Names.Triggers()[0]) {
		src, err := schema.Introspect(ctx, c.driver, h.Names.Schema, h.Names.Table, schema.PolicyFallback)
		if err != nil {
			return fmt.Errorf("introspect %s: %w", h.Names.QualifiedTable(), err)
		}
		spec, err := c.gen.BuildSpec(src)
		if err != nil {
			return err
		}
		statements = append(statements, c.gen.TriggerDDL(spec).Statements()...)
	}

	tx, err := c.driver.Begin(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback() // nolint:errcheck
			return fmt.Errorf("restore %s: %w", h.Names.QualifiedTable(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.logger.Info("backup restored", "table", h.Names.QualifiedTable(), "backup_id", h.ID, "statements", len(statements))
	return nil
}
