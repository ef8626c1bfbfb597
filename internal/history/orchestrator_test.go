package history

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"history_table_manager/internal/config"
	"history_table_manager/internal/db"
	"history_table_manager/internal/dialect"
	"history_table_manager/internal/schema"
)

func testConfig() config.AppConfig {
	cfg := config.Default().App
	cfg.RetryDelay = time.Millisecond
	cfg.BackupBeforeChanges = false
	return cfg
}

func refs(names ...string) []TableRef {
	out := make([]TableRef, len(names))
	for i, n := range names {
		out[i] = TableRef{Name: n}
	}
	return out
}

func TestParseTableRef(t *testing.T) {
	ref, err := ParseTableRef(" sales.orders ")
	if err != nil || ref.Schema != "sales" || ref.Name != "orders" {
		t.Fatalf("got %+v %v", ref, err)
	}
	ref, err = ParseTableRef("orders")
	if err != nil || ref.Schema != "" || ref.String() != "orders" {
		t.Fatalf("got %+v %v", ref, err)
	}
	for _, bad := range []string{"", ".orders", "a.b.c", "sales."} {
		if _, err := ParseTableRef(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if _, err := ParseTableRefs([]string{"a", "b..c"}); err == nil {
		t.Fatalf("expected batch parse to fail")
	}
}

func TestStateTransitions(t *testing.T) {
	m := newMachine()
	if err := m.to(StateApplying); err == nil {
		t.Fatalf("IDLE -> APPLYING must be rejected")
	}
	for _, s := range []State{StateValidating, StateBackingUp, StateApplying, StateFailed, StateRolledBack} {
		if err := m.to(s); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	if err := m.to(StateCommitted); err == nil {
		t.Fatalf("ROLLED_BACK is terminal")
	}
	if len(m.trail) != 6 {
		t.Fatalf("unexpected trail %v", m.trail)
	}
}

func TestApplyRunsOneTransactionPerTable(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	rec := &memoryRecorder{}
	metrics := NewMetrics()
	o := New(fake, testConfig(), Options{Recorder: rec, Metrics: metrics})

	res, err := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	r := res.Records[0]
	if r.Outcome != OutcomeSuccess || r.State != StateCommitted {
		t.Fatalf("unexpected record %+v", r)
	}
	want := []State{StateIdle, StateValidating, StateApplying, StateCommitted}
	if len(r.Transitions) != len(want) {
		t.Fatalf("transitions %v", r.Transitions)
	}
	for i := range want {
		if r.Transitions[i] != want[i] {
			t.Fatalf("transitions %v", r.Transitions)
		}
	}
	if fake.begins != 1 || fake.commit != 1 {
		t.Fatalf("expected one transaction, got %d begins %d commits", fake.begins, fake.commit)
	}
	if len(fake.locks) != 1 || fake.locks[0] != "public.employees" {
		t.Fatalf("lock not taken: %v", fake.locks)
	}
	// table, two indexes, function, trigger
	if len(r.Statements) != 5 || r.Attempts != 1 {
		t.Fatalf("statements %d attempts %d", len(r.Statements), r.Attempts)
	}
	if len(rec.records) != 1 || rec.records[0].ID != r.ID {
		t.Fatalf("record not handed to recorder")
	}
	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("APPLY", "SUCCESS")); got != 1 {
		t.Fatalf("operations metric = %v", got)
	}
}

func TestMandatoryBackupFailureStopsApply(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	cfg := testConfig()
	cfg.BackupBeforeChanges = true
	backups := &brokenBackups{err: errors.New("bucket unreachable")}
	o := New(fake, cfg, Options{Backups: backups, BackupMandatory: true})

	res, err := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	r := res.Records[0]
	if r.Outcome != OutcomeFailed || r.State != StateFailed {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Failure == nil || r.Failure.Category != "backup" || !strings.Contains(r.Failure.Message, "bucket unreachable") {
		t.Fatalf("unexpected failure %+v", r.Failure)
	}
	if backups.captures != 1 {
		t.Fatalf("expected one capture, got %d", backups.captures)
	}
	if len(fake.execs) != 0 || fake.begins != 0 {
		t.Fatalf("no DDL may run after a mandatory backup failed: %v", fake.execs)
	}
}

func TestOptionalBackupFailureWarns(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	cfg := testConfig()
	cfg.BackupBeforeChanges = true
	o := New(fake, cfg, Options{Backups: &brokenBackups{err: errors.New("disk full")}})

	res, err := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	r := res.Records[0]
	if r.Outcome != OutcomeSuccess || r.State != StateCommitted || r.BackupID != "" {
		t.Fatalf("unexpected record %+v %+v", r, r.Failure)
	}
	if len(r.Warnings) != 1 || !strings.Contains(r.Warnings[0], "disk full") {
		t.Fatalf("expected a backup warning, got %v", r.Warnings)
	}
	if fake.commit != 1 {
		t.Fatalf("apply should commit, got %d commits", fake.commit)
	}
}

func TestBatchIsolatesNonTransientFailure(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "customers", "orders", "invoices")
	fake.fail = func(stmt string) error {
		if strings.HasPrefix(stmt, `CREATE TABLE "public"."orders_hst"`) {
			return errors.New(`syntax error at or near "("`)
		}
		return nil
	}
	o := New(fake, testConfig(), Options{})

	res, err := o.Apply(context.Background(), refs("customers", "orders", "invoices"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected counts: %s", res.Summary())
	}
	for i, name := range []string{"customers", "orders", "invoices"} {
		if res.Records[i].Table != name {
			t.Fatalf("records out of order: %s at %d", res.Records[i].Table, i)
		}
	}
	failed := res.Records[1]
	if failed.Outcome != OutcomeFailed || failed.State != StateRolledBack || failed.Attempts != 1 {
		t.Fatalf("unexpected failed record %+v", failed)
	}
	if failed.Failure.Category != "apply" || failed.Failure.Kind != string(KindExecution) {
		t.Fatalf("unexpected failure %+v", failed.Failure)
	}
	if !strings.Contains(failed.Failure.EngineMessage, "syntax error") || !strings.HasPrefix(failed.Failure.Statement, "CREATE TABLE") {
		t.Fatalf("engine details lost: %+v", failed.Failure)
	}
	if res.Records[0].State != StateCommitted || res.Records[2].State != StateCommitted {
		t.Fatalf("siblings should commit")
	}
	if !strings.Contains(res.Summary(), "apply: 2 succeeded, 1 failed, 0 skipped") {
		t.Fatalf("summary: %s", res.Summary())
	}
}

func TestTransientFailureRetriedMaxRetriesTimes(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	fake.fail = func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE INDEX") {
			return driver.ErrBadConn
		}
		return nil
	}
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = 5 * time.Millisecond
	metrics := NewMetrics()
	o := New(fake, cfg, Options{Metrics: metrics})

	start := time.Now()
	res, err := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	r := res.Records[0]
	if r.Attempts != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", r.Attempts)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("retry delay not honoured")
	}
	if r.Outcome != OutcomeFailed || r.Failure.Category != "transient" || r.Failure.Kind != string(KindConnectionLost) {
		t.Fatalf("unexpected record %+v %+v", r, r.Failure)
	}
	if fake.begins != 4 {
		t.Fatalf("each attempt should open its own transaction, got %d", fake.begins)
	}
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("APPLY")); got != 3 {
		t.Fatalf("retries metric = %v", got)
	}
}

func TestPermissionDeniedIsNotRetried(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	fake.fail = func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE TABLE") {
			return &pgconn.PgError{Code: "42501", Message: "permission denied for schema public"}
		}
		return nil
	}
	o := New(fake, testConfig(), Options{})
	res, _ := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	r := res.Records[0]
	if r.Attempts != 1 || r.Failure.Kind != string(KindPermissionDenied) {
		t.Fatalf("unexpected record %+v %+v", r, r.Failure)
	}
}

func TestApplyRefusesExistingObjectsUnlessForced(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	fake.objects["table:employees_hst"] = true
	o := New(fake, testConfig(), Options{})

	res, _ := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	r := res.Records[0]
	if r.Outcome != OutcomeFailed || r.State != StateFailed {
		t.Fatalf("unexpected record %+v", r)
	}
	if fake.begins != 0 {
		t.Fatalf("no DDL may run before validation passes")
	}
	if r.Failure.Kind != string(KindAlreadyExists) {
		t.Fatalf("unexpected failure %+v", r.Failure)
	}

	res, _ = o.Apply(context.Background(), refs("employees"), ApplyOptions{Force: true})
	r = res.Records[0]
	if r.Outcome != OutcomeSuccess {
		t.Fatalf("forced apply failed: %+v", r.Failure)
	}
	if !strings.HasPrefix(r.Statements[0], "DROP TRIGGER IF EXISTS") || len(r.Warnings) == 0 {
		t.Fatalf("rollback DDL should be prepended: %v", r.Statements)
	}
}

func TestStepwiseApplyCompensates(t *testing.T) {
	caps := dialect.Postgres{}.Capabilities()
	caps.TransactionalDDL = false
	fake := newFakeDriver(toggled{Dialect: dialect.Postgres{}, caps: caps}, "employees")
	fake.fail = func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE TRIGGER") {
			return errors.New("trigger rejected")
		}
		return nil
	}
	o := New(fake, testConfig(), Options{})

	res, _ := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	r := res.Records[0]
	if r.Outcome != OutcomeFailed || r.State != StateRolledBack {
		t.Fatalf("unexpected record %+v", r)
	}
	if fake.executed("DROP TABLE IF EXISTS") != 1 || fake.executed("DROP FUNCTION IF EXISTS") != 1 {
		t.Fatalf("compensation did not run: %v", fake.execs)
	}
	if len(r.Statements) != 4 {
		t.Fatalf("expected 4 statements before the failure, got %d", len(r.Statements))
	}
}

func TestStepwiseCompensationFailureIsPartial(t *testing.T) {
	fake := newFakeDriver(dialect.MySQL{}, "employees")
	fake.fail = func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE TRIGGER") || strings.HasPrefix(stmt, "DROP TABLE") {
			return errors.New("boom")
		}
		return nil
	}
	o := New(fake, testConfig(), Options{})

	res, _ := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	r := res.Records[0]
	if r.Outcome != OutcomePartial || r.State != StateFailed || r.Failure.Category != "partial" {
		t.Fatalf("unexpected record %+v %+v", r, r.Failure)
	}
	if res.Failed != 1 {
		t.Fatalf("partial counts as failed")
	}
}

func TestAutoCommitSkipsTransaction(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	cfg := testConfig()
	cfg.AutoCommit = true
	o := New(fake, cfg, Options{})

	res, _ := o.Apply(context.Background(), refs("employees"), ApplyOptions{})
	if res.Records[0].Outcome != OutcomeSuccess || fake.begins != 0 {
		t.Fatalf("auto commit should run statements directly: %+v begins=%d", res.Records[0], fake.begins)
	}
}

func TestPreviewIsReadOnlyAndStable(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	fake.objects["trigger:employees_history_trigger"] = true
	o := New(fake, testConfig(), Options{})

	first, err := o.Preview(context.Background(), refs("employees", "missing"))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	second, _ := o.Preview(context.Background(), refs("employees", "missing"))
	if first.Records[0].SQL == "" || first.Records[0].SQL != second.Records[0].SQL {
		t.Fatalf("preview must be byte-identical")
	}
	if fake.begins != 0 || len(fake.execs) != 0 {
		t.Fatalf("preview must not write")
	}
	if len(first.Records[0].Warnings) != 1 {
		t.Fatalf("expected a warning about the existing trigger: %v", first.Records[0].Warnings)
	}
	missing := first.Records[1]
	if missing.Outcome != OutcomeFailed || missing.State != StateValidating || missing.Failure.Kind != string(schema.KindNotFound) {
		t.Fatalf("unexpected missing record %+v %+v", missing, missing.Failure)
	}
}

func TestRollbackWithoutObjectsIsSkipped(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	o := New(fake, testConfig(), Options{})
	res, _ := o.Rollback(context.Background(), refs("employees"), RollbackOptions{})
	if res.Skipped != 1 || res.Records[0].Outcome != OutcomeSkipped || fake.begins != 0 {
		t.Fatalf("unexpected result %s", res.Summary())
	}
}

func TestRollbackRestoreWithoutStoreIsPartial(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	fake.objects["table:employees_hst"] = true
	o := New(fake, testConfig(), Options{})
	res, _ := o.Rollback(context.Background(), refs("employees"), RollbackOptions{RestoreBackup: true})
	r := res.Records[0]
	if r.Outcome != OutcomePartial || r.State != StateRolledBack {
		t.Fatalf("unexpected record %+v", r)
	}
	if fake.executed("DROP TABLE IF EXISTS") != 1 {
		t.Fatalf("rollback DDL should still run")
	}
}

func TestPingFailureAbortsBatch(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "employees")
	fake.pingErr = errors.New("connection refused")
	o := New(fake, testConfig(), Options{})
	if _, err := o.Apply(context.Background(), refs("employees"), ApplyOptions{}); err == nil {
		t.Fatalf("expected batch error")
	}
	if len(fake.execs) != 0 {
		t.Fatalf("nothing may be dispatched")
	}
}

func TestCancellationStopsDispatch(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{}, "a", "b", "c")
	started := make(chan struct{})
	release := make(chan struct{})
	var once bool
	fake.fail = func(string) error {
		if !once {
			once = true
			close(started)
			<-release
		}
		return nil
	}
	cfg := testConfig()
	cfg.PoolSize = 1
	o := New(fake, cfg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *BatchResult)
	go func() {
		res, _ := o.Apply(ctx, refs("a", "b", "c"), ApplyOptions{})
		done <- res
	}()
	<-started
	cancel()
	close(release)
	res := <-done

	if res.Records[0].Outcome != OutcomeSuccess {
		t.Fatalf("in-flight table should finish: %+v", res.Records[0])
	}
	if res.Records[1].Outcome != OutcomeSkipped || res.Records[2].Outcome != OutcomeSkipped {
		t.Fatalf("undispatched tables should be skipped: %s", res.Summary())
	}
}

func TestListTablesFilters(t *testing.T) {
	fake := newFakeDriver(dialect.Postgres{})
	fake.listing = []db.TableInfo{
		{Schema: "public", Name: "employees"},
		{Schema: "public", Name: "employees_hst"},
		{Schema: "public", Name: "orders"},
		{Schema: "public", Name: "active_orders", View: true},
		{Schema: "public", Name: "pg_stat", System: true},
	}
	o := New(fake, testConfig(), Options{})
	tables, err := o.ListTables(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "employees" || !tables[0].Tracked || tables[1].Tracked {
		t.Fatalf("unexpected listing %+v", tables)
	}

	cfg := testConfig()
	cfg.IncludeViews = true
	cfg.IncludeSystemTables = true
	tables, _ = New(fake, cfg, Options{}).ListTables(context.Background(), "public")
	if len(tables) != 4 {
		t.Fatalf("views and system tables should be listed: %+v", tables)
	}
}

func TestSameTableIsSerialized(t *testing.T) {
	locks := newTableLocks()
	unlock := locks.lock("public.employees")
	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := locks.lock("public.employees")
		close(acquired)
		u()
		close(released)
	}()
	other := locks.lock("public.orders")
	other()
	select {
	case <-acquired:
		t.Fatalf("second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	<-released
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("lock entries leaked: %v", locks.locks)
	}
}
