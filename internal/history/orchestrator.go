// Package history applies and reverts history tracking on tables: it runs
// the generated DDL for each table in its own transaction, with backups,
// retries and per-table isolation inside a batch.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"history_table_manager/internal/backup"
	"history_table_manager/internal/config"
	"history_table_manager/internal/db"
	"history_table_manager/internal/ddl"
	"history_table_manager/internal/dialect"
	"history_table_manager/internal/retry"
	"history_table_manager/internal/schema"
)

// BackupCoordinator captures what existed before an apply and brings it
// back on request.
type BackupCoordinator interface {
	Capture(ctx context.Context, names ddl.Names) (*backup.Handle, error)
	Latest(ctx context.Context, schemaName, table string) (*backup.Handle, error)
	Restore(ctx context.Context, h *backup.Handle) error
}

// Recorder persists finished operation records.
type Recorder interface {
	Record(ctx context.Context, rec OperationRecord) error
}

type Options struct {
	Logger  *slog.Logger
	Backups BackupCoordinator
	// BackupMandatory fails a table when its backup cannot be captured.
	BackupMandatory bool
	Recorder        Recorder
	Metrics         *Metrics
}

type ApplyOptions struct {
	// Force drops existing history objects before recreating them.
	Force bool
}

type RollbackOptions struct {
	RestoreBackup bool
}

type Orchestrator struct {
	driver    db.Driver
	cfg       config.AppConfig
	caps      dialect.Capabilities
	gen       *ddl.Generator
	backups   BackupCoordinator
	mandatory bool
	recorder  Recorder
	metrics   *Metrics
	logger    *slog.Logger
	locks     *tableLocks
}

func New(driver db.Driver, cfg config.AppConfig, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		driver:    driver,
		cfg:       cfg,
		caps:      driver.Dialect().Capabilities(),
		gen:       ddl.NewGenerator(driver.Dialect(), cfg),
		backups:   opts.Backups,
		mandatory: opts.BackupMandatory,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		logger:    logger,
		locks:     newTableLocks(),
	}
}

func (o *Orchestrator) Generator() *ddl.Generator { return o.gen }

// Preview introspects each table and renders its DDL without writing.
func (o *Orchestrator) Preview(ctx context.Context, tables []TableRef) (*BatchResult, error) {
	return o.run(ctx, ActionPreview, tables, o.preview)
}

// Apply creates history tables, indexes and triggers.
func (o *Orchestrator) Apply(ctx context.Context, tables []TableRef, opts ApplyOptions) (*BatchResult, error) {
	return o.run(ctx, ActionApply, tables, func(ctx context.Context, rec *OperationRecord, m *machine) (Outcome, error) {
		return o.apply(ctx, rec, m, opts)
	})
}

// Rollback drops the history objects of each table and optionally restores
// the latest backup.
func (o *Orchestrator) Rollback(ctx context.Context, tables []TableRef, opts RollbackOptions) (*BatchResult, error) {
	return o.run(ctx, ActionRollback, tables, func(ctx context.Context, rec *OperationRecord, m *machine) (Outcome, error) {
		return o.rollback(ctx, rec, m, opts)
	})
}

// TableStatus is a table listing entry annotated with its history table.
type TableStatus struct {
	db.TableInfo
	HistoryTable string `json:"history_table,omitempty"`
	Tracked      bool   `json:"tracked"`
}

// ListTables returns candidate tables of schemaName. History tables of
// listed tables are left out.
func (o *Orchestrator) ListTables(ctx context.Context, schemaName string) ([]TableStatus, error) {
	schemaName, err := o.schemaFor(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	infos, err := o.driver.ListTables(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", schemaName, err)
	}
	present := make(map[string]bool, len(infos))
	for _, t := range infos {
		present[t.Name] = true
	}

	out := make([]TableStatus, 0, len(infos))
	for _, t := range infos {
		if t.System && !o.cfg.IncludeSystemTables {
			continue
		}
		if t.View && !o.cfg.IncludeViews {
			continue
		}
		if base, ok := strings.CutSuffix(t.Name, o.cfg.Suffix()); ok && present[base] {
			continue
		}
		status := TableStatus{TableInfo: t}
		if names, err := o.gen.Names(schemaName, t.Name); err == nil {
			status.HistoryTable = names.HistoryTable
			status.Tracked = present[names.HistoryTable]
		}
		out = append(out, status)
	}
	return out, nil
}

type tableAction func(ctx context.Context, rec *OperationRecord, m *machine) (Outcome, error)

func (o *Orchestrator) run(ctx context.Context, action Action, tables []TableRef, fn tableAction) (*BatchResult, error) {
	if err := o.driver.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}

	records := make([]OperationRecord, len(tables))
	// Tables already dispatched run to completion after cancellation.
	work := context.WithoutCancel(ctx)
	slots := make(chan struct{}, max(o.cfg.PoolSize, 1))
	var g errgroup.Group
	for i, ref := range tables {
		if !admit(ctx, slots) {
			for j := i; j < len(tables); j++ {
				records[j] = o.skip(work, action, tables[j])
			}
			break
		}
		i, ref := i, ref
		g.Go(func() error {
			defer func() { <-slots }()
			records[i] = o.runOne(work, action, ref, fn)
			return nil
		})
	}
	g.Wait() // nolint:errcheck

	result := newBatchResult(action, records)
	o.logger.Info("batch finished", "action", action, "tables", len(tables),
		"succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

func admit(ctx context.Context, slots chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case slots <- struct{}{}:
		if ctx.Err() != nil {
			<-slots
			return false
		}
		return true
	}
}

func (o *Orchestrator) skip(ctx context.Context, action Action, ref TableRef) OperationRecord {
	rec := newRecord(action, ref)
	rec.Outcome = OutcomeSkipped
	rec.warn("batch cancelled before the table was dispatched")
	o.finish(ctx, &rec)
	return rec
}

func (o *Orchestrator) runOne(ctx context.Context, action Action, ref TableRef, fn tableAction) OperationRecord {
	rec := newRecord(action, ref)
	m := newMachine()
	m.to(StateValidating) // nolint:errcheck

	var outcome Outcome
	schemaName, err := o.schemaFor(ctx, ref.Schema)
	if err == nil {
		rec.Schema = schemaName
		unlock := o.locks.lock(rec.QualifiedTable())
		outcome, err = fn(ctx, &rec, m)
		unlock()
	}
	if err != nil {
		rec.Failure = newFailure(rec.QualifiedTable(), err)
		if outcome == "" {
			outcome = OutcomeFailed
			var partial *PartialError
			if errors.As(err, &partial) {
				outcome = OutcomePartial
			}
		}
		if action != ActionPreview {
			m.fail()
		}
	}
	rec.Outcome = outcome
	rec.sync(m)
	o.finish(ctx, &rec)
	return rec
}

func (o *Orchestrator) finish(ctx context.Context, rec *OperationRecord) {
	rec.FinishedAt = time.Now().UTC()
	rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)
	o.metrics.observe(*rec)

	attrs := []any{"action", rec.Action, "table", rec.QualifiedTable(), "outcome", rec.Outcome,
		"state", rec.State, "attempts", rec.Attempts, "duration", rec.Duration}
	if rec.Failure != nil {
		attrs = append(attrs, "error", rec.Failure.Message, "category", rec.Failure.Category)
		o.logger.Error("table action failed", attrs...)
	} else {
		o.logger.Info("table action finished", attrs...)
	}

	if o.recorder != nil {
		if err := o.recorder.Record(ctx, *rec); err != nil {
			o.logger.Warn("operation record not saved", "id", rec.ID, "error", err)
		}
	}
}

func (o *Orchestrator) schemaFor(ctx context.Context, name string) (string, error) {
	if name = o.cfg.SchemaOr(name); name != "" {
		return name, nil
	}
	name, err := o.driver.CurrentSchema(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve current schema: %w", err)
	}
	return name, nil
}

func (o *Orchestrator) plan(ctx context.Context, rec *OperationRecord) (ddl.Plan, error) {
	ts, err := schema.Introspect(ctx, o.driver, rec.Schema, rec.Table, schema.TypePolicy(o.cfg.UnsupportedTypePolicy))
	if err != nil {
		return ddl.Plan{}, err
	}
	return o.gen.Plan(ts)
}

// existing lists the derived objects of names already in the catalog.
func (o *Orchestrator) existing(ctx context.Context, names ddl.Names) ([]string, error) {
	type object struct {
		kind db.ObjectKind
		name string
	}
	objects := []object{{db.ObjectTable, names.HistoryTable}}
	for _, trg := range names.Triggers() {
		objects = append(objects, object{db.ObjectTrigger, trg})
	}
	if names.Function != "" {
		objects = append(objects, object{db.ObjectFunction, names.Function})
	}

	var found []string
	for _, obj := range objects {
		ok, err := o.driver.ObjectExists(ctx, obj.kind, names.Schema, obj.name)
		if err != nil {
			return nil, fmt.Errorf("check %s %s: %w", obj.kind, obj.name, err)
		}
		if ok {
			found = append(found, fmt.Sprintf("%s %s", obj.kind, obj.name))
		}
	}
	return found, nil
}

func (o *Orchestrator) preview(ctx context.Context, rec *OperationRecord, _ *machine) (Outcome, error) {
	plan, err := o.plan(ctx, rec)
	if err != nil {
		return "", err
	}
	rec.SQL = plan.SQL()
	rec.Statements = plan.ApplyStatements()

	existing, err := o.existing(ctx, plan.Spec.Names)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		rec.warn("already present, apply needs force: %s", strings.Join(existing, ", "))
	}
	return OutcomeSuccess, nil
}

func (o *Orchestrator) apply(ctx context.Context, rec *OperationRecord, m *machine, opts ApplyOptions) (Outcome, error) {
	plan, err := o.plan(ctx, rec)
	if err != nil {
		return "", err
	}
	names := plan.Spec.Names
	table := names.QualifiedTable()

	existing, err := o.existing(ctx, names)
	if err != nil {
		return "", err
	}
	statements := plan.ApplyStatements()
	if len(existing) > 0 {
		if !opts.Force {
			return "", &ApplyError{Kind: KindAlreadyExists, Table: table, Objects: existing}
		}
		rec.warn("replacing %s", strings.Join(existing, ", "))
		statements = append(append([]string(nil), plan.Rollback...), statements...)
	}

	var handle *backup.Handle
	if o.cfg.BackupBeforeChanges && o.backups != nil {
		m.to(StateBackingUp) // nolint:errcheck
		handle, err = o.backups.Capture(ctx, names)
		switch {
		case err != nil && o.mandatory:
			return "", &BackupError{Table: table, Err: err}
		case err != nil:
			rec.warn("backup not captured: %v", err)
			o.logger.Warn("backup not captured", "table", table, "error", err)
		default:
			rec.BackupID, rec.BackupKey = handle.ID, handle.Key
		}
	}

	m.to(StateApplying) // nolint:errcheck
	ran := false
	attempts, err := o.retryPolicy(ActionApply, table).Do(ctx, func(ctx context.Context) error {
		executed, err := o.execute(ctx, table, statements, plan.Rollback)
		rec.Statements = executed
		ran = ran || len(executed) > 0
		return err
	})
	rec.Attempts = attempts
	if err == nil {
		m.to(StateCommitted) // nolint:errcheck
		return OutcomeSuccess, nil
	}

	m.to(StateFailed) // nolint:errcheck
	var partial *PartialError
	if errors.As(err, &partial) {
		return OutcomePartial, err
	}
	if o.stepwise() && ran && len(existing) > 0 {
		// Compensation dropped the objects the forced apply replaced.
		if rerr := o.restoreReplaced(ctx, table, handle); rerr != nil {
			return OutcomePartial, &PartialError{Table: table, Cause: err, Err: rerr}
		}
		rec.warn("previous history objects restored from backup %s", handle.ID)
	}
	m.to(StateRolledBack) // nolint:errcheck
	return OutcomeFailed, err
}

func (o *Orchestrator) restoreReplaced(ctx context.Context, table string, h *backup.Handle) error {
	if h == nil {
		return &BackupError{Table: table, Err: errors.New("replaced history objects were dropped and no backup is available")}
	}
	if err := o.backups.Restore(ctx, h); err != nil {
		return &BackupError{Table: table, Err: err}
	}
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, rec *OperationRecord, m *machine, opts RollbackOptions) (Outcome, error) {
	names, err := o.gen.Names(rec.Schema, rec.Table)
	if err != nil {
		return "", err
	}
	table := names.QualifiedTable()
	existing, err := o.existing(ctx, names)
	if err != nil {
		return "", err
	}
	if len(existing) == 0 {
		rec.warn("no history objects found")
		return OutcomeSkipped, nil
	}

	m.to(StateApplying) // nolint:errcheck
	statements := o.gen.RollbackDDL(names)
	attempts, err := o.retryPolicy(ActionRollback, table).Do(ctx, func(ctx context.Context) error {
		executed, err := o.execute(ctx, table, statements, nil)
		rec.Statements = executed
		return err
	})
	rec.Attempts = attempts
	if err != nil {
		return "", err
	}
	m.to(StateRolledBack) // nolint:errcheck

	if !opts.RestoreBackup {
		return OutcomeSuccess, nil
	}
	if o.backups == nil {
		return OutcomePartial, &PartialError{Table: table, Err: &BackupError{Table: table, Err: errors.New("no backup store configured")}}
	}
	h, err := o.backups.Latest(ctx, names.Schema, names.Table)
	if err != nil {
		return OutcomePartial, &PartialError{Table: table, Err: &BackupError{Table: table, Err: err}}
	}
	if h == nil {
		rec.warn("no backup found to restore")
		return OutcomeSuccess, nil
	}
	rec.BackupID, rec.BackupKey = h.ID, h.Key
	if err := o.backups.Restore(ctx, h); err != nil {
		return OutcomePartial, &PartialError{Table: table, Err: &BackupError{Table: table, Err: err}}
	}
	return OutcomeSuccess, nil
}

func (o *Orchestrator) retryPolicy(action Action, table string) retry.Policy {
	return retry.Policy{
		MaxRetries: o.cfg.MaxRetries,
		Delay:      o.cfg.RetryDelay,
		Retryable:  isTransient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			o.metrics.retried(action)
			o.logger.Warn("transient failure, retrying", "action", action, "table", table,
				"attempt", attempt, "wait", wait, "error", err)
		},
	}
}

// stepwise reports whether statements commit one by one, either because
// the engine commits DDL implicitly or because auto_commit asks for it.
func (o *Orchestrator) stepwise() bool {
	return !o.caps.TransactionalDDL || o.cfg.AutoCommit
}

type execer interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// execute runs statements for one table and returns those that succeeded.
// With transactional DDL everything runs in one transaction holding the
// table's engine lock. Otherwise a failure runs compensation, and a failed
// compensation is reported as a PartialError.
func (o *Orchestrator) execute(ctx context.Context, table string, statements, compensation []string) ([]string, error) {
	if o.caps.TransactionalDDL && o.cfg.AutoCommit {
		return o.executeEach(ctx, table, o.driver, statements, compensation)
	}

	tx, err := o.driver.Begin(ctx)
	if err != nil {
		return nil, execError(table, "BEGIN", err)
	}
	defer tx.Rollback() // nolint:errcheck
	if err := tx.Lock(ctx, table); err != nil {
		return nil, execError(table, "LOCK", err)
	}

	var executed []string
	if !o.caps.TransactionalDDL {
		// The transaction only pins the session that holds the lock.
		executed, err = o.executeEach(ctx, table, tx, statements, compensation)
		if err != nil {
			return executed, err
		}
	} else {
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return executed, execError(table, stmt, err)
			}
			executed = append(executed, stmt)
		}
	}
	if err := tx.Commit(); err != nil {
		return executed, execError(table, "COMMIT", err)
	}
	return executed, nil
}

func (o *Orchestrator) executeEach(ctx context.Context, table string, ex execer, statements, compensation []string) ([]string, error) {
	var executed []string
	for _, stmt := range statements {
		if _, err := ex.Exec(ctx, stmt); err != nil {
			cause := execError(table, stmt, err)
			if len(executed) == 0 || len(compensation) == 0 {
				return executed, cause
			}
			for _, undo := range compensation {
				if _, cerr := ex.Exec(ctx, undo); cerr != nil {
					return executed, &PartialError{Table: table, Cause: cause, Err: execError(table, undo, cerr)}
				}
			}
			o.logger.Warn("statement failed, changes compensated", "table", table, "statement", stmt, "error", err)
			return executed, cause
		}
		executed = append(executed, stmt)
	}
	return executed, nil
}
