package history

import (
	"errors"
	"fmt"

	"history_table_manager/internal/db"
	"history_table_manager/internal/ddl"
	"history_table_manager/internal/schema"
)

type ApplyErrorKind string

const (
	KindAlreadyExists    ApplyErrorKind = "ALREADY_EXISTS"
	KindPermissionDenied ApplyErrorKind = "PERMISSION_DENIED"
	KindExecution        ApplyErrorKind = "EXECUTION"
)

var (
	ErrAlreadyExists    = &ApplyError{Kind: KindAlreadyExists}
	ErrPermissionDenied = &ApplyError{Kind: KindPermissionDenied}
)

// ApplyError is a non-transient failure while changing a table. It is never
// retried.
type ApplyError struct {
	Kind      ApplyErrorKind
	Table     string
	Statement string
	Objects   []string
	Err       error
}

func (e *ApplyError) Error() string {
	switch {
	case e.Kind == KindAlreadyExists && len(e.Objects) > 0:
		return fmt.Sprintf("%s: history objects already exist: %v", e.Table, e.Objects)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Table, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Kind)
}

func (e *ApplyError) Unwrap() error { return e.Err }

func (e *ApplyError) Is(target error) bool {
	var t *ApplyError
	return errors.As(target, &t) && t.Kind == e.Kind
}

type TransientKind string

const (
	KindConnectionLost TransientKind = "CONNECTION_LOST"
	KindLockTimeout    TransientKind = "LOCK_TIMEOUT"
)

// TransientError is retried by the orchestrator's retry policy.
type TransientError struct {
	Kind      TransientKind
	Table     string
	Statement string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Table, e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BackupError is a failure to capture or restore a backup.
type BackupError struct {
	Table string
	Err   error
}

func (e *BackupError) Error() string { return fmt.Sprintf("%s: backup: %v", e.Table, e.Err) }

func (e *BackupError) Unwrap() error { return e.Err }

// PartialError means some changes were made and could not be undone, so the
// table needs manual attention.
type PartialError struct {
	Table string
	Cause error
	Err   error
}

func (e *PartialError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: incomplete: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("%s: incomplete after %v: %v", e.Table, e.Cause, e.Err)
}

func (e *PartialError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// execError wraps an engine error raised by stmt in the taxonomy above.
func execError(table, stmt string, err error) error {
	switch db.Classify(err) {
	case db.ClassConnection:
		return &TransientError{Kind: KindConnectionLost, Table: table, Statement: stmt, Err: err}
	case db.ClassLockTimeout:
		return &TransientError{Kind: KindLockTimeout, Table: table, Statement: stmt, Err: err}
	case db.ClassPermission:
		return &ApplyError{Kind: KindPermissionDenied, Table: table, Statement: stmt, Err: err}
	case db.ClassAlreadyExists:
		return &ApplyError{Kind: KindAlreadyExists, Table: table, Statement: stmt, Err: err}
	}
	return &ApplyError{Kind: KindExecution, Table: table, Statement: stmt, Err: err}
}

func isTransient(err error) bool {
	var partial *PartialError
	if errors.As(err, &partial) {
		return false
	}
	var t *TransientError
	return errors.As(err, &t)
}

// Failure is the structured form of an error kept on an OperationRecord.
type Failure struct {
	Category      string `json:"category"`
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Table         string `json:"table"`
	Statement     string `json:"statement,omitempty"`
	EngineMessage string `json:"engine_message,omitempty"`
}

func newFailure(table string, err error) *Failure {
	f := &Failure{Category: "internal", Kind: "ERROR", Message: err.Error(), Table: table}

	var (
		partial   *PartialError
		schemaErr *schema.Error
		genErr    *ddl.GenerationError
		applyErr  *ApplyError
		transient *TransientError
		backupErr *BackupError
	)
	switch {
	case errors.As(err, &partial):
		f.Category, f.Kind = "partial", "PARTIAL"
	case errors.As(err, &schemaErr):
		f.Category, f.Kind = "schema", string(schemaErr.Kind)
	case errors.As(err, &genErr):
		f.Category, f.Kind = "generation", string(genErr.Kind)
	case errors.As(err, &transient):
		f.Category, f.Kind, f.Statement = "transient", string(transient.Kind), transient.Statement
	case errors.As(err, &applyErr):
		f.Category, f.Kind, f.Statement = "apply", string(applyErr.Kind), applyErr.Statement
	case errors.As(err, &backupErr):
		f.Category, f.Kind = "backup", "BACKUP"
	}
	if f.Statement == "" {
		if errors.As(err, &transient) {
			f.Statement = transient.Statement
		} else if errors.As(err, &applyErr) {
			f.Statement = applyErr.Statement
		}
	}
	f.EngineMessage = engineMessage(err)
	return f
}

// engineMessage digs out the raw driver error text, if any.
func engineMessage(err error) string {
	var transient *TransientError
	if errors.As(err, &transient) && transient.Err != nil {
		return transient.Err.Error()
	}
	var applyErr *ApplyError
	if errors.As(err, &applyErr) && applyErr.Err != nil {
		return applyErr.Err.Error()
	}
	return ""
}
