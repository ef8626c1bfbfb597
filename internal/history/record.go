package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionPreview  Action = "PREVIEW"
	ActionApply    Action = "APPLY"
	ActionRollback Action = "ROLLBACK"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeSkipped Outcome = "SKIPPED"
)

// OperationRecord is the audit of one action on one table.
type OperationRecord struct {
	ID          uuid.UUID     `json:"id"`
	Schema      string        `json:"schema,omitempty"`
	Table       string        `json:"table"`
	Action      Action        `json:"action"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
	Outcome     Outcome       `json:"outcome"`
	State       State         `json:"state"`
	Transitions []State       `json:"transitions"`
	BackupID    string        `json:"backup_id,omitempty"`
	BackupKey   string        `json:"backup_key,omitempty"`
	// SQL is the preview script. Statements are the generated statements
	// for a preview and the executed ones otherwise.
	SQL        string   `json:"sql,omitempty"`
	Statements []string `json:"statements,omitempty"`
	Attempts   int      `json:"attempts"`
	Warnings   []string `json:"warnings,omitempty"`
	Failure    *Failure `json:"failure,omitempty"`
}

func newRecord(action Action, ref TableRef) OperationRecord {
	return OperationRecord{
		ID:          uuid.New(),
		Schema:      ref.Schema,
		Table:       ref.Name,
		Action:      action,
		StartedAt:   time.Now().UTC(),
		State:       StateIdle,
		Transitions: []State{StateIdle},
	}
}

func (r *OperationRecord) QualifiedTable() string {
	return TableRef{Schema: r.Schema, Name: r.Table}.String()
}

func (r *OperationRecord) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *OperationRecord) sync(m *machine) {
	r.State = m.state
	r.Transitions = append([]State(nil), m.trail...)
}

// BatchResult holds one record per requested table, in request order.
type BatchResult struct {
	Action    Action            `json:"action"`
	Records   []OperationRecord `json:"records"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
}

func newBatchResult(action Action, records []OperationRecord) *BatchResult {
	b := &BatchResult{Action: action, Records: records}
	for _, r := range records {
		switch r.Outcome {
		case OutcomeSuccess:
			b.Succeeded++
		case OutcomeSkipped:
			b.Skipped++
		default:
			b.Failed++
		}
	}
	return b
}

// HasFailures reports whether any table failed or ended partially applied.
func (b *BatchResult) HasFailures() bool { return b.Failed > 0 }

// Summary renders the counts followed by one line per table.
func (b *BatchResult) Summary() string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s: %d succeeded, %d failed, %d skipped\n", strings.ToLower(string(b.Action)), b.Succeeded, b.Failed, b.Skipped)
	for _, r := range b.Records {
		fmt.Fprintf(&s, "  %-40s %-12s %s", r.QualifiedTable(), r.State, r.Outcome)
		if r.BackupID != "" {
			fmt.Fprintf(&s, " backup=%s", r.BackupID)
		}
		if r.Failure != nil {
			fmt.Fprintf(&s, ": %s", r.Failure.Message)
		}
		s.WriteString("\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&s, "    warning: %s\n", w)
		}
	}
	return s.String()
}
