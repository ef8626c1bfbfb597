package ddl

import (
	"fmt"
	"strings"

	"history_table_manager/internal/schema"
)

// Names holds every identifier derived from one source table, unquoted and
// already fitted to the engine's identifier length.
type Names struct {
	Schema         string `json:"schema,omitempty"`
	Table          string `json:"table"`
	HistoryTable   string `json:"history_table"`
	Trigger        string `json:"trigger"`
	Function       string `json:"function,omitempty"`
	UpdateTrigger  string `json:"update_trigger,omitempty"`
	DeleteTrigger  string `json:"delete_trigger,omitempty"`
	TimestampIndex string `json:"timestamp_index"`
	OperationIndex string `json:"operation_index"`
}

// Triggers lists the trigger names that exist for the dialect's style.
func (n Names) Triggers() []string {
	if n.Function != "" {
		return []string{n.Trigger}
	}
	return []string{n.UpdateTrigger, n.DeleteTrigger}
}

func (n Names) QualifiedTable() string {
	if n.Schema == "" {
		return n.Table
	}
	return n.Schema + "." + n.Table
}

type MetadataColumns struct {
	Timestamp string
	Operation string
	User      string
}

var (
	timestampType = schema.DataType{Kind: schema.KindTimestamp, Precision: 6}
	operationType = schema.DataType{Kind: schema.KindVarchar, Length: 10}
	userType      = schema.DataType{Kind: schema.KindVarchar, Length: 255}
)

// HistoryTableSpec is the history table derived from a source table.
type HistoryTableSpec struct {
	Source   schema.TableSchema
	Names    Names
	Metadata MetadataColumns
}

// Columns returns the original columns followed by the three metadata
// columns, in that order. The order is what positional row copies rely on.
func (s HistoryTableSpec) Columns() []schema.Column {
	cols := make([]schema.Column, 0, len(s.Source.Columns)+3)
	last := 0
	for _, c := range s.Source.Columns {
		c.Unique = false
		c.PrimaryKey = false
		cols = append(cols, c)
		last = max(last, c.Position)
	}
	cols = append(cols,
		schema.Column{Name: s.Metadata.Timestamp, Type: timestampType, PrimaryKey: true, Position: last + 1},
		schema.Column{Name: s.Metadata.Operation, Type: operationType, Position: last + 2},
		schema.Column{Name: s.Metadata.User, Type: userType, Nullable: true, Position: last + 3},
	)
	for _, pk := range s.Source.PrimaryKey {
		for i := range cols {
			if cols[i].Name == pk {
				cols[i].PrimaryKey = true
			}
		}
	}
	return cols
}

// PrimaryKey is the source key followed by the timestamp column.
func (s HistoryTableSpec) PrimaryKey() []string {
	pk := append([]string(nil), s.Source.PrimaryKey...)
	return append(pk, s.Metadata.Timestamp)
}

type Event string

const (
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
)

// TriggerSpec describes the change-capture trigger of one table.
type TriggerSpec struct {
	Name         string
	Schema       string
	Table        string
	HistoryTable string
	Timing       string
	Events       []Event
	Level        string
	Function     *FunctionSpec
}

// FunctionSpec is the trigger function used by engines without inline
// trigger bodies. It shares its name with the trigger.
type FunctionSpec struct {
	Schema string
	Name   string
}

type TriggerStyle string

const (
	StyleInline   TriggerStyle = "inline"
	StyleFunction TriggerStyle = "function"
)

// TriggerArtifact is the rendered trigger code, ready to execute.
type TriggerArtifact struct {
	Style    TriggerStyle
	Function string
	Triggers []string
}

// Statements returns the function (if any) before the triggers using it.
func (a TriggerArtifact) Statements() []string {
	var out []string
	if a.Function != "" {
		out = append(out, a.Function)
	}
	return append(out, a.Triggers...)
}

// Plan bundles everything needed to apply or revert history tracking for one
// table.
type Plan struct {
	Spec        HistoryTableSpec
	Trigger     TriggerSpec
	CreateTable string
	Indexes     []string
	Artifact    TriggerArtifact
	Rollback    []string
}

// ApplyStatements returns table, indexes and trigger code in execution order.
func (p Plan) ApplyStatements() []string {
	out := []string{p.CreateTable}
	out = append(out, p.Indexes...)
	return append(out, p.Artifact.Statements()...)
}

// SQL renders the apply statements as a script for preview.
func (p Plan) SQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- history table for %s\n", p.Spec.Source.QualifiedName())
	for _, stmt := range p.ApplyStatements() {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
