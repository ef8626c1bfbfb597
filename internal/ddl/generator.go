// Package ddl derives history tables and their trigger code from an
// introspected table. Everything here is pure: the same table, config and
// dialect always produce the same text.
package ddl

import (
	"fmt"
	"strings"

	"history_table_manager/internal/config"
	"history_table_manager/internal/dialect"
	"history_table_manager/internal/schema"
)

// Generator renders history DDL for one dialect and configuration.
type Generator struct {
	dialect dialect.Dialect
	caps    dialect.Capabilities
	app     config.AppConfig
}

// NewGenerator binds d and the naming settings of app.
func NewGenerator(d dialect.Dialect, app config.AppConfig) *Generator {
	return &Generator{dialect: d, caps: d.Capabilities(), app: app}
}

func (g *Generator) Dialect() dialect.Dialect { return g.dialect }

// Metadata names the timestamp, operation and user columns.
func (g *Generator) Metadata() MetadataColumns {
	return MetadataColumns{
		Timestamp: g.app.TimestampColumn,
		Operation: g.app.OperationColumn,
		User:      g.app.UserColumn,
	}
}

// Names derives every identifier for schemaName.table and checks they are
// pairwise distinct after truncation.
func (g *Generator) Names(schemaName, table string) (Names, error) {
	id := g.caps.Identifier
	historyRaw := table + g.app.Suffix()
	triggerRaw := table + "_history_trigger"
	n := Names{
		Schema:         schemaName,
		Table:          table,
		HistoryTable:   id(historyRaw),
		Trigger:        id(triggerRaw),
		TimestampIndex: id(historyRaw + "_" + g.app.TimestampColumn + "_idx"),
		OperationIndex: id(historyRaw + "_" + g.app.OperationColumn + "_idx"),
	}
	if g.caps.InlineTriggerBody {
		n.UpdateTrigger = id(triggerRaw + "_update")
		n.DeleteTrigger = id(triggerRaw + "_delete")
	} else {
		n.Function = n.Trigger
	}

	derived := []string{n.Table, n.HistoryTable, n.TimestampIndex, n.OperationIndex}
	derived = append(derived, n.Triggers()...)
	if dup := duplicates(derived); len(dup) > 0 {
		return Names{}, &GenerationError{Kind: KindNameCollision, Table: n.QualifiedTable(), Names: dup}
	}
	return n, nil
}

// BuildSpec derives the history table for ts.
func (g *Generator) BuildSpec(ts schema.TableSchema) (HistoryTableSpec, error) {
	names, err := g.Names(ts.Schema, ts.Name)
	if err != nil {
		return HistoryTableSpec{}, err
	}
	var clash []string
	for _, idx := range []string{names.HistoryTable, names.TimestampIndex, names.OperationIndex} {
		if ts.HasIndex(idx) {
			clash = append(clash, idx)
		}
	}
	if len(clash) > 0 {
		return HistoryTableSpec{}, &GenerationError{Kind: KindNameCollision, Table: ts.QualifiedName(), Names: clash}
	}

	meta := g.Metadata()
	var conflicts []string
	if dup := duplicates([]string{meta.Timestamp, meta.Operation, meta.User}); len(dup) > 0 {
		conflicts = append(conflicts, dup...)
	}
	for _, name := range []string{meta.Timestamp, meta.Operation, meta.User} {
		if c, ok := ts.Column(name); ok {
			conflicts = append(conflicts, c.Name)
		}
	}
	if len(conflicts) > 0 {
		return HistoryTableSpec{}, &GenerationError{Kind: KindMetadataColumnConflict, Table: ts.QualifiedName(), Names: conflicts}
	}
	return HistoryTableSpec{Source: ts, Names: names, Metadata: meta}, nil
}

// TriggerSpec describes the AFTER UPDATE OR DELETE row trigger for spec.
func (g *Generator) TriggerSpec(spec HistoryTableSpec) TriggerSpec {
	ts := TriggerSpec{
		Name:         spec.Names.Trigger,
		Schema:       spec.Names.Schema,
		Table:        spec.Names.Table,
		HistoryTable: spec.Names.HistoryTable,
		Timing:       "AFTER",
		Events:       []Event{EventUpdate, EventDelete},
		Level:        "ROW",
	}
	if spec.Names.Function != "" {
		ts.Function = &FunctionSpec{Schema: spec.Names.Schema, Name: spec.Names.Function}
	}
	return ts
}

// HistoryTableDDL renders CREATE TABLE for the history table. NOT NULL is
// kept, UNIQUE and defaults are not copied.
func (g *Generator) HistoryTableDDL(spec HistoryTableSpec) string {
	lines := g.columnLines(spec.Columns())
	lines = append(lines,
		fmt.Sprintf("CHECK (%s IN ('%s', '%s'))", g.caps.Quote(spec.Metadata.Operation), EventUpdate, EventDelete),
		fmt.Sprintf("PRIMARY KEY (%s)", g.quoteList(spec.PrimaryKey())),
	)
	return g.createTable(g.caps.Qualify(spec.Names.Schema, spec.Names.HistoryTable), lines)
}

// CreateTableDDL renders a plain CREATE TABLE for an introspected table.
func (g *Generator) CreateTableDDL(ts schema.TableSchema) string {
	lines := g.columnLines(ts.Columns)
	if len(ts.PrimaryKey) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", g.quoteList(ts.PrimaryKey)))
	}
	return g.createTable(g.caps.Qualify(ts.Schema, ts.Name), lines)
}

// IndexDDL indexes the timestamp and operation columns.
func (g *Generator) IndexDDL(spec HistoryTableSpec) []string {
	table := g.caps.Qualify(spec.Names.Schema, spec.Names.HistoryTable)
	return []string{
		fmt.Sprintf("CREATE INDEX %s ON %s (%s)", g.caps.Quote(spec.Names.TimestampIndex), table, g.caps.Quote(spec.Metadata.Timestamp)),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s)", g.caps.Quote(spec.Names.OperationIndex), table, g.caps.Quote(spec.Metadata.Operation)),
	}
}

// TriggerDDL renders the change-capture code. Both events copy the OLD row
// image.
func (g *Generator) TriggerDDL(spec HistoryTableSpec) TriggerArtifact {
	if g.caps.InlineTriggerBody {
		return g.inlineTriggers(spec)
	}
	return g.functionTrigger(spec)
}

func (g *Generator) functionTrigger(spec HistoryTableSpec) TriggerArtifact {
	n := spec.Names
	fn := g.caps.Qualify(n.Schema, n.Function)
	history := g.caps.Qualify(n.Schema, n.HistoryTable)
	row := func(event Event) string {
		return fmt.Sprintf("INSERT INTO %s SELECT OLD.*, %s, '%s', %s;", history, g.caps.NowExpr, event, g.caps.SessionUserExpr)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s()\n", fn)
	b.WriteString("RETURNS TRIGGER AS $body$\n")
	b.WriteString("BEGIN\n")
	b.WriteString("    IF (TG_OP = 'DELETE') THEN\n")
	fmt.Fprintf(&b, "        %s\n", row(EventDelete))
	b.WriteString("        RETURN OLD;\n")
	b.WriteString("    ELSIF (TG_OP = 'UPDATE') THEN\n")
	fmt.Fprintf(&b, "        %s\n", row(EventUpdate))
	b.WriteString("        RETURN NEW;\n")
	b.WriteString("    END IF;\n")
	b.WriteString("    RETURN NULL;\n")
	b.WriteString("END;\n")
	b.WriteString("$body$ LANGUAGE plpgsql")

	trigger := fmt.Sprintf("CREATE TRIGGER %s\nAFTER UPDATE OR DELETE ON %s\nFOR EACH ROW EXECUTE FUNCTION %s()",
		g.caps.Quote(n.Trigger), g.caps.Qualify(n.Schema, n.Table), fn)

	return TriggerArtifact{Style: StyleFunction, Function: b.String(), Triggers: []string{trigger}}
}

func (g *Generator) inlineTriggers(spec HistoryTableSpec) TriggerArtifact {
	n := spec.Names
	source := spec.Source.ColumnNames()
	targets := append(append([]string(nil), source...), spec.Metadata.Timestamp, spec.Metadata.Operation, spec.Metadata.User)
	old := make([]string, len(source))
	for i, c := range source {
		old[i] = "OLD." + g.caps.Quote(c)
	}

	now := g.caps.NowExpr
	if g.caps.StrictNow != nil && len(spec.Source.PrimaryKey) > 0 {
		now = g.caps.StrictNow(g.latestStamp(spec))
	}

	art := TriggerArtifact{Style: StyleInline}
	for _, ev := range []struct {
		event Event
		name  string
	}{{EventUpdate, n.UpdateTrigger}, {EventDelete, n.DeleteTrigger}} {
		values := append(append([]string(nil), old...), now, fmt.Sprintf("'%s'", ev.event), g.caps.SessionUserExpr)
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TRIGGER %s\n", g.caps.Qualify(n.Schema, ev.name))
		fmt.Fprintf(&b, "AFTER %s ON %s\n", ev.event, g.caps.Qualify(n.Schema, n.Table))
		b.WriteString("FOR EACH ROW\n")
		b.WriteString("BEGIN\n")
		fmt.Fprintf(&b, "    INSERT INTO %s (%s)\n", g.caps.Qualify(n.Schema, n.HistoryTable), g.quoteList(targets))
		fmt.Fprintf(&b, "    VALUES (%s);\n", strings.Join(values, ", "))
		b.WriteString("END")
		art.Triggers = append(art.Triggers, b.String())
	}
	return art
}

// latestStamp selects the newest history timestamp recorded for the OLD
// row's key.
func (g *Generator) latestStamp(spec HistoryTableSpec) string {
	conds := make([]string, len(spec.Source.PrimaryKey))
	for i, k := range spec.Source.PrimaryKey {
		conds[i] = fmt.Sprintf("%s = OLD.%s", g.caps.Quote(k), g.caps.Quote(k))
	}
	return fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s",
		g.caps.Quote(spec.Metadata.Timestamp),
		g.caps.Qualify(spec.Names.Schema, spec.Names.HistoryTable),
		strings.Join(conds, " AND "))
}

// RollbackDDL drops triggers, the trigger function and the history table.
// Every statement is IF EXISTS and the source table is never touched.
func (g *Generator) RollbackDDL(n Names) []string {
	var out []string
	table := g.caps.Qualify(n.Schema, n.Table)
	if n.Function != "" {
		out = append(out,
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", g.caps.Quote(n.Trigger), table),
			fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", g.caps.Qualify(n.Schema, n.Function)),
		)
	} else {
		for _, trg := range n.Triggers() {
			out = append(out, fmt.Sprintf("DROP TRIGGER IF EXISTS %s", g.caps.Qualify(n.Schema, trg)))
		}
	}
	return append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", g.caps.Qualify(n.Schema, n.HistoryTable)))
}

// Plan derives the full statement set for ts.
func (g *Generator) Plan(ts schema.TableSchema) (Plan, error) {
	spec, err := g.BuildSpec(ts)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Spec:        spec,
		Trigger:     g.TriggerSpec(spec),
		CreateTable: g.HistoryTableDDL(spec),
		Indexes:     g.IndexDDL(spec),
		Artifact:    g.TriggerDDL(spec),
		Rollback:    g.RollbackDDL(spec.Names),
	}, nil
}

func (g *Generator) columnLines(cols []schema.Column) []string {
	lines := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		line := g.caps.Quote(c.Name) + " " + g.dialect.RenderType(c.Type)
		if !c.Nullable {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	return lines
}

func (g *Generator) createTable(name string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n    ", name)
	b.WriteString(strings.Join(lines, ",\n    "))
	b.WriteString("\n)")
	if g.caps.TableOptions != "" {
		b.WriteString(" " + g.caps.TableOptions)
	}
	return b.String()
}

func (g *Generator) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = g.caps.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func duplicates(names []string) []string {
	seen := map[string]bool{}
	var dup []string
	for _, n := range names {
		key := strings.ToLower(n)
		if seen[key] {
			dup = append(dup, n)
			continue
		}
		seen[key] = true
	}
	return dup
}
