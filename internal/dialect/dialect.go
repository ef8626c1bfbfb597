// Package dialect describes how each supported engine spells types,
// identifiers, literals and triggers. It holds no connections.
package dialect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"history_table_manager/internal/schema"
)

// PlaceholderStyle is the bind parameter syntax of an engine.
type PlaceholderStyle int

const (
	PlaceholderQuestion PlaceholderStyle = iota
	PlaceholderDollar
)

// Capabilities lists the engine traits the DDL generator and the orchestrator
// branch on.
type Capabilities struct {
	// InlineTriggerBody engines take one event per trigger and carry the body
	// inside CREATE TRIGGER. Others need a separate trigger function.
	InlineTriggerBody   bool
	TransactionalDDL    bool
	SchemaQualified     bool
	MaxIdentifierLength int
	QuoteChar           byte
	SessionUserExpr     string
	NowExpr             string
	// StrictNow, when set, wraps NowExpr so the value is later than latest,
	// a scalar subquery over the history timestamps of the same key. Engines
	// whose clock is too coarse to separate two updates of one row set it.
	StrictNow    func(latest string) string
	Placeholder  PlaceholderStyle
	TableOptions string
}

// Dialect is implemented once per engine.
type Dialect interface {
	Name() string
	Capabilities() Capabilities
	RenderType(t schema.DataType) string
	MapType(native string) (schema.DataType, bool)
	Literal(v any) string
}

// Quote wraps an identifier in the engine's quote character, doubling any
// embedded quote characters.
func (c Capabilities) Quote(name string) string {
	q := string(c.QuoteChar)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// Qualify quotes name and prefixes the schema when the engine supports it.
func (c Capabilities) Qualify(schemaName, name string) string {
	if !c.SchemaQualified || schemaName == "" {
		return c.Quote(name)
	}
	return c.Quote(schemaName) + "." + c.Quote(name)
}

// Identifier fits name within MaxIdentifierLength. Long names are cut and
// suffixed with 8 hex characters of the SHA-256 of the full name, so two
// long names sharing a prefix stay distinct.
func (c Capabilities) Identifier(name string) string {
	limit := c.MaxIdentifierLength
	if limit <= 0 || len(name) <= limit {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut] + suffix
}

// Bind renders the n-th (1-based) placeholder.
func (c Capabilities) Bind(n int) string {
	if c.Placeholder == PlaceholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}

type typeRule struct {
	kind schema.Kind
	// args tells how the declaration arguments map onto the type.
	args argShape
}

type argShape int

const (
	argsNone argShape = iota
	argsLength
	argsPrecision
	argsPrecisionScale
)

func mapNative(rules map[string]typeRule, native string) (schema.DataType, bool) {
	parsed := schema.ParseNative(native)
	rule, ok := rules[parsed.Base]
	if !ok {
		return schema.DataType{Native: native}, false
	}
	dt := schema.DataType{Kind: rule.kind, Unsigned: parsed.Unsigned, Native: native}
	switch rule.args {
	case argsLength:
		dt.Length = parsed.Arg(0)
	case argsPrecision:
		dt.Precision = parsed.Arg(0)
	case argsPrecisionScale:
		dt.Precision = parsed.Arg(0)
		dt.Scale = parsed.Arg(1)
	}
	return dt, true
}

func withLength(name string, n int) string {
	if n > 0 {
		return fmt.Sprintf("%s(%d)", name, n)
	}
	return name
}

func decimal(name string, t schema.DataType) string {
	if t.Precision > 0 {
		return fmt.Sprintf("%s(%d,%d)", name, t.Precision, t.Scale)
	}
	return name
}
