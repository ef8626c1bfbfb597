package dialect

import "history_table_manager/internal/schema"

// SQLite takes one event per trigger with the body inline. Trigger bodies
// cannot name a schema and there is no session user.
type SQLite struct{}

const sqliteNow = "strftime('%Y-%m-%d %H:%M:%f', 'now')"

// sqliteStrictNow steps one millisecond past the latest stamp when 'now' has
// not moved on since.
func sqliteStrictNow(latest string) string {
	return "max(" + sqliteNow + ", coalesce(strftime('%Y-%m-%d %H:%M:%f', (" + latest + "), '+0.001 seconds'), ''))"
}

var sqliteTypes = map[string]typeRule{
	"":                  {kind: schema.KindBlob},
	"tinyint":           {kind: schema.KindTinyInt},
	"smallint":          {kind: schema.KindSmallInt},
	"int":               {kind: schema.KindInteger},
	"integer":           {kind: schema.KindInteger},
	"mediumint":         {kind: schema.KindInteger},
	"bigint":            {kind: schema.KindBigInt},
	"numeric":           {kind: schema.KindDecimal, args: argsPrecisionScale},
	"decimal":           {kind: schema.KindDecimal, args: argsPrecisionScale},
	"real":              {kind: schema.KindReal},
	"float":             {kind: schema.KindDouble},
	"double":            {kind: schema.KindDouble},
	"double precision":  {kind: schema.KindDouble},
	"char":              {kind: schema.KindChar, args: argsLength},
	"character":         {kind: schema.KindChar, args: argsLength},
	"varchar":           {kind: schema.KindVarchar, args: argsLength},
	"character varying": {kind: schema.KindVarchar, args: argsLength},
	"nvarchar":          {kind: schema.KindVarchar, args: argsLength},
	"text":              {kind: schema.KindText},
	"clob":              {kind: schema.KindText},
	"date":              {kind: schema.KindDate},
	"time":              {kind: schema.KindTime},
	"datetime":          {kind: schema.KindTimestamp},
	"timestamp":         {kind: schema.KindTimestamp},
	"boolean":           {kind: schema.KindBoolean},
	"bool":              {kind: schema.KindBoolean},
	"blob":              {kind: schema.KindBlob},
	"json":              {kind: schema.KindJSON},
	"uuid":              {kind: schema.KindUUID},
}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Capabilities() Capabilities {
	return Capabilities{
		InlineTriggerBody:   true,
		TransactionalDDL:    true,
		SchemaQualified:     false,
		MaxIdentifierLength: 128,
		QuoteChar:           '"',
		SessionUserExpr:     "NULL",
		NowExpr:             sqliteNow,
		StrictNow:           sqliteStrictNow,
		Placeholder:         PlaceholderQuestion,
	}
}

func (SQLite) MapType(native string) (schema.DataType, bool) {
	return mapNative(sqliteTypes, native)
}

func (SQLite) RenderType(t schema.DataType) string {
	switch t.Kind {
	case schema.KindTinyInt, schema.KindSmallInt, schema.KindInteger:
		return "INTEGER"
	case schema.KindBigInt:
		return "BIGINT"
	case schema.KindDecimal:
		return decimal("NUMERIC", t)
	case schema.KindReal:
		return "REAL"
	case schema.KindDouble:
		return "DOUBLE"
	case schema.KindChar:
		return withLength("CHAR", t.Length)
	case schema.KindVarchar:
		return withLength("VARCHAR", t.Length)
	case schema.KindText:
		return "TEXT"
	case schema.KindDate:
		return "DATE"
	case schema.KindTime:
		return "TIME"
	case schema.KindTimestamp, schema.KindTimestampTZ:
		return "TIMESTAMP"
	case schema.KindBoolean:
		return "BOOLEAN"
	case schema.KindBlob:
		return "BLOB"
	case schema.KindJSON:
		return "JSON"
	case schema.KindUUID:
		return "UUID"
	default:
		if t.Native == "" {
			return "BLOB"
		}
		return t.Native
	}
}

func (SQLite) Literal(v any) string {
	return renderLiteral(v, literalStyle{
		trueText:  "1",
		falseText: "0",
		bytes:     func(hexText string) string { return "X'" + hexText + "'" },
		timeFmt:   "2006-01-02 15:04:05.999999999-07:00",
	})
}
