package dialect

import "history_table_manager/internal/schema"

// Postgres renders plpgsql trigger functions and runs DDL transactionally.
type Postgres struct{}

var postgresTypes = map[string]typeRule{
	"smallint":                    {kind: schema.KindSmallInt},
	"int2":                        {kind: schema.KindSmallInt},
	"integer":                     {kind: schema.KindInteger},
	"int":                         {kind: schema.KindInteger},
	"int4":                        {kind: schema.KindInteger},
	"bigint":                      {kind: schema.KindBigInt},
	"int8":                        {kind: schema.KindBigInt},
	"numeric":                     {kind: schema.KindDecimal, args: argsPrecisionScale},
	"decimal":                     {kind: schema.KindDecimal, args: argsPrecisionScale},
	"real":                        {kind: schema.KindReal},
	"float4":                      {kind: schema.KindReal},
	"double precision":            {kind: schema.KindDouble},
	"float8":                      {kind: schema.KindDouble},
	"character":                   {kind: schema.KindChar, args: argsLength},
	"char":                        {kind: schema.KindChar, args: argsLength},
	"bpchar":                      {kind: schema.KindChar, args: argsLength},
	"character varying":           {kind: schema.KindVarchar, args: argsLength},
	"varchar":                     {kind: schema.KindVarchar, args: argsLength},
	"text":                        {kind: schema.KindText},
	"date":                        {kind: schema.KindDate},
	"time":                        {kind: schema.KindTime, args: argsPrecision},
	"time without time zone":      {kind: schema.KindTime, args: argsPrecision},
	"timestamp":                   {kind: schema.KindTimestamp, args: argsPrecision},
	"timestamp without time zone": {kind: schema.KindTimestamp, args: argsPrecision},
	"timestamptz":                 {kind: schema.KindTimestampTZ, args: argsPrecision},
	"timestamp with time zone":    {kind: schema.KindTimestampTZ, args: argsPrecision},
	"boolean":                     {kind: schema.KindBoolean},
	"bool":                        {kind: schema.KindBoolean},
	"bytea":                       {kind: schema.KindBlob},
	"json":                        {kind: schema.KindJSON},
	"jsonb":                       {kind: schema.KindJSON},
	"uuid":                        {kind: schema.KindUUID},
}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Capabilities() Capabilities {
	return Capabilities{
		InlineTriggerBody:   false,
		TransactionalDDL:    true,
		SchemaQualified:     true,
		MaxIdentifierLength: 63,
		QuoteChar:           '"',
		SessionUserExpr:     "CURRENT_USER",
		NowExpr:             "clock_timestamp()",
		Placeholder:         PlaceholderDollar,
	}
}

func (Postgres) MapType(native string) (schema.DataType, bool) {
	return mapNative(postgresTypes, native)
}

func (Postgres) RenderType(t schema.DataType) string {
	switch t.Kind {
	case schema.KindTinyInt, schema.KindSmallInt:
		return "smallint"
	case schema.KindInteger:
		if t.Unsigned {
			return "bigint"
		}
		return "integer"
	case schema.KindBigInt:
		if t.Unsigned {
			return "numeric(20,0)"
		}
		return "bigint"
	case schema.KindDecimal:
		return decimal("numeric", t)
	case schema.KindReal:
		return "real"
	case schema.KindDouble:
		return "double precision"
	case schema.KindChar:
		return withLength("char", t.Length)
	case schema.KindVarchar:
		return withLength("varchar", t.Length)
	case schema.KindText:
		return "text"
	case schema.KindDate:
		return "date"
	case schema.KindTime:
		return withLength("time", t.Precision)
	case schema.KindTimestamp:
		return withLength("timestamp", t.Precision)
	case schema.KindTimestampTZ:
		return withLength("timestamptz", t.Precision)
	case schema.KindBoolean:
		return "boolean"
	case schema.KindBlob:
		return "bytea"
	case schema.KindJSON:
		if schema.ParseNative(t.Native).Base == "json" {
			return "json"
		}
		return "jsonb"
	case schema.KindUUID:
		return "uuid"
	default:
		return t.Native
	}
}

func (Postgres) Literal(v any) string {
	return renderLiteral(v, literalStyle{
		trueText:  "TRUE",
		falseText: "FALSE",
		bytes:     func(hexText string) string { return `'\x` + hexText + `'::bytea` },
		timeFmt:   "2006-01-02 15:04:05.999999Z07:00",
	})
}
