package dialect

import "history_table_manager/internal/schema"

// MySQL takes one event per trigger with the body inline. DDL commits
// implicitly, so a failed apply has to be compensated.
type MySQL struct{}

var mysqlTypes = map[string]typeRule{
	"tinyint":    {kind: schema.KindTinyInt},
	"smallint":   {kind: schema.KindSmallInt},
	"mediumint":  {kind: schema.KindInteger},
	"int":        {kind: schema.KindInteger},
	"integer":    {kind: schema.KindInteger},
	"bigint":     {kind: schema.KindBigInt},
	"decimal":    {kind: schema.KindDecimal, args: argsPrecisionScale},
	"numeric":    {kind: schema.KindDecimal, args: argsPrecisionScale},
	"float":      {kind: schema.KindReal},
	"double":     {kind: schema.KindDouble},
	"real":       {kind: schema.KindDouble},
	"char":       {kind: schema.KindChar, args: argsLength},
	"varchar":    {kind: schema.KindVarchar, args: argsLength},
	"tinytext":   {kind: schema.KindText},
	"text":       {kind: schema.KindText},
	"mediumtext": {kind: schema.KindText},
	"longtext":   {kind: schema.KindText},
	"date":       {kind: schema.KindDate},
	"time":       {kind: schema.KindTime, args: argsPrecision},
	"datetime":   {kind: schema.KindTimestamp, args: argsPrecision},
	"timestamp":  {kind: schema.KindTimestampTZ, args: argsPrecision},
	"bool":       {kind: schema.KindBoolean},
	"boolean":    {kind: schema.KindBoolean},
	"tinyblob":   {kind: schema.KindBlob},
	"blob":       {kind: schema.KindBlob},
	"mediumblob": {kind: schema.KindBlob},
	"longblob":   {kind: schema.KindBlob},
	"varbinary":  {kind: schema.KindBlob},
	"binary":     {kind: schema.KindBlob},
	"json":       {kind: schema.KindJSON},
}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Capabilities() Capabilities {
	return Capabilities{
		InlineTriggerBody:   true,
		TransactionalDDL:    false,
		SchemaQualified:     true,
		MaxIdentifierLength: 64,
		QuoteChar:           '`',
		SessionUserExpr:     "CURRENT_USER()",
		NowExpr:             "NOW(6)",
		Placeholder:         PlaceholderQuestion,
		TableOptions:        "ENGINE=InnoDB",
	}
}

func (MySQL) MapType(native string) (schema.DataType, bool) {
	return mapNative(mysqlTypes, native)
}

func (MySQL) RenderType(t schema.DataType) string {
	var out string
	switch t.Kind {
	case schema.KindTinyInt:
		out = "tinyint"
	case schema.KindSmallInt:
		out = "smallint"
	case schema.KindInteger:
		out = "int"
	case schema.KindBigInt:
		out = "bigint"
	case schema.KindDecimal:
		out = decimal("decimal", t)
	case schema.KindReal:
		out = "float"
	case schema.KindDouble:
		out = "double"
	case schema.KindChar:
		return withLength("char", t.Length)
	case schema.KindVarchar:
		return withLength("varchar", max(t.Length, 1))
	case schema.KindText:
		return "longtext"
	case schema.KindDate:
		return "date"
	case schema.KindTime:
		return withLength("time", t.Precision)
	case schema.KindTimestamp:
		return withLength("datetime", t.Precision)
	case schema.KindTimestampTZ:
		return withLength("timestamp", t.Precision)
	case schema.KindBoolean:
		return "tinyint(1)"
	case schema.KindBlob:
		return "longblob"
	case schema.KindJSON:
		return "json"
	case schema.KindUUID:
		return "char(36)"
	default:
		return t.Native
	}
	if t.Unsigned {
		out += " unsigned"
	}
	return out
}

func (MySQL) Literal(v any) string {
	return renderLiteral(v, literalStyle{
		trueText:  "1",
		falseText: "0",
		backslash: true,
		bytes:     func(hexText string) string { return "X'" + hexText + "'" },
		timeFmt:   "2006-01-02 15:04:05.999999",
		timeInUTC: true,
	})
}
