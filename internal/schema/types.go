package schema

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the portable category of a column type.
type Kind int

const (
	KindGeneric Kind = iota
	KindTinyInt
	KindSmallInt
	KindInteger
	KindBigInt
	KindDecimal
	KindReal
	KindDouble
	KindChar
	KindVarchar
	KindText
	KindDate
	KindTime
	KindTimestamp
	KindTimestampTZ
	KindBoolean
	KindBlob
	KindJSON
	KindUUID
)

var kindNames = map[Kind]string{
	KindGeneric:     "GENERIC",
	KindTinyInt:     "TINYINT",
	KindSmallInt:    "SMALLINT",
	KindInteger:     "INTEGER",
	KindBigInt:      "BIGINT",
	KindDecimal:     "DECIMAL",
	KindReal:        "REAL",
	KindDouble:      "DOUBLE",
	KindChar:        "CHAR",
	KindVarchar:     "VARCHAR",
	KindText:        "TEXT",
	KindDate:        "DATE",
	KindTime:        "TIME",
	KindTimestamp:   "TIMESTAMP",
	KindTimestampTZ: "TIMESTAMPTZ",
	KindBoolean:     "BOOLEAN",
	KindBlob:        "BLOB",
	KindJSON:        "JSON",
	KindUUID:        "UUID",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DataType is a column type in portable form. Native keeps the engine's own
// spelling so GENERIC types can be rendered back verbatim.
type DataType struct {
	Kind      Kind
	Length    int
	Precision int
	Scale     int
	Unsigned  bool
	Native    string
}

func (t DataType) String() string {
	name := t.Kind.String()
	switch t.Kind {
	case KindGeneric:
		return t.Native
	case KindDecimal:
		if t.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", name, t.Precision, t.Scale)
		}
	case KindChar, KindVarchar:
		if t.Length > 0 {
			return fmt.Sprintf("%s(%d)", name, t.Length)
		}
	case KindTime, KindTimestamp, KindTimestampTZ:
		if t.Precision > 0 {
			return fmt.Sprintf("%s(%d)", name, t.Precision)
		}
	}
	if t.Unsigned {
		return name + " UNSIGNED"
	}
	return name
}

// Column describes one column of an introspected table.
type Column struct {
	Name       string
	Type       DataType
	Nullable   bool
	Default    sql.NullString
	PrimaryKey bool
	Unique     bool
	Position   int
}

// NativeType is the split form of an engine type declaration such as
// "numeric(10,2)" or "int(11) unsigned".
type NativeType struct {
	Base     string
	Args     []int
	Unsigned bool
}

var nativeTypeRe = regexp.MustCompile(`^([a-z0-9_ ]*?)\s*(?:\(([^)]*)\))?\s*([a-z0-9_ ]*)$`)

// ParseNative splits an engine type declaration into its base name, numeric
// arguments and the unsigned modifier. Non-numeric arguments (enum members)
// leave Args empty and keep the whole text as Base.
func ParseNative(native string) NativeType {
	text := strings.ToLower(strings.Join(strings.Fields(native), " "))
	m := nativeTypeRe.FindStringSubmatch(text)
	if m == nil {
		return NativeType{Base: text}
	}
	var out NativeType
	var tail []string
	for _, word := range strings.Fields(m[3]) {
		switch word {
		case "unsigned":
			out.Unsigned = true
		case "zerofill":
		default:
			tail = append(tail, word)
		}
	}
	out.Base = strings.TrimSpace(strings.Join(append([]string{m[1]}, tail...), " "))
	if m[2] != "" {
		for _, part := range strings.Split(m[2], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return NativeType{Base: text}
			}
			out.Args = append(out.Args, n)
		}
	}
	return out
}

// Arg returns the i-th numeric argument or zero.
func (n NativeType) Arg(i int) int {
	if i < len(n.Args) {
		return n.Args[i]
	}
	return 0
}
