package dialect

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type literalStyle struct {
	trueText  string
	falseText string
	backslash bool
	bytes     func(hexText string) string
	timeFmt   string
	timeInUTC bool
}

func renderLiteral(v any, style literalStyle) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return style.trueText
		}
		return style.falseText
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []byte:
		return style.bytes(hex.EncodeToString(val))
	case time.Time:
		if style.timeInUTC {
			val = val.UTC()
		}
		return quoteString(val.Format(style.timeFmt), style.backslash)
	case string:
		return quoteString(val, style.backslash)
	case fmt.Stringer:
		return quoteString(val.String(), style.backslash)
	default:
		return quoteString(fmt.Sprint(val), style.backslash)
	}
}

func quoteString(s string, backslash bool) string {
	if backslash {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
