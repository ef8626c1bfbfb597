package db

import "strings"

// SplitStatements splits a script on semicolons that are outside quotes and
// line comments. Quotes inside literals must be doubled, which is how dumps
// are written. Scripts with procedural bodies are not supported.
func SplitStatements(sqlText string) []string {
	var (
		out       []string
		current   strings.Builder
		inSingle  bool
		inDouble  bool
		inBack    bool
		inComment bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inComment {
			if r == '\n' {
				inComment = false
			}
			continue
		}
		quoted := inSingle || inDouble || inBack
		switch r {
		case '-':
			if !quoted && i+1 < len(runes) && runes[i+1] == '-' {
				inComment = true
				continue
			}
		case '\'':
			if !inDouble && !inBack {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle && !inBack {
				inDouble = !inDouble
			}
		case '`':
			if !inSingle && !inDouble {
				inBack = !inBack
			}
		case ';':
			if !quoted {
				flush()
				continue
			}
		}
		current.WriteRune(r)
	}
	flush()
	return out
}
