package history

import (
	"fmt"
	"strings"
)

// TableRef names one target table. An empty Schema means the configured
// default schema, or the connection's current one.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"table"`
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// ParseTableRef accepts "table" or "schema.table".
func ParseTableRef(s string) (TableRef, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		if parts[0] != "" {
			return TableRef{Name: parts[0]}, nil
		}
	case 2:
		if parts[0] != "" && parts[1] != "" {
			return TableRef{Schema: parts[0], Name: parts[1]}, nil
		}
	}
	return TableRef{}, fmt.Errorf("invalid table reference %q", s)
}

// ParseTableRefs parses every entry and fails on the first invalid one.
func ParseTableRefs(in []string) ([]TableRef, error) {
	out := make([]TableRef, 0, len(in))
	for _, s := range in {
		ref, err := ParseTableRef(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}
