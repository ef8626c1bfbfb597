package schema

import (
	"errors"
	"fmt"
)

// ErrorKind classifies introspection failures.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindNoPrimaryKey    ErrorKind = "NO_PRIMARY_KEY"
	KindUnsupportedType ErrorKind = "UNSUPPORTED_TYPE"
)

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrNoPrimaryKey    = &Error{Kind: KindNoPrimaryKey}
	ErrUnsupportedType = &Error{Kind: KindUnsupportedType}
)

// Error is returned by Introspect. errors.Is matches on Kind, so callers can
// compare against ErrNotFound and friends.
type Error struct {
	Kind   ErrorKind
	Schema string
	Table  string
	Column string
	Native string
	Err    error
}

func (e *Error) Error() string {
	table := e.Table
	if e.Schema != "" {
		table = e.Schema + "." + e.Table
	}
	switch e.Kind {
	case KindNotFound:
		if table == "" {
			return "table not found"
		}
		return fmt.Sprintf("table %s not found", table)
	case KindNoPrimaryKey:
		return fmt.Sprintf("table %s has no primary key", table)
	case KindUnsupportedType:
		return fmt.Sprintf("table %s column %s: unsupported type %q", table, e.Column, e.Native)
	}
	if e.Err != nil {
		return fmt.Sprintf("table %s: %v", table, e.Err)
	}
	return fmt.Sprintf("table %s: %s", table, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
