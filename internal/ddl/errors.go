package ddl

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindNameCollision          ErrorKind = "NAME_COLLISION"
	KindMetadataColumnConflict ErrorKind = "METADATA_COLUMN_CONFLICT"
)

var (
	ErrNameCollision          = &GenerationError{Kind: KindNameCollision}
	ErrMetadataColumnConflict = &GenerationError{Kind: KindMetadataColumnConflict}
)

// GenerationError reports a history table that cannot be derived from the
// source table under the current configuration.
type GenerationError struct {
	Kind  ErrorKind
	Table string
	Names []string
}

func (e *GenerationError) Error() string {
	switch e.Kind {
	case KindNameCollision:
		return fmt.Sprintf("table %s: derived names collide: %s", e.Table, strings.Join(e.Names, ", "))
	case KindMetadataColumnConflict:
		return fmt.Sprintf("table %s: metadata columns clash with existing columns: %s", e.Table, strings.Join(e.Names, ", "))
	}
	return fmt.Sprintf("table %s: %s", e.Table, e.Kind)
}

func (e *GenerationError) Is(target error) bool {
	var t *GenerationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
