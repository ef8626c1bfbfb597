// Package migrations carries the schema of the optional audit database.
//
// 0001 creates operation_records, one row per table per preview, apply or
// rollback, with the full record kept as JSONB in payload. 0002 lifts the
// failure category and message into their own columns so failed operations
// can be filtered without reading the payload.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var sqlFiles embed.FS

// FS returns the migrations, named <version>_<name>.sql, for the runner in
// internal/migrate.
func FS() fs.FS { return sqlFiles }
