package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"history_table_manager/internal/config"
	"history_table_manager/internal/dialect"
	"history_table_manager/internal/schema"
)

// ObjectKind names the catalog objects the orchestrator checks for.
type ObjectKind string

const (
	ObjectTable    ObjectKind = "table"
	ObjectTrigger  ObjectKind = "trigger"
	ObjectFunction ObjectKind = "function"
	ObjectIndex    ObjectKind = "index"
)

// TableInfo is one row of a table listing.
type TableInfo struct {
	Schema string `json:"schema" db:"table_schema"`
	Name   string `json:"name" db:"table_name"`
	View   bool   `json:"view" db:"is_view"`
	System bool   `json:"system" db:"is_system"`
}

// Rows is a fully read result set.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Driver is a live connection pool to one engine together with its dialect.
type Driver interface {
	Dialect() dialect.Dialect
	FetchTable(ctx context.Context, schemaName, table string) (*schema.RawTable, error)
	MapType(native string) (schema.DataType, bool)
	CurrentSchema(ctx context.Context) (string, error)
	ListTables(ctx context.Context, schemaName string) ([]TableInfo, error)
	ObjectExists(ctx context.Context, kind ObjectKind, schemaName, name string) (bool, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}

// Tx is a transaction pinned to one connection. Locks taken with Lock are
// released when the transaction ends.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Lock(ctx context.Context, key string) error
	Commit() error
	Rollback() error
}

// Open connects to the configured engine. poolSize caps open connections.
func Open(cfg config.DatabaseConfig, poolSize int) (Driver, error) {
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case "postgres", "postgresql":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetMaxOpenConns(poolSize)
		return &PostgresDriver{base: newBase(sqlx.NewDb(db, "pgx"), dialect.Postgres{}, cfg.Timeout, pgLocker{})}, nil
	case "mysql", "mariadb":
		mcfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// Trigger bodies contain semicolons; they must reach the server as one
		// statement.
		mcfg.MultiStatements = false
		mcfg.ParseTime = true
		db, err := sql.Open("mysql", mcfg.FormatDSN())
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetMaxOpenConns(poolSize)
		return &MySQLDriver{base: newBase(sqlx.NewDb(db, "mysql"), dialect.MySQL{}, cfg.Timeout, newMySQLLocker(cfg.Timeout))}, nil
	case "sqlite", "sqlite3":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		// One connection: SQLite has a single writer and :memory: databases
		// are per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
		return &SQLiteDriver{base: newBase(sqlx.NewDb(db, "sqlite"), dialect.SQLite{}, cfg.Timeout, nil)}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", cfg.Provider)
	}
}
