package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the whole runtime configuration. It is built once at startup
// and passed by value.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	App      AppConfig      `mapstructure:"app"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type DatabaseConfig struct {
	Provider string        `mapstructure:"provider"`
	DSN      string        `mapstructure:"dsn"`
	Schema   string        `mapstructure:"schema"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AppConfig controls naming of derived objects and how operations run.
type AppConfig struct {
	HistorySuffix         string        `mapstructure:"history_suffix"`
	TimestampColumn       string        `mapstructure:"timestamp_column"`
	OperationColumn       string        `mapstructure:"operation_column"`
	UserColumn            string        `mapstructure:"user_column"`
	IncludeSystemTables   bool          `mapstructure:"include_system_tables"`
	IncludeViews          bool          `mapstructure:"include_views"`
	AutoCommit            bool          `mapstructure:"auto_commit"`
	BackupBeforeChanges   bool          `mapstructure:"backup_before_changes"`
	DefaultSchema         string        `mapstructure:"default_schema"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	PoolSize              int           `mapstructure:"pool_size"`
	UnsupportedTypePolicy string        `mapstructure:"unsupported_type_policy"`
}

type BackupConfig struct {
	Dir         string   `mapstructure:"dir"`
	Mandatory   bool     `mapstructure:"mandatory"`
	IncludeData bool     `mapstructure:"include_data"`
	S3          S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// AuditConfig selects where operation records go besides the log.
type AuditConfig struct {
	File string `mapstructure:"file"`
	DSN  string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Provider: "postgres",
			Timeout:  30 * time.Second,
		},
		App: AppConfig{
			HistorySuffix:         "_hst",
			TimestampColumn:       "history_timestamp",
			OperationColumn:       "history_operation",
			UserColumn:            "history_user",
			BackupBeforeChanges:   true,
			DefaultSchema:         "public",
			MaxRetries:            3,
			RetryDelay:            2 * time.Second,
			PoolSize:              5,
			UnsupportedTypePolicy: "fail",
		},
		Backup: BackupConfig{
			Dir: "backups",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Address: ":8080",
		},
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Provider) {
	case "postgres", "postgresql", "mysql", "mariadb", "sqlite", "sqlite3":
	case "":
		return errors.New("database.provider is required")
	default:
		return fmt.Errorf("database.provider %q is not supported", c.Database.Provider)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Database.Timeout < 0 {
		return errors.New("database.timeout must not be negative")
	}
	if err := c.App.Validate(); err != nil {
		return err
	}
	if c.Backup.S3.Bucket == "" && c.Backup.Dir == "" && c.App.BackupBeforeChanges {
		return errors.New("backup.dir or backup.s3.bucket is required when app.backup_before_changes is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}
	return nil
}

// Validate checks the settings the DDL generator and orchestrator rely on.
func (a AppConfig) Validate() error {
	if strings.Trim(a.HistorySuffix, "_ ") == "" {
		return errors.New("app.history_suffix is required")
	}
	cols := map[string]string{
		"app.timestamp_column": a.TimestampColumn,
		"app.operation_column": a.OperationColumn,
		"app.user_column":      a.UserColumn,
	}
	seen := map[string]string{}
	for _, key := range []string{"app.timestamp_column", "app.operation_column", "app.user_column"} {
		name := strings.TrimSpace(cols[key])
		if name == "" {
			return fmt.Errorf("%s is required", key)
		}
		if prev, ok := seen[strings.ToLower(name)]; ok {
			return fmt.Errorf("%s and %s must differ", prev, key)
		}
		seen[strings.ToLower(name)] = key
	}
	if a.MaxRetries < 0 {
		return errors.New("app.max_retries must not be negative")
	}
	if a.RetryDelay < 0 {
		return errors.New("app.retry_delay must not be negative")
	}
	if a.PoolSize < 1 {
		return errors.New("app.pool_size must be at least 1")
	}
	switch a.UnsupportedTypePolicy {
	case "fail", "fallback":
	default:
		return fmt.Errorf("app.unsupported_type_policy %q must be fail or fallback", a.UnsupportedTypePolicy)
	}
	return nil
}

// Suffix returns the history suffix with exactly one leading underscore.
func (a AppConfig) Suffix() string {
	return "_" + strings.TrimLeft(a.HistorySuffix, "_")
}

// Normalize resolves settings that depend on each other. database.schema
// wins over app.default_schema, and the postgres-only "public" default is
// cleared for other providers so the connection's own schema is used.
func (c *Config) Normalize() {
	c.Database.Provider = strings.ToLower(strings.TrimSpace(c.Database.Provider))
	if c.Database.Schema != "" {
		c.App.DefaultSchema = c.Database.Schema
	}
	switch c.Database.Provider {
	case "postgres", "postgresql":
	default:
		if c.App.DefaultSchema == "public" {
			c.App.DefaultSchema = ""
		}
	}
}

// SchemaOr returns name, or the default schema when name is empty.
func (a AppConfig) SchemaOr(name string) string {
	if name != "" {
		return name
	}
	return a.DefaultSchema
}
