package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// HISTGEN_DATABASE_DSN or HISTGEN_APP_MAX_RETRIES.
const EnvPrefix = "HISTGEN"

// Load reads the YAML file at path (optional) on top of Default and applies
// environment overrides. The result is validated.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return Config{}, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration as YAML. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	v := newViper()
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.provider", d.Database.Provider)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.schema", d.Database.Schema)
	v.SetDefault("database.timeout", d.Database.Timeout.String())

	v.SetDefault("app.history_suffix", d.App.HistorySuffix)
	v.SetDefault("app.timestamp_column", d.App.TimestampColumn)
	v.SetDefault("app.operation_column", d.App.OperationColumn)
	v.SetDefault("app.user_column", d.App.UserColumn)
	v.SetDefault("app.include_system_tables", d.App.IncludeSystemTables)
	v.SetDefault("app.include_views", d.App.IncludeViews)
	v.SetDefault("app.auto_commit", d.App.AutoCommit)
	v.SetDefault("app.backup_before_changes", d.App.BackupBeforeChanges)
	v.SetDefault("app.default_schema", d.App.DefaultSchema)
	v.SetDefault("app.max_retries", d.App.MaxRetries)
	v.SetDefault("app.retry_delay", d.App.RetryDelay.String())
	v.SetDefault("app.pool_size", d.App.PoolSize)
	v.SetDefault("app.unsupported_type_policy", d.App.UnsupportedTypePolicy)

	v.SetDefault("backup.dir", d.Backup.Dir)
	v.SetDefault("backup.mandatory", d.Backup.Mandatory)
	v.SetDefault("backup.include_data", d.Backup.IncludeData)
	v.SetDefault("backup.s3.bucket", d.Backup.S3.Bucket)
	v.SetDefault("backup.s3.region", d.Backup.S3.Region)
	v.SetDefault("backup.s3.endpoint", d.Backup.S3.Endpoint)
	v.SetDefault("backup.s3.prefix", d.Backup.S3.Prefix)

	v.SetDefault("audit.file", d.Audit.File)
	v.SetDefault("audit.dsn", d.Audit.DSN)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("http.address", d.HTTP.Address)
}
