package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Default()
	if d.App.HistorySuffix != "_hst" {
		t.Fatalf("expected _hst suffix, got %q", d.App.HistorySuffix)
	}
	if d.App.MaxRetries != 3 || d.App.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %d %s", d.App.MaxRetries, d.App.RetryDelay)
	}
	if d.App.PoolSize != 5 || d.Database.Timeout != 30*time.Second {
		t.Fatalf("unexpected pool/timeout defaults: %d %s", d.App.PoolSize, d.Database.Timeout)
	}
	if !d.App.BackupBeforeChanges {
		t.Fatalf("backups should be on by default")
	}
}

func TestSuffixNormalization(t *testing.T) {
	for _, in := range []string{"hst", "_hst", "__hst"} {
		a := AppConfig{HistorySuffix: in}
		if got := a.Suffix(); got != "_hst" {
			t.Fatalf("suffix %q: got %q", in, got)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = "file:test.db"
	cfg.Database.Provider = "sqlite"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := cfg
	bad.App.UserColumn = "History_Timestamp"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected duplicate metadata column error")
	}

	bad = cfg
	bad.App.PoolSize = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected pool size error")
	}

	bad = cfg
	bad.Database.Provider = "oracle"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected provider error")
	}

	bad = cfg
	bad.App.UnsupportedTypePolicy = "ignore"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected policy error")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "histgen.yaml")
	content := `
database:
  provider: sqlite
  dsn: file:test.db
app:
  history_suffix: audit
  retry_delay: 500ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HISTGEN_APP_MAX_RETRIES", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Provider != "sqlite" || cfg.Database.DSN != "file:test.db" {
		t.Fatalf("database section not read: %+v", cfg.Database)
	}
	if cfg.App.HistorySuffix != "audit" || cfg.App.Suffix() != "_audit" {
		t.Fatalf("suffix not read: %q", cfg.App.HistorySuffix)
	}
	if cfg.App.RetryDelay != 500*time.Millisecond {
		t.Fatalf("retry delay: %s", cfg.App.RetryDelay)
	}
	if cfg.App.MaxRetries != 7 {
		t.Fatalf("env override not applied: %d", cfg.App.MaxRetries)
	}
	if cfg.App.TimestampColumn != "history_timestamp" {
		t.Fatalf("defaults lost: %q", cfg.App.TimestampColumn)
	}
	if cfg.App.DefaultSchema != "" {
		t.Fatalf("public should not leak into a sqlite config: %q", cfg.App.DefaultSchema)
	}
}

func TestNormalizeSchema(t *testing.T) {
	cfg := Default()
	cfg.Database.Provider = "Postgres"
	cfg.Normalize()
	if cfg.Database.Provider != "postgres" || cfg.App.DefaultSchema != "public" {
		t.Fatalf("postgres defaults changed: %+v", cfg)
	}

	cfg = Default()
	cfg.Database.Provider = "mysql"
	cfg.Database.Schema = "shop"
	cfg.Normalize()
	if cfg.App.DefaultSchema != "shop" {
		t.Fatalf("database.schema should win, got %q", cfg.App.DefaultSchema)
	}
}

func TestLoadMissingDSN(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestWriteDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "histgen.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Fatalf("expected error on second write")
	}
}
