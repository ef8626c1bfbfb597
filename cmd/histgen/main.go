package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"history_table_manager/internal/audit"
	"history_table_manager/internal/backup"
	"history_table_manager/internal/config"
	"history_table_manager/internal/db"
	"history_table_manager/internal/ddl"
	"history_table_manager/internal/history"
	httpserver "history_table_manager/internal/http"
	"history_table_manager/internal/logging"
)

// errFailures makes the process exit non-zero after the batch summary has
// already been printed.
var errFailures = errors.New("one or more tables failed")

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	// A missing .env is normal.
	_ = godotenv.Load()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init-config":
		err = initConfigCmd(args)
	case "tables":
		err = tablesCmd(args)
	case "preview":
		err = previewCmd(args)
	case "apply":
		err = applyCmd(args)
	case "rollback":
		err = rollbackCmd(args)
	case "serve":
		err = serveCmd(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, errFailures) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`histgen manages history tables and change-capture triggers.

Usage:
  histgen <command> [flags] [schema.]table...

Commands:
  init-config   write a default config file
  tables        list candidate tables and whether they are tracked
  preview       print the DDL that apply would run
  apply         create history tables and triggers
  rollback      drop history tables and triggers
  serve         run the HTTP API`)
}

func initConfigCmd(args []string) error {
	fs := flagSet("init-config")
	path := fs.String("config", "config.yaml", "path to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.WriteDefault(*path); err != nil {
		return err
	}
	fmt.Println("Wrote default config to", *path)
	return nil
}

func tablesCmd(args []string) error {
	fs := flagSet("tables")
	configPath := fs.String("config", "config.yaml", "path to config file")
	schemaName := fs.String("schema", "", "schema to list (defaults to app.default_schema)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	tables, err := a.orch.ListTables(ctx, *schemaName)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Println("no tables found")
		return nil
	}
	printTables(os.Stdout, tables)
	return nil
}

func printTables(w io.Writer, tables []history.TableStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEMA\tTABLE\tKIND\tHISTORY TABLE\tTRACKED")
	for _, t := range tables {
		kind := "table"
		if t.View {
			kind = "view"
		}
		tracked := "no"
		if t.Tracked {
			tracked = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Schema, t.Name, kind, t.HistoryTable, tracked)
	}
	tw.Flush()
}

func previewCmd(args []string) error {
	fs := flagSet("preview")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	refs, err := tableArgs(fs)
	if err != nil {
		return err
	}
	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	res, err := a.orch.Preview(ctx, refs)
	if err != nil {
		return err
	}
	for _, rec := range res.Records {
		if rec.SQL == "" {
			continue
		}
		fmt.Printf("-- %s\n%s\n", rec.QualifiedTable(), rec.SQL)
	}
	return finishBatch(res)
}

func applyCmd(args []string) error {
	fs := flagSet("apply")
	configPath := fs.String("config", "config.yaml", "path to config file")
	force := fs.Bool("force", false, "replace existing history objects")
	approve := fs.Bool("approve", false, "skip approval prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	refs, err := tableArgs(fs)
	if err != nil {
		return err
	}
	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	verb := "create history objects for"
	if *force {
		verb = "replace history objects of"
	}
	if err := confirm(*approve, fmt.Sprintf("About to %s %d table(s)", verb, len(refs))); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	res, err := a.orch.Apply(ctx, refs, history.ApplyOptions{Force: *force})
	if err != nil {
		return err
	}
	return finishBatch(res)
}

func rollbackCmd(args []string) error {
	fs := flagSet("rollback")
	configPath := fs.String("config", "config.yaml", "path to config file")
	restore := fs.Bool("restore", false, "restore the latest backup after dropping")
	approve := fs.Bool("approve", false, "skip approval prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	refs, err := tableArgs(fs)
	if err != nil {
		return err
	}
	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := confirm(*approve, fmt.Sprintf("About to drop history objects of %d table(s)", len(refs))); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	res, err := a.orch.Rollback(ctx, refs, history.RollbackOptions{RestoreBackup: *restore})
	if err != nil {
		return err
	}
	return finishBatch(res)
}

func serveCmd(args []string) error {
	fs := flagSet("serve")
	configPath := fs.String("config", "config.yaml", "path to config file")
	addr := fs.String("addr", "", "listen address (defaults to http.address)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.cfg.HTTP.Address
	if *addr != "" {
		listen = *addr
	}
	ctx, stop := signalContext()
	defer stop()

	srv := httpserver.New(listen, a.logger, a.driver, a.orch, a.metrics.Handler())
	return srv.Start(ctx)
}

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	driver  db.Driver
	orch    *history.Orchestrator
	metrics *history.Metrics
	closers []func()
}

func setup(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.Log)

	driver, err := db.Open(cfg.Database, cfg.App.PoolSize)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, driver: driver, metrics: history.NewMetrics()}
	a.closers = append(a.closers, func() { driver.Close() })

	timeout := cfg.Database.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := history.Options{
		Logger:          logger,
		Metrics:         a.metrics,
		BackupMandatory: cfg.Backup.Mandatory,
	}
	// Rollback can restore even when apply does not capture.
	store, err := openStore(ctx, cfg.Backup)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("backup store: %w", err)
	}
	gen := ddl.NewGenerator(driver.Dialect(), cfg.App)
	opts.Backups = backup.NewCoordinator(driver, gen, store, cfg.Backup.IncludeData, logger)

	recorders := audit.Multi{audit.NewLogRecorder(logger)}
	if cfg.Audit.File != "" {
		f, err := audit.OpenFile(cfg.Audit.File)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit file: %w", err)
		}
		a.closers = append(a.closers, func() { f.Close() })
		recorders = append(recorders, f)
	}
	if cfg.Audit.DSN != "" {
		pg, err := audit.OpenPG(ctx, cfg.Audit.DSN, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		recorders = append(recorders, pg)
	}
	opts.Recorder = recorders

	a.orch = history.New(driver, cfg.App, opts)
	return a, nil
}

func openStore(ctx context.Context, cfg config.BackupConfig) (backup.Store, error) {
	if cfg.S3.Bucket != "" {
		return backup.NewS3Store(ctx, cfg.S3)
	}
	return backup.NewFileStore(cfg.Dir)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func tableArgs(fs *flag.FlagSet) ([]history.TableRef, error) {
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("at least one table is required")
	}
	return history.ParseTableRefs(fs.Args())
}

func finishBatch(res *history.BatchResult) error {
	fmt.Print(res.Summary())
	if res.HasFailures() {
		return errFailures
	}
	return nil
}

func confirm(approved bool, msg string) error {
	fmt.Println(msg)
	if approved {
		return nil
	}
	ok, err := promptYes(os.Stdin, "Type YES to proceed: ")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("aborted by user")
	}
	return nil
}

func promptYes(in io.Reader, prompt string) (bool, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
