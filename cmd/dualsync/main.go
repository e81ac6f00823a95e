// Package main implements the dualsync binary keeping the bot's embedded
// SQLite database and the networked PostgreSQL database in sync.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vrcshowcase/dualsync/internal/db"
	"github.com/vrcshowcase/dualsync/internal/embedded"
	"github.com/vrcshowcase/dualsync/internal/log"
	"github.com/vrcshowcase/dualsync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	SQLitePath       string        `long:"sqlite-path" env:"DUALSYNC_SQLITE_PATH" description:"Path of the embedded SQLite database" default:"database/vrchat_worlds.db"`
	DatabaseURL      string        `long:"database-url" env:"DATABASE_URL" description:"PostgreSQL connection URL"`
	PgHost           string        `long:"pg-host" env:"PGHOST" description:"PostgreSQL host, overrides the URL"`
	PgPort           int           `long:"pg-port" env:"PGPORT" description:"PostgreSQL port, overrides the URL"`
	PgUser           string        `long:"pg-user" env:"PGUSER" description:"PostgreSQL user, overrides the URL"`
	PgPassword       string        `long:"pg-password" env:"PGPASSWORD" description:"PostgreSQL password, overrides the URL"`
	PgDatabase       string        `long:"pg-database" env:"PGDATABASE" description:"PostgreSQL database, overrides the URL"`
	Tables           []string      `short:"t" long:"table" env:"DUALSYNC_TABLES" env-delim:"," description:"Table to synchronize, repeatable (default: every bot table)"`
	SyncInterval     time.Duration `long:"sync-interval" env:"DUALSYNC_SYNC_INTERVAL" description:"Interval between sync passes" default:"300s"`
	StartupDelay     time.Duration `long:"startup-delay" env:"DUALSYNC_STARTUP_DELAY" description:"Delay before the first sync pass" default:"10s"`
	StatementTimeout time.Duration `long:"statement-timeout" env:"DUALSYNC_STATEMENT_TIMEOUT" description:"Timeout of each statement on both stores" default:"30s"`
	LocalDev         bool          `long:"local-dev" env:"DUALSYNC_LOCAL_DEV" description:"Local development mode, the networked store is never used"`
	Once             bool          `long:"once" description:"Run a single sync pass, print a summary and exit"`
	ResetCursors     bool          `long:"reset-cursors" description:"Reset the watermarks of the selected tables before running"`
	ReconcileCounts  bool          `long:"reconcile-counts" env:"DUALSYNC_RECONCILE_COUNTS" description:"At startup, fully resync tables the networked store holds fewer rows of"`
	LogLevel         string        `short:"l" long:"log-level" env:"DUALSYNC_LOG_LEVEL" description:"Log level: debug|info|warn|error" default:"info"`
	LogJSON          bool          `long:"log-json" env:"DUALSYNC_LOG_JSON" description:"Log in JSON format"`
	LogFile          string        `long:"log-file" env:"DUALSYNC_LOG_FILE" description:"Also write logs to this file, rotated"`
	Version          bool          `short:"v" long:"version" description:"Show version information"`
	Help             bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// Networked returns the PostgreSQL connection settings
func (c *Config) Networked() *db.Config {
	return &db.Config{
		URL:              c.DatabaseURL,
		Host:             c.PgHost,
		Port:             c.PgPort,
		User:             c.PgUser,
		Password:         c.PgPassword,
		Database:         c.PgDatabase,
		StatementTimeout: c.StatementTimeout,
	}
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("dualsync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(config *Config) error {
	if err := log.Setup(config.LogLevel, config.LogJSON, log.FileConfig{
		Path:       config.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("dualsync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

// FormatResults renders the outcome of an on-demand pass
func FormatResults(w io.Writer, results sync.Results, elapsed time.Duration) {
	toNetworked, toEmbedded, errs := results.Totals()
	fmt.Fprintf(w, "Sync completed in %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  embedded -> networked: %d rows\n", toNetworked)
	fmt.Fprintf(w, "  networked -> embedded: %d rows\n", toEmbedded)
	fmt.Fprintf(w, "  row errors: %d\n", errs)

	for _, table := range results.Tables() {
		r := results[table]
		switch {
		case r.Skipped != "":
			fmt.Fprintf(w, "  %s: skipped (%s)\n", table, r.Skipped)
		case r.Err != nil:
			fmt.Fprintf(w, "  %s: failed: %v\n", table, r.Err)
		case r.Changed() || r.Errors() > 0:
			fmt.Fprintf(w, "  %s: %d to networked, %d to embedded, %d errors\n",
				table, r.ToNetworked.Attempted, r.ToEmbedded.Attempted, r.Errors())
		}
	}
}

func run(ctx context.Context, config *Config) error {
	local, err := embedded.Open(config.SQLitePath)
	if err != nil {
		return err
	}
	defer local.Close()
	local.WithStatementTimeout(config.StatementTimeout)

	pgConfig := config.Networked()
	guard := sync.NewGuard(pgConfig, config.LocalDev)
	connector := db.NewConnector(pgConfig)
	engine := sync.NewEngine(local, connector, guard, sync.Options{
		Tables:          config.Tables,
		Lookback:        sync.DefaultLookback,
		ReconcileCounts: config.ReconcileCounts,
	})

	if guard.Available() {
		logrus.WithField("url", pgConfig.Redacted()).Info("Networked store configured")
	} else {
		logrus.WithField("reason", guard.Reason()).Warn("Networked store unavailable, running embedded only")
	}

	if config.ResetCursors {
		if err := engine.ResetCursors(ctx, config.Tables...); err != nil {
			return fmt.Errorf("failed to reset cursors: %w", err)
		}
	}

	if config.Once {
		started := time.Now()
		if err := engine.Init(ctx); err != nil {
			logrus.WithError(err).Warn("Initialization incomplete")
		}
		FormatResults(os.Stdout, engine.SyncNow(ctx), time.Since(started))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if guard.Available() {
		g.Go(func() error {
			if err := connector.Ping(gctx); err != nil {
				guard.MarkUnreachable(err)
				return nil
			}
			guard.MarkReachable()
			return nil
		})
	}
	g.Go(func() error {
		return sync.NewScheduler(engine, config.SyncInterval, config.StartupDelay, nil).Run(gctx)
	})
	return g.Wait()
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	if err := run(ctx, config); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("dualsync failed")
	}

	logrus.Info("Graceful shutdown completed")
}
