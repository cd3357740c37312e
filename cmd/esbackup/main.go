package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/esdb-backup/internal/app"
	"github.com/rowjay/esdb-backup/internal/config"
	"github.com/rowjay/esdb-backup/internal/journal"
	"github.com/rowjay/esdb-backup/internal/logging"
	"github.com/rowjay/esdb-backup/internal/notify"
	"github.com/rowjay/esdb-backup/internal/server"
	"github.com/rowjay/esdb-backup/internal/storage"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Format     string
}

func (r *rootFlags) jsonOutput() bool {
	return strings.EqualFold(r.Format, "json")
}

type overrideFlags struct {
	DataDir           string
	BackupDir         string
	LogsDir           string
	ComposeFile       string
	Service           string
	LockFile          string
	RetentionDays     int
	AllowMissingTools bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code. In json
// mode a failure is reported as a single document on stdout.
func run(args []string, stdout, stderr io.Writer) int {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "esbackup",
		Short:         "Backup, restore and maintenance for an event store deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&root.Format, "format", "text", "Result format (text, json)")

	rootCmd.PersistentFlags().StringVar(&overrides.DataDir, "data-dir", "", "Database data directory")
	rootCmd.PersistentFlags().StringVar(&overrides.BackupDir, "backup-dir", "", "Directory holding the archives")
	rootCmd.PersistentFlags().StringVar(&overrides.LogsDir, "logs-dir", "", "Database logs directory")
	rootCmd.PersistentFlags().StringVar(&overrides.ComposeFile, "compose-file", "", "Docker compose file of the deployment")
	rootCmd.PersistentFlags().StringVar(&overrides.Service, "service", "", "Compose service running the database")
	rootCmd.PersistentFlags().StringVar(&overrides.LockFile, "lock-file", "", "Backup lock file")
	rootCmd.PersistentFlags().IntVar(&overrides.RetentionDays, "retention-days", 0, "Days to keep local archives")
	rootCmd.PersistentFlags().BoolVar(&overrides.AllowMissingTools, "allow-missing-tools", false, "Do not require docker on PATH")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newStatusCmd(root, overrides))
	rootCmd.AddCommand(newCleanupCmd(root, overrides))
	rootCmd.AddCommand(newMigrateCmd(root, overrides))
	rootCmd.AddCommand(newHardwareCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		if root.jsonOutput() {
			_ = writeJSON(stdout, failureResponse{Success: false, Error: err.Error()})
		} else {
			fmt.Fprintln(stderr, "error:", err)
		}
		return 1
	}
	return 0
}

// runtime is everything a command needs once the config is loaded.
type runtime struct {
	cfg     *config.Config
	log     zerolog.Logger
	app     *app.App
	compose *server.Compose
	closers []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.log.Warn().Err(err).Msg("cleanup failed")
		}
	}
}

func setup(root *rootFlags, overrides *overrideFlags) (*runtime, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, err
	}
	format := cfg.Global.LogFormat
	if root.jsonOutput() {
		format = "json"
	}
	logger := logging.Configure(cfg.Global.LogLevel, format, os.Stderr)

	compose := server.NewCompose(cfg.Server, cfg.Paths.ComposeFile, cfg.Global.AllowMissingTools, logger)
	appSvc := app.New(cfg, compose, logger, notify.FromConfig(cfg.Notifications))
	rt := &runtime{cfg: cfg, log: logger, app: appSvc, compose: compose}

	if cfg.Offsite.Enabled {
		store, err := storage.New(cfg.Offsite)
		if err != nil {
			return nil, fmt.Errorf("offsite: %w", err)
		}
		appSvc.Offsite = store
	}

	if cfg.Paths.Journal != "" {
		j, err := journal.Open(cfg.Paths.Journal)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Paths.Journal).Msg("journal unavailable")
		} else {
			appSvc.Journal = j
			rt.closers = append(rt.closers, j.Close)
		}
	}
	return rt, nil
}

// operationContext is cancelled by SIGINT/SIGTERM and by the operation timeout.
func operationContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(sigCtx, cfg.Global.OperationTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.DataDir != "" {
		cfg.Paths.DataDir = overrides.DataDir
	}
	if overrides.BackupDir != "" {
		cfg.Paths.BackupDir = overrides.BackupDir
		cfg.Paths.Journal = ""
	}
	if overrides.LogsDir != "" {
		cfg.Paths.LogsDir = overrides.LogsDir
	}
	if overrides.ComposeFile != "" {
		cfg.Paths.ComposeFile = overrides.ComposeFile
	}
	if overrides.Service != "" {
		cfg.Server.Service = overrides.Service
	}
	if overrides.LockFile != "" {
		cfg.Global.LockFile = overrides.LockFile
	}
	if overrides.RetentionDays > 0 {
		cfg.Backup.RetentionDays = overrides.RetentionDays
	}
	if overrides.AllowMissingTools {
		cfg.Global.AllowMissingTools = true
	}

	// A moved backup directory takes its journal along.
	if cfg.Paths.Journal == "" {
		cfg.Paths.Journal = config.JournalPath(cfg.Paths.BackupDir)
	}
	cfg.Offsite.Backend = strings.ToLower(cfg.Offsite.Backend)
}

func requireCompose(rt *runtime) error {
	if err := rt.compose.Validate(); err != nil {
		return fmt.Errorf("%w (set global.allow_missing_tools to skip)", err)
	}
	return nil
}
