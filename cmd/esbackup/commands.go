package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rowjay/esdb-backup/internal/app"
	"github.com/rowjay/esdb-backup/internal/config"
	"github.com/rowjay/esdb-backup/internal/hardware"
	"github.com/rowjay/esdb-backup/internal/logging"
	"github.com/rowjay/esdb-backup/internal/migrate"
	"github.com/rowjay/esdb-backup/internal/version"
)

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var backupVersion string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := operationContext(rt.cfg)
			defer cancel()

			res, err := rt.app.Backup(ctx, app.BackupOptions{Version: backupVersion})
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), backupResponse{File: res.Path})
			}
			if res.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "fresh install, nothing to back up")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&backupVersion, "version", "", "Version of the running deployment, stored next to the archive")
	cmd.AddCommand(newListCmd(root, overrides))
	return cmd
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var offsite bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := operationContext(rt.cfg)
			defer cancel()

			var out listResponse
			if offsite {
				copies, err := rt.app.ListOffsite(ctx)
				if err != nil {
					return err
				}
				out = newOffsiteListResponse(copies)
			} else {
				res, err := rt.app.List(ctx)
				if err != nil {
					return err
				}
				out = newListResponse(res)
			}

			if root.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			for _, b := range out.Backups {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Filename, b.Version, b.Size, b.CreatedDate)
			}
			fmt.Fprintf(w, "%d backups, %s\n", out.TotalCount, out.TotalSize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offsite, "offsite", false, "List the offsite copies instead")
	return cmd
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var file string
	var offsite bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the data directory with an archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			rt, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := requireCompose(rt); err != nil {
				return err
			}

			ctx, cancel := operationContext(rt.cfg)
			defer cancel()

			if offsite {
				arch, err := rt.app.FetchOffsite(ctx, filepath.Base(file))
				if err != nil {
					return err
				}
				file = arch.Name
			}

			res, err := rt.app.Restore(ctx, app.RestoreOptions{File: file})
			if err != nil {
				if res != nil && res.Snapshot != "" {
					return fmt.Errorf("%w (previous data kept at %s)", err, res.Snapshot)
				}
				return err
			}
			if root.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), restoreResponse{
					Success:  true,
					Archive:  res.Archive,
					Degraded: res.Degraded,
					Warnings: res.Warnings,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", res.Archive)
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Archive name in the backup directory, or a path to one")
	cmd.Flags().BoolVar(&offsite, "offsite", false, "Fetch the archive from the offsite store first")
	return cmd
}

func newStatusCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show data, server and backup state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := operationContext(rt.cfg)
			defer cancel()

			rep, err := rt.app.Status(ctx)
			if err != nil {
				return err
			}
			out := newStatusResponse(rep)
			if root.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			printStatus(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func printStatus(w io.Writer, s statusResponse) {
	state := "has data"
	if s.FreshInstall {
		state = "fresh install"
	}
	fmt.Fprintf(w, "data:      %s (%s: %d checkpoints, %d chunks, %d index entries)\n", s.DataDir, state, s.Checkpoints, s.Chunks, s.IndexEntries)
	server := "stopped"
	switch {
	case s.ServerRunning && s.ServerHealthy:
		server = "running, healthy"
	case s.ServerRunning:
		server = "running, not healthy"
	case s.ServerError != "":
		server = "unknown: " + s.ServerError
	}
	fmt.Fprintf(w, "server:    %s (%s)\n", s.Service, server)
	if s.LockPID > 0 {
		fmt.Fprintf(w, "lock:      pid %d (alive=%t)\n", s.LockPID, s.LockAlive)
	}
	fmt.Fprintf(w, "backups:   %d, %s\n", s.BackupCount, s.BackupSize)
	if s.LatestBackup != "" {
		fmt.Fprintf(w, "latest:    %s\n", s.LatestBackup)
	}
	if s.LastBackup != nil && s.LastBackup.Status != "success" {
		fmt.Fprintf(w, "last run:  backup %s at %s: %s\n", s.LastBackup.Status, s.LastBackup.EndedAt.Format(createdLayout), s.LastBackup.Error)
	}
	for _, snap := range s.Snapshots {
		fmt.Fprintf(w, "snapshot:  %s\n", snap)
	}
	for _, r := range s.Recent {
		fmt.Fprintf(w, "history:   %s %s %s %s\n", r.EndedAt.Format(createdLayout), r.Operation, r.Status, r.Archive)
	}
}

func newCleanupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var backupFirst, force, restart bool

	cmd := &cobra.Command{
		Use:       "cleanup [data|logs|all]",
		Short:     "Delete the database data and/or logs",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(app.CleanupData), string(app.CleanupLogs), string(app.CleanupAll)},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			parsed, err := app.ParseCleanupTarget(target)
			if err != nil {
				return err
			}

			rt, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := requireCompose(rt); err != nil {
				return err
			}

			if !force {
				if root.jsonOutput() {
					return fmt.Errorf("cleanup needs --force in json mode")
				}
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("This deletes the %s of %s.", parsed, rt.cfg.Server.Service))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("cleanup cancelled")
				}
			}

			ctx, cancel := operationContext(rt.cfg)
			defer cancel()

			res, err := rt.app.Cleanup(ctx, app.CleanupOptions{Target: parsed, Backup: backupFirst, Restart: restart})
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				out := map[string]any{
					"success":      true,
					"removed_data": res.RemovedData,
					"removed_logs": res.RemovedLogs,
					"restarted":    res.Restarted,
				}
				if res.Backup != nil {
					out["backup"] = res.Backup.Path
				}
				if len(res.Warnings) > 0 {
					out["degraded"] = true
					out["warnings"] = res.Warnings
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d data entries, %d log entries\n", res.RemovedData, res.RemovedLogs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&backupFirst, "backup", false, "Take a backup first and abort if it fails")
	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&restart, "restart", false, "Start the server afterwards")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s Type 'yes' to continue: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
}

func newMigrateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var from, to, dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the migration scripts between two versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return fmt.Errorf("--from and --to are required")
			}
			rt, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := requireCompose(rt); err != nil {
				return err
			}
			if dir == "" {
				dir = rt.cfg.Migrations.Dir
			}

			ctx, cancel := operationContext(rt.cfg)
			defer cancel()

			runner := migrate.NewRunner(dir, rt.cfg.Paths.DataDir, rt.cfg.Migrations.ScriptTimeout, rt.app, rt.log)
			res, err := runner.Run(ctx, from, to)
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"success":   true,
					"direction": res.Direction,
					"applied":   res.Applied,
					"backup":    res.Backup,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s -> %s (%d scripts)\n", from, to, len(res.Applied))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Version currently installed")
	cmd.Flags().StringVar(&to, "to", "", "Version to migrate to")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory holding up-<version> and down-<version> scripts")
	cmd.AddCommand(newLocateCmd(root, overrides))
	return cmd
}

func newLocateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var dir, ver string
	var down bool

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Print the migration script for a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ver == "" {
				return fmt.Errorf("--version is required")
			}
			if dir == "" {
				cfg, err := loadConfig(root, overrides)
				if err != nil {
					return err
				}
				dir = cfg.Migrations.Dir
			}
			direction := migrate.Up
			if down {
				direction = migrate.Down
			}
			script, err := migrate.Locate(dir, ver, direction)
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"success":   true,
					"path":      script.Path,
					"version":   script.Version,
					"direction": script.Direction,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), script.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory holding the scripts")
	cmd.Flags().StringVar(&ver, "version", "", "Version the script migrates to (up) or from (down)")
	cmd.Flags().BoolVar(&down, "down", false, "Locate the downgrade script")
	return cmd
}

func newHardwareCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var settings, key string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "hardware",
		Short: "Hardware detection for the monitoring dashboard",
	}
	detect := &cobra.Command{
		Use:   "detect",
		Short: "Detect host hardware and write it into the settings document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			format := cfg.Global.LogFormat
			if root.jsonOutput() {
				format = "json"
			}
			logger := logging.Configure(cfg.Global.LogLevel, format, os.Stderr)
			if settings == "" {
				settings = cfg.Paths.SettingsFile
			}
			if key == "" {
				key = cfg.Hardware.SettingsKey
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Global.OperationTimeout)
			defer cancel()

			facts, err := hardware.NewSystem(logger).Facts(ctx)
			if err != nil {
				return err
			}
			desc := hardware.Build(facts, hardware.Options{
				PrimaryInterface: cfg.Hardware.PrimaryInterface,
				DataMount:        cfg.Hardware.DataMount,
				MinDiskBytes:     cfg.Hardware.MinDiskBytes,
			})
			if !dryRun {
				if err := hardware.WriteSettings(settings, key, desc); err != nil {
					return err
				}
				logger.Info().Str("settings", settings).Str("key", key).Msg("hardware descriptor written")
			}
			return writeJSON(cmd.OutOrStdout(), desc)
		},
	}
	detect.Flags().StringVar(&settings, "settings", "", "Settings document to update")
	detect.Flags().StringVar(&key, "key", "", "Top-level key that holds the descriptor")
	detect.Flags().BoolVar(&dryRun, "dry-run", false, "Print the descriptor without writing it")
	cmd.AddCommand(detect)
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file (.enc)")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "esbackup %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
