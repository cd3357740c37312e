package app

import (
	"context"
	"fmt"

	"github.com/rowjay/esdb-backup/internal/datadir"
	"github.com/rowjay/esdb-backup/internal/lock"
)

type CleanupTarget string

const (
	CleanupData CleanupTarget = "data"
	CleanupLogs CleanupTarget = "logs"
	CleanupAll  CleanupTarget = "all"
)

// ParseCleanupTarget accepts data, logs or all; empty means all.
func ParseCleanupTarget(s string) (CleanupTarget, error) {
	switch CleanupTarget(s) {
	case "":
		return CleanupAll, nil
	case CleanupData, CleanupLogs, CleanupAll:
		return CleanupTarget(s), nil
	}
	return "", fmt.Errorf("unknown cleanup target %q (want data, logs or all)", s)
}

func (t CleanupTarget) data() bool { return t == CleanupData || t == CleanupAll }
func (t CleanupTarget) logs() bool { return t == CleanupLogs || t == CleanupAll }

type CleanupOptions struct {
	Target CleanupTarget
	// Backup takes a backup first and aborts the cleanup if it fails.
	Backup bool
	// Restart starts the server afterwards.
	Restart bool
}

type CleanupResult struct {
	Backup           *BackupResult
	RemovedData      int
	RemovedLogs      int
	ServerWasRunning bool
	Restarted        bool
	Degraded         bool
	Warnings         []string
}

func (a *App) Cleanup(ctx context.Context, opts CleanupOptions) (res *CleanupResult, err error) {
	start := a.now()
	out := outcome{op: "cleanup", message: fmt.Sprintf("cleanup of %s", opts.Target), start: start}
	defer func() {
		if res != nil && res.Backup != nil {
			out.archive = res.Backup.Name
		}
		out.err = err
		a.finish(out)
	}()

	if opts.Target == "" {
		opts.Target = CleanupAll
	}
	res = &CleanupResult{}

	if opts.Backup {
		b, err := a.Backup(ctx, BackupOptions{})
		if err != nil {
			return res, stepErr("backup before cleanup", err)
		}
		res.Backup = b
	}

	guard, err := lock.Acquire(a.Cfg.Global.LockFile, a.Log)
	if err != nil {
		return res, err
	}
	defer func() {
		if rerr := guard.Release(); rerr != nil {
			a.Log.Warn().Err(rerr).Msg("failed to release lock")
		}
	}()

	if opts.Target.data() || opts.Restart {
		wasRunning, err := a.stopServer(ctx)
		if err != nil {
			return res, stepErr("stop server", err)
		}
		res.ServerWasRunning = wasRunning
	}

	if opts.Target.data() {
		n, err := datadir.Clear(a.Cfg.Paths.DataDir)
		if err != nil {
			return res, stepErr("clear data directory", err)
		}
		res.RemovedData = n
		a.Log.Info().Str("dir", a.Cfg.Paths.DataDir).Int("entries", n).Msg("data directory cleared")
	}
	if opts.Target.logs() {
		n, err := datadir.Clear(a.Cfg.Paths.LogsDir)
		if err != nil {
			return res, stepErr("clear logs directory", err)
		}
		res.RemovedLogs = n
		a.Log.Info().Str("dir", a.Cfg.Paths.LogsDir).Int("entries", n).Msg("logs directory cleared")
	}

	if opts.Restart {
		warnings, err := a.startServer(ctx)
		if err != nil {
			return res, err
		}
		res.Restarted = true
		res.Degraded = len(warnings) > 0
		res.Warnings = warnings
	}
	return res, nil
}
