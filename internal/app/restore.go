package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/rowjay/esdb-backup/internal/archive"
	"github.com/rowjay/esdb-backup/internal/store"
	"github.com/rowjay/esdb-backup/internal/util"
)

const (
	dirMode  fs.FileMode = 0o755
	fileMode fs.FileMode = 0o644
)

type RestoreOptions struct {
	// File is an archive name in the backup directory or a path to one.
	File string
}

type RestoreResult struct {
	Archive string
	Version string
	Files   int
	// ServerWasRunning records whether the server was stopped for the restore.
	ServerWasRunning bool
	// Degraded is set when the server came back but did not pass its checks.
	Degraded bool
	Warnings []string
	// Snapshot is the rollback snapshot kept after a failed restore.
	Snapshot string
}

func (r *RestoreResult) warn(msg string) {
	r.Degraded = true
	r.Warnings = append(r.Warnings, msg)
}

func (a *App) Restore(ctx context.Context, opts RestoreOptions) (res *RestoreResult, err error) {
	start := a.now()
	out := outcome{op: "restore", message: "restore of event store data", start: start}
	defer func() {
		if res != nil {
			out.archive = res.Archive
			out.version = res.Version
		}
		out.err = err
		a.finish(out)
	}()

	arch, err := a.Store.Resolve(opts.File)
	if err != nil {
		return nil, err
	}
	res = &RestoreResult{Archive: arch.Name, Version: arch.Version}
	dataDir := filepath.Clean(a.Cfg.Paths.DataDir)

	removed, gcErr := GCSnapshots(dataDir, a.Cfg.Restore.SnapshotMaxAge, a.now())
	if gcErr != nil {
		a.Log.Warn().Err(gcErr).Msg("failed to remove old rollback snapshots")
	}
	for _, p := range removed {
		a.Log.Info().Str("snapshot", p).Msg("removed old rollback snapshot")
	}

	wasRunning, err := a.stopServer(ctx)
	if err != nil {
		return res, stepErr("stop server", err)
	}
	res.ServerWasRunning = wasRunning

	rb, err := StageRollback(dataDir, a.now())
	if err != nil {
		// Nothing was touched yet, so bring the server back as it was.
		if wasRunning {
			if _, startErr := a.startServer(ctx); startErr != nil {
				a.Log.Error().Err(startErr).Msg("failed to restart server after aborted restore")
			}
		}
		return res, stepErr("snapshot data directory", err)
	}
	if rb.Active() {
		a.Log.Info().Str("snapshot", rb.Path).Msg("data directory moved aside")
	}
	defer func() {
		if err != nil && rb.Active() {
			res.Snapshot = rb.Path
			a.Log.Error().Str("snapshot", rb.Path).Msg("restore failed, rollback snapshot kept for manual recovery")
		}
	}()

	files, err := a.unpack(ctx, arch, dataDir)
	if err != nil {
		return res, err
	}
	res.Files = files

	if err := a.writeTruncate(dataDir); err != nil {
		return res, err
	}

	if err := normalizeTree(dataDir, a.Cfg.Restore.OwnerUID, a.Cfg.Restore.OwnerGID); err != nil {
		return res, stepErr("fix ownership", err)
	}

	if wasRunning {
		warnings, err := a.startServer(ctx)
		if err != nil {
			return res, err
		}
		for _, w := range warnings {
			res.warn(w)
		}
	}

	if err := rb.Commit(); err != nil {
		a.Log.Warn().Err(err).Msg("failed to remove rollback snapshot")
	}
	a.Log.Info().Str("archive", arch.Name).Int("files", files).Bool("degraded", res.Degraded).Msg("restore complete")
	return res, nil
}

// unpack extracts arch into a private temp dir and copies its top-level
// directory into dataDir.
func (a *App) unpack(ctx context.Context, arch store.Archive, dataDir string) (int, error) {
	tmp, err := os.MkdirTemp(a.tempDir(), "esbackup-restore-")
	if err != nil {
		return 0, stepErr("create extraction directory", err)
	}
	defer func() {
		if rerr := os.RemoveAll(tmp); rerr != nil {
			a.Log.Warn().Err(rerr).Str("dir", tmp).Msg("failed to remove extraction directory")
		}
	}()

	a.Log.Info().Str("archive", arch.Path).Msg("extracting archive")
	stats, err := archive.Extract(ctx, arch.Path, tmp)
	if err != nil {
		return 0, stepErr("extract archive", err)
	}

	top := filepath.Join(tmp, store.BaseName(arch.Name))
	entries, err := os.ReadDir(top)
	if err != nil || len(entries) == 0 {
		return 0, fmt.Errorf("%w: %s has no non-empty %s/", ErrInvalidArchive, arch.Name, store.BaseName(arch.Name))
	}

	if err := copy.Copy(top, dataDir, copy.Options{PreserveTimes: true}); err != nil {
		return 0, stepErr("copy restored data", err)
	}
	return stats.Files, nil
}

// writeTruncate copies the chaser checkpoint over the truncate checkpoint so
// the server truncates to the restored position on start.
func (a *App) writeTruncate(dataDir string) error {
	from := filepath.Join(dataDir, a.Cfg.Restore.TruncateFromFile)
	to := filepath.Join(dataDir, a.Cfg.Restore.TruncateFile)
	info, err := os.Stat(from)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return fmt.Errorf("%w: %s", ErrMissingChaser, a.Cfg.Restore.TruncateFromFile)
	}
	if err != nil {
		return stepErr("read chaser checkpoint", err)
	}
	if err := copy.Copy(from, to); err != nil {
		return stepErr("write truncate checkpoint", err)
	}
	return nil
}

// normalizeTree sets directory and file modes under root and, when running
// as root with a configured owner, chowns everything to it.
func normalizeTree(root string, uid, gid int) error {
	chown := os.Geteuid() == 0 && (uid >= 0 || gid >= 0)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if chown {
			if err := os.Lchown(path, uid, gid); err != nil {
				return err
			}
		}
		mode := fileMode
		if d.IsDir() {
			mode = dirMode
		}
		return os.Chmod(path, mode)
	})
}

// stopServer stops the server if it is running and reports whether it was.
// A server that ignores the graceful stop is killed.
func (a *App) stopServer(ctx context.Context) (bool, error) {
	running, err := a.Server.Running(ctx)
	if err != nil {
		return false, err
	}
	if !running {
		a.Log.Info().Str("service", a.Server.Name()).Msg("server not running")
		return false, nil
	}

	a.Log.Info().Str("service", a.Server.Name()).Dur("timeout", a.Cfg.Server.StopTimeout).Msg("stopping server")
	stopped, err := a.Server.Stop(ctx, a.Cfg.Server.StopTimeout)
	if err == nil && stopped {
		return true, nil
	}
	a.Log.Warn().Err(err).Str("service", a.Server.Name()).Msg("server did not stop in time, killing it")
	if kerr := a.Server.Kill(ctx); kerr != nil {
		return true, fmt.Errorf("kill server: %w", kerr)
	}
	return true, nil
}

// startServer starts the server and waits for it to report healthy. A server
// that is running but unhealthy, or whose diagnostics fail, yields warnings. A
// server that is not running at all is an error.
func (a *App) startServer(ctx context.Context) ([]string, error) {
	a.Log.Info().Str("service", a.Server.Name()).Msg("starting server")
	if err := a.Server.Start(ctx); err != nil {
		return nil, stepErr("start server", err)
	}

	healthy := util.Poll(ctx, a.Cfg.Server.HealthInterval, a.Cfg.Server.HealthTimeout, func() bool {
		return a.Server.Healthy(ctx)
	})
	if !healthy {
		running, err := a.Server.Running(ctx)
		if err != nil || !running {
			return nil, ErrServerNotRunning
		}
		msg := fmt.Sprintf("server is running but not healthy after %s", a.Cfg.Server.HealthTimeout)
		a.Log.Warn().Msg(msg)
		return []string{msg}, nil
	}

	if err := a.Server.Diagnostics(ctx); err != nil {
		msg := fmt.Sprintf("diagnostics endpoint unavailable: %v", err)
		a.Log.Warn().Msg(msg)
		return []string{msg}, nil
	}
	return nil, nil
}
