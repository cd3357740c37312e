package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/otiai10/copy"

	"github.com/rowjay/esdb-backup/internal/archive"
	"github.com/rowjay/esdb-backup/internal/datadir"
	"github.com/rowjay/esdb-backup/internal/lock"
	"github.com/rowjay/esdb-backup/internal/store"
)

type BackupOptions struct {
	// Version is recorded in the archive's sidecar when set.
	Version string
}

type BackupResult struct {
	// Path is empty when the backup was skipped.
	Path    string
	Name    string
	Skipped bool
	Size    int64
	Version string
	Files   int
	Pruned  []string
	// OffsiteKey is set when the archive was replicated.
	OffsiteKey string
}

func (a *App) Backup(ctx context.Context, opts BackupOptions) (res *BackupResult, err error) {
	start := a.now()
	out := outcome{op: "backup", message: "backup of event store data", version: opts.Version, start: start}
	defer func() {
		if res != nil && res.Skipped {
			return
		}
		if res != nil {
			out.archive = res.Name
		}
		out.err = err
		a.finish(out)
	}()

	dataDir := a.Cfg.Paths.DataDir
	fresh, err := datadir.IsFreshInstall(dataDir)
	if err != nil {
		return nil, stepErr("inspect data directory", err)
	}
	if fresh {
		a.Log.Info().Str("data_dir", dataDir).Msg("fresh install detected, skipping backup")
		return &BackupResult{Skipped: true}, nil
	}

	guard, err := lock.Acquire(a.Cfg.Global.LockFile, a.Log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := guard.Release(); rerr != nil {
			a.Log.Warn().Err(rerr).Msg("failed to release lock")
		}
	}()

	ok, err := datadir.HasArtifacts(dataDir)
	if err != nil {
		return nil, stepErr("inspect data directory", err)
	}
	if !ok {
		return nil, ErrNoDatabaseFiles
	}

	if err := a.Store.Ensure(); err != nil {
		return nil, err
	}
	name := store.ArchiveName(a.now())
	final := a.Store.Path(name)
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveExists, final)
	}

	stageRoot, err := os.MkdirTemp(a.tempDir(), "esbackup-stage-")
	if err != nil {
		return nil, stepErr("create staging directory", err)
	}
	defer func() {
		if rerr := os.RemoveAll(stageRoot); rerr != nil {
			a.Log.Warn().Err(rerr).Str("dir", stageRoot).Msg("failed to remove staging directory")
		}
	}()
	stage := filepath.Join(stageRoot, store.BaseName(name))
	if err := os.Mkdir(stage, 0o755); err != nil {
		return nil, stepErr("create staging directory", err)
	}

	copied, err := a.stageData(ctx, dataDir, stage)
	if err != nil {
		return nil, stepErr("copy database files", err)
	}
	if copied == 0 {
		return nil, ErrEmptyStaging
	}

	a.Log.Info().Str("archive", final).Int("files", copied).Msg("compressing archive")
	stats, err := archive.CreateAtomic(ctx, stage, final, a.Cfg.Backup.CompressionLevel)
	if err != nil {
		return nil, stepErr("compress archive", err)
	}
	info, err := os.Stat(final)
	if err != nil {
		return nil, stepErr("compress archive", err)
	}

	res = &BackupResult{
		Path:    final,
		Name:    name,
		Size:    info.Size(),
		Version: strings.TrimSpace(opts.Version),
		Files:   stats.Files,
	}
	if res.Version != "" {
		if err := a.Store.WriteVersion(name, res.Version); err != nil {
			a.Log.Warn().Err(err).Str("archive", name).Msg("failed to write version file")
		}
	}

	pruned, err := a.Store.Prune(a.now(), a.Cfg.Backup.RetentionDays)
	if err != nil {
		a.Log.Warn().Err(err).Msg("failed to prune old backups")
	}
	for _, p := range pruned {
		a.Log.Info().Str("archive", p.Name).Msg("pruned old backup")
		res.Pruned = append(res.Pruned, p.Name)
	}

	if a.Offsite != nil {
		arch, serr := a.Store.Stat(name)
		if serr == nil {
			key, rerr := a.replicate(ctx, arch)
			if rerr != nil {
				a.Log.Warn().Err(rerr).Str("archive", name).Msg("offsite replication failed")
			} else {
				res.OffsiteKey = key
			}
		}
	}

	a.Log.Info().Str("archive", final).Str("size", humanize.IBytes(uint64(res.Size))).Int("files", stats.Files).Msg("backup complete")
	return res, nil
}

// stageData copies the data directory into stage in an order that keeps the
// copy consistent while the server keeps writing: index checkpoints first, the
// rest of the index, then the top-level checkpoints and finally the chunks.
// It returns the number of files copied.
func (a *App) stageData(ctx context.Context, dataDir, stage string) (int, error) {
	inv, err := datadir.Scan(dataDir)
	if err != nil {
		return 0, err
	}

	total := 0
	srcIndex := filepath.Join(dataDir, datadir.IndexDir)
	dstIndex := filepath.Join(stage, datadir.IndexDir)

	categories := []struct {
		name string
		run  func() (int, error)
	}{
		{"index checkpoints", func() (int, error) {
			if !inv.HasIndex {
				return 0, nil
			}
			return copyTree(ctx, srcIndex, dstIndex, isCheckpoint)
		}},
		{"index files", func() (int, error) {
			if !inv.HasIndex {
				return 0, nil
			}
			return copyTree(ctx, srcIndex, dstIndex, func(name string) bool { return !isCheckpoint(name) })
		}},
		{"checkpoints", func() (int, error) {
			return copyFiles(ctx, dataDir, stage, inv.Checkpoints)
		}},
		{"chunks", func() (int, error) {
			return copyFiles(ctx, dataDir, stage, inv.Chunks)
		}},
	}

	for _, c := range categories {
		n, err := c.run()
		if err != nil {
			return total, fmt.Errorf("%s: %w", c.name, err)
		}
		if n == 0 {
			a.Log.Warn().Str("category", c.name).Msg("no files found, skipping")
			continue
		}
		a.Log.Debug().Str("category", c.name).Int("files", n).Msg("staged")
		total += n
	}
	return total, nil
}

func isCheckpoint(name string) bool {
	return strings.HasSuffix(name, ".chk")
}

// copyTree merges the regular files of src accepted by keep into dst.
func copyTree(ctx context.Context, src, dst string, keep func(name string) bool) (int, error) {
	count := 0
	err := copy.Copy(src, dst, copy.Options{
		Skip: func(info os.FileInfo, _, _ string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return true, err
			}
			if info.IsDir() {
				return false, nil
			}
			if !info.Mode().IsRegular() || !keep(info.Name()) {
				return true, nil
			}
			count++
			return false, nil
		},
		PreserveTimes: true,
	})
	if errors.Is(err, fs.ErrNotExist) {
		return count, nil
	}
	return count, err
}

// copyFiles copies the named top-level files. A file that disappeared since
// the scan is skipped.
func copyFiles(ctx context.Context, srcDir, dstDir string, names []string) (int, error) {
	count := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		err := copy.Copy(filepath.Join(srcDir, name), filepath.Join(dstDir, name), copy.Options{PreserveTimes: true})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
