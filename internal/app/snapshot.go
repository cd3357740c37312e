package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rowjay/esdb-backup/internal/datadir"
	"github.com/rowjay/esdb-backup/internal/store"
)

const snapshotInfix = ".bak."

// Snapshot is a rollback copy of the data directory left next to it.
type Snapshot struct {
	Path    string
	Created time.Time
}

// Rollback is a two-phase snapshot of the data directory taken before a
// restore. Stage moves the live directory aside; Commit discards it once the
// restore succeeded. An uncommitted rollback stays on disk for manual recovery.
type Rollback struct {
	DataDir string
	// Path is empty when there was nothing to snapshot.
	Path string
}

// StageRollback renames a non-empty dataDir to <dataDir>.bak.<stamp> and
// recreates dataDir empty with the same permissions.
func StageRollback(dataDir string, now time.Time) (*Rollback, error) {
	dataDir = filepath.Clean(dataDir)
	rb := &Rollback{DataDir: dataDir}

	empty, err := datadir.IsEmpty(dataDir)
	if err != nil {
		return nil, err
	}
	if empty {
		return rb, os.MkdirAll(dataDir, 0o755)
	}

	info, err := os.Stat(dataDir)
	if err != nil {
		return nil, err
	}
	target := dataDir + snapshotInfix + store.Stamp(now)
	if _, err := os.Lstat(target); err == nil {
		return nil, fmt.Errorf("rollback snapshot %s already exists", target)
	}
	if err := os.Rename(dataDir, target); err != nil {
		return nil, fmt.Errorf("move data directory aside: %w", err)
	}
	if err := os.Mkdir(dataDir, info.Mode().Perm()); err != nil {
		if rerr := os.Rename(target, dataDir); rerr != nil {
			return nil, fmt.Errorf("recreate data directory: %w (snapshot left at %s: %v)", err, target, rerr)
		}
		return nil, fmt.Errorf("recreate data directory: %w", err)
	}
	rb.Path = target
	return rb, nil
}

// Active reports whether a snapshot is still held.
func (r *Rollback) Active() bool {
	return r != nil && r.Path != ""
}

// Commit deletes the snapshot.
func (r *Rollback) Commit() error {
	if !r.Active() {
		return nil
	}
	if err := os.RemoveAll(r.Path); err != nil {
		return fmt.Errorf("remove rollback snapshot: %w", err)
	}
	r.Path = ""
	return nil
}

// ListSnapshots returns the rollback snapshots of dataDir, oldest first.
// The creation time comes from the name, or the modification time when the
// suffix does not parse.
func ListSnapshots(dataDir string) ([]Snapshot, error) {
	dataDir = filepath.Clean(dataDir)
	parent := filepath.Dir(dataDir)
	prefix := filepath.Base(dataDir) + snapshotInfix

	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snaps []Snapshot
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		created, perr := store.ParseStamp(strings.TrimPrefix(e.Name(), prefix))
		if perr != nil {
			info, ierr := e.Info()
			if ierr != nil {
				continue
			}
			created = info.ModTime()
		}
		snaps = append(snaps, Snapshot{Path: filepath.Join(parent, e.Name()), Created: created})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Created.Before(snaps[j].Created) })
	return snaps, nil
}

// GCSnapshots removes rollback snapshots older than maxAge.
func GCSnapshots(dataDir string, maxAge time.Duration, now time.Time) ([]string, error) {
	snaps, err := ListSnapshots(dataDir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, s := range snaps {
		if now.Sub(s.Created) <= maxAge {
			continue
		}
		if err := os.RemoveAll(s.Path); err != nil {
			return removed, fmt.Errorf("remove snapshot %s: %w", s.Path, err)
		}
		removed = append(removed, s.Path)
	}
	return removed, nil
}
