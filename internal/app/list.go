package app

import (
	"context"

	"github.com/rowjay/esdb-backup/internal/datadir"
	"github.com/rowjay/esdb-backup/internal/journal"
	"github.com/rowjay/esdb-backup/internal/lock"
	"github.com/rowjay/esdb-backup/internal/store"
)

type ListResult struct {
	Archives []store.Archive
	Summary  store.Summary
}

// List returns the local archives, newest first.
func (a *App) List(_ context.Context) (*ListResult, error) {
	archives, err := a.Store.List()
	if err != nil {
		return nil, err
	}
	return &ListResult{Archives: archives, Summary: store.Summarize(archives)}, nil
}

type StatusReport struct {
	DataDir   string
	Fresh     bool
	Inventory datadir.Inventory

	Service       string
	ServerRunning bool
	ServerHealthy bool
	ServerError   string

	// Lock is nil when no lock file exists.
	Lock *lock.Holder

	Archives  store.Summary
	Latest    *store.Archive
	Snapshots []Snapshot
	Recent    []journal.Entry
	// LastBackup is the newest journaled backup attempt, failed or not.
	LastBackup *journal.Entry
}

// Status gathers a read-only view of the installation. Probe failures are
// reported in the result rather than failing the call.
func (a *App) Status(ctx context.Context) (*StatusReport, error) {
	rep := &StatusReport{DataDir: a.Cfg.Paths.DataDir}

	inv, err := datadir.Scan(a.Cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}
	rep.Inventory = inv
	rep.Fresh = !inv.HasArtifacts()

	if a.Server != nil {
		rep.Service = a.Server.Name()
		running, err := a.Server.Running(ctx)
		if err != nil {
			rep.ServerError = err.Error()
		}
		rep.ServerRunning = running
		if running {
			rep.ServerHealthy = a.Server.Healthy(ctx)
		}
	}

	holder, err := lock.Inspect(a.Cfg.Global.LockFile)
	if err != nil {
		a.Log.Warn().Err(err).Msg("failed to read lock file")
	}
	rep.Lock = holder

	archives, err := a.Store.List()
	if err != nil {
		return nil, err
	}
	rep.Archives = store.Summarize(archives)
	if len(archives) > 0 {
		latest := archives[0]
		rep.Latest = &latest
	}

	snaps, err := ListSnapshots(a.Cfg.Paths.DataDir)
	if err != nil {
		a.Log.Warn().Err(err).Msg("failed to list rollback snapshots")
	}
	rep.Snapshots = snaps

	if a.Journal != nil {
		recent, err := a.Journal.Recent(5)
		if err != nil {
			a.Log.Warn().Err(err).Msg("failed to read journal")
		}
		rep.Recent = recent

		last, err := a.Journal.Last("backup")
		if err != nil {
			a.Log.Warn().Err(err).Msg("failed to read last backup from journal")
		}
		rep.LastBackup = last
	}
	return rep, nil
}
