package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/esdb-backup/internal/config"
	"github.com/rowjay/esdb-backup/internal/journal"
	"github.com/rowjay/esdb-backup/internal/lock"
	"github.com/rowjay/esdb-backup/internal/notify"
	"github.com/rowjay/esdb-backup/internal/server"
	"github.com/rowjay/esdb-backup/internal/storage"
	"github.com/rowjay/esdb-backup/internal/store"
)

var (
	// ErrAlreadyRunning is returned when another live backup holds the lock.
	ErrAlreadyRunning = lock.ErrAlreadyRunning
	// ErrNoDatabaseFiles means the data directory holds no checkpoint, chunk or index.
	ErrNoDatabaseFiles = errors.New("data directory contains no database files")
	// ErrEmptyStaging means every copy category came up empty.
	ErrEmptyStaging = errors.New("no database files were copied into the staging area")
	// ErrArchiveExists guards against two backups within the same second.
	ErrArchiveExists = errors.New("archive already exists")
	// ErrInvalidArchive means the archive lacks its top-level directory or it is empty.
	ErrInvalidArchive = errors.New("archive does not contain the expected top-level directory")
	// ErrMissingChaser means the archive cannot be restored for this database.
	ErrMissingChaser = errors.New("archive is missing the chaser checkpoint")
	// ErrServerNotRunning is returned when the server did not come back after restore.
	ErrServerNotRunning = errors.New("server is not running after restart")
	// ErrOffsiteDisabled is returned by offsite operations without an offsite store.
	ErrOffsiteDisabled = errors.New("offsite replication is not configured")
)

// StepError names the step of a workflow that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

type App struct {
	Cfg      *config.Config
	Server   server.Controller
	Store    *store.Store
	Log      zerolog.Logger
	Notifier notify.Notifier

	// Offsite is nil unless offsite replication is enabled.
	Offsite storage.Storage
	// Journal is optional.
	Journal *journal.Journal
	// Now is the clock used for archive names, retention and snapshot ages.
	Now func() time.Time
}

func New(cfg *config.Config, srv server.Controller, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{
		Cfg:      cfg,
		Server:   srv,
		Store:    store.New(cfg.Paths.BackupDir),
		Log:      log,
		Notifier: notifier,
		Now:      time.Now,
	}
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *App) tempDir() string {
	if a.Cfg.Paths.TempDir != "" {
		return a.Cfg.Paths.TempDir
	}
	return os.TempDir()
}

// outcome is what finish records about one operation.
type outcome struct {
	op      string
	message string
	archive string
	version string
	start   time.Time
	err     error
}

// finish journals and announces the result of an operation. Neither step
// can fail the operation itself.
func (a *App) finish(o outcome) {
	ended := a.now()
	status := statusFromErr(o.err)
	errMsg := ""
	if o.err != nil {
		errMsg = o.err.Error()
	}

	if a.Journal != nil {
		_, jerr := a.Journal.Record(journal.Entry{
			Operation: o.op,
			Status:    status,
			Archive:   o.archive,
			Version:   o.version,
			Error:     errMsg,
			StartedAt: o.start,
			EndedAt:   ended,
		})
		if jerr != nil {
			a.Log.Warn().Err(jerr).Msg("failed to record journal entry")
		}
	}

	if a.Notifier == nil {
		return
	}
	host, _ := os.Hostname()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Notifier.Notify(ctx, notify.Event{
		Type:      o.op,
		Message:   o.message,
		Status:    status,
		Host:      host,
		Archive:   o.archive,
		Version:   o.version,
		StartedAt: o.start,
		EndedAt:   ended,
		Duration:  ended.Sub(o.start).String(),
		Error:     errMsg,
	}); err != nil {
		a.Log.Warn().Err(err).Str("operation", o.op).Msg("notification failed")
	}
}

func statusFromErr(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}

// Report journals and announces an operation driven from outside this
// package, such as a migration.
func (a *App) Report(op, message, archive, version string, start time.Time, err error) {
	a.finish(outcome{op: op, message: message, archive: archive, version: version, start: start, err: err})
}
