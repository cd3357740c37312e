package migrate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/esdb-backup/internal/app"
	"github.com/rowjay/esdb-backup/internal/util"
)

// Engine is the part of the application a migration needs.
type Engine interface {
	Backup(ctx context.Context, opts app.BackupOptions) (*app.BackupResult, error)
	Restore(ctx context.Context, opts app.RestoreOptions) (*app.RestoreResult, error)
	Report(op, message, archive, version string, start time.Time, err error)
}

type Runner struct {
	Dir     string
	DataDir string
	// Timeout bounds each script; zero means no limit beyond ctx.
	Timeout time.Duration
	Engine  Engine
	Log     zerolog.Logger

	// exec runs one script; tests replace it.
	exec func(ctx context.Context, s Script, env map[string]string) error
}

func NewRunner(dir, dataDir string, timeout time.Duration, engine Engine, log zerolog.Logger) *Runner {
	return &Runner{Dir: dir, DataDir: dataDir, Timeout: timeout, Engine: engine, Log: log}
}

type Result struct {
	From      string
	To        string
	Direction Direction
	Applied   []string
	// Backup is the archive taken before an upgrade.
	Backup     string
	RolledBack bool
}

// Run migrates from one version to another. An upgrade is preceded by a
// backup tagged with from; when a step fails the down scripts of the applied
// steps, the failed one included, run in reverse and that backup is restored.
func (r *Runner) Run(ctx context.Context, from, to string) (res *Result, err error) {
	start := time.Now()
	res = &Result{From: from, To: to}
	defer func() {
		if r.Engine != nil {
			r.Engine.Report("migrate", fmt.Sprintf("migration %s -> %s", from, to), res.Backup, to, start, err)
		}
	}()

	scripts, err := Discover(r.Dir)
	if err != nil {
		return res, err
	}
	direction, plan, err := Plan(scripts, from, to)
	if err != nil {
		return res, err
	}
	res.Direction = direction
	if len(plan) == 0 {
		r.Log.Info().Str("from", from).Str("to", to).Msg("no migration scripts to run")
		return res, nil
	}

	var backupPath string
	if direction == Up {
		b, err := r.Engine.Backup(ctx, app.BackupOptions{Version: from})
		if err != nil {
			return res, fmt.Errorf("pre-migration backup: %w", err)
		}
		if !b.Skipped {
			res.Backup = b.Name
			backupPath = b.Path
		}
	}

	env := map[string]string{
		"ESB_FROM_VERSION": from,
		"ESB_TO_VERSION":   to,
		"ESB_DATA_DIR":     r.DataDir,
	}
	for i, s := range plan {
		r.Log.Info().Str("script", s.Path).Str("version", s.Version).Msg("running migration script")
		if err := r.runScript(ctx, s, env); err != nil {
			if direction == Up {
				r.rollback(ctx, scripts, plan[:i+1], env, backupPath)
				res.RolledBack = true
			}
			return res, fmt.Errorf("%s-%s: %w", s.Direction, strings.TrimPrefix(s.Version, "v"), err)
		}
		res.Applied = append(res.Applied, s.Version)
	}
	r.Log.Info().Str("from", from).Str("to", to).Int("scripts", len(res.Applied)).Msg("migration complete")
	return res, nil
}

// rollback runs the down script of each attempted step in reverse order and
// restores the pre-migration archive. Failures are logged; the original error
// is what the caller reports.
func (r *Runner) rollback(ctx context.Context, scripts, attempted []Script, env map[string]string, backupPath string) {
	for i := len(attempted) - 1; i >= 0; i-- {
		down, err := find(scripts, attempted[i].Version, Down)
		if err != nil {
			r.Log.Warn().Str("version", attempted[i].Version).Msg("no down script, skipping")
			continue
		}
		if err := r.runScript(ctx, down, env); err != nil {
			r.Log.Error().Err(err).Str("script", down.Path).Msg("rollback script failed")
		}
	}
	if backupPath == "" {
		r.Log.Warn().Msg("no pre-migration backup to restore")
		return
	}
	if _, err := r.Engine.Restore(ctx, app.RestoreOptions{File: backupPath}); err != nil {
		r.Log.Error().Err(err).Str("archive", backupPath).Msg("restoring pre-migration backup failed")
	}
}

func (r *Runner) runScript(ctx context.Context, s Script, env map[string]string) error {
	scriptEnv := make(map[string]string, len(env)+1)
	for k, v := range env {
		scriptEnv[k] = v
	}
	scriptEnv["ESB_SCRIPT_VERSION"] = strings.TrimPrefix(s.Version, "v")

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	if r.exec != nil {
		return r.exec(ctx, s, scriptEnv)
	}

	var output bytes.Buffer
	cmd := util.Command(ctx, s.Path, nil, scriptEnv)
	cmd.Dir = r.Dir
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, tail(output.String(), 512))
	}
	r.Log.Debug().Str("script", s.Path).Str("output", output.String()).Msg("migration script finished")
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
