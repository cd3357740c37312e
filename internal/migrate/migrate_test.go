package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/esdb-backup/internal/app"
)

func writeScripts(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	}
}

func versions(scripts []Script) []string {
	out := make([]string, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, string(s.Direction)+"-"+s.Version)
	}
	return out
}

func TestCanonical(t *testing.T) {
	v, err := Canonical("24.10.0")
	require.NoError(t, err)
	require.Equal(t, "v24.10.0", v)
	v, err = Canonical("v23.10")
	require.NoError(t, err)
	require.Equal(t, "v23.10.0", v)
	_, err = Canonical("latest")
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeScripts(t, dir, "up-24.10.0", "down-24.10.0", "up-v23.10.0.sh", "down-23.10.0.sh", "up-25.2.0", "README", "up-next")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "up-26.0.0"), 0o755))

	scripts, err := Discover(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		"up-v23.10.0", "down-v23.10.0",
		"up-v24.10.0", "down-v24.10.0",
		"up-v25.2.0",
	}, versions(scripts))

	s, err := Locate(dir, "23.10.0", Down)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "down-23.10.0.sh"), s.Path)
	_, err = Locate(dir, "25.2.0", Down)
	require.ErrorIs(t, err, ErrScriptNotFound)

	none, err := Discover(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	writeScripts(t, dir, "up-23.10.0", "down-23.10.0", "up-24.10.0", "down-24.10.0", "up-25.2.0", "down-25.2.0")
	scripts, err := Discover(dir)
	require.NoError(t, err)

	d, plan, err := Plan(scripts, "23.10.0", "25.2.0")
	require.NoError(t, err)
	require.Equal(t, Up, d)
	require.Equal(t, []string{"up-v24.10.0", "up-v25.2.0"}, versions(plan))

	d, plan, err = Plan(scripts, "25.2.0", "23.10.0")
	require.NoError(t, err)
	require.Equal(t, Down, d)
	require.Equal(t, []string{"down-v25.2.0", "down-v24.10.0"}, versions(plan))

	_, plan, err = Plan(scripts, "24.10.0", "24.10.0")
	require.NoError(t, err)
	require.Empty(t, plan)

	_, _, err = Plan(scripts, "old", "24.10.0")
	require.ErrorIs(t, err, ErrInvalidVersion)
}

type fakeEngine struct {
	backups  []string
	restores []string
	reports  []error
	skip     bool
}

func (f *fakeEngine) Backup(_ context.Context, opts app.BackupOptions) (*app.BackupResult, error) {
	f.backups = append(f.backups, opts.Version)
	if f.skip {
		return &app.BackupResult{Skipped: true}, nil
	}
	return &app.BackupResult{Name: "backup-20250101-120000.tar.gz", Path: "/backups/backup-20250101-120000.tar.gz"}, nil
}

func (f *fakeEngine) Restore(_ context.Context, opts app.RestoreOptions) (*app.RestoreResult, error) {
	f.restores = append(f.restores, opts.File)
	return &app.RestoreResult{}, nil
}

func (f *fakeEngine) Report(_, _, _, _ string, _ time.Time, err error) {
	f.reports = append(f.reports, err)
}

func newTestRunner(t *testing.T, engine Engine, failOn string) (*Runner, *[]string) {
	t.Helper()
	dir := t.TempDir()
	writeScripts(t, dir, "up-23.10.0", "down-23.10.0", "up-24.10.0", "down-24.10.0", "up-25.2.0", "down-25.2.0")
	ran := &[]string{}
	r := NewRunner(dir, "/data", time.Minute, engine, zerolog.Nop())
	r.exec = func(_ context.Context, s Script, env map[string]string) error {
		*ran = append(*ran, filepath.Base(s.Path)+"@"+env["ESB_SCRIPT_VERSION"])
		if filepath.Base(s.Path) == failOn {
			return errors.New("exit status 1")
		}
		return nil
	}
	return r, ran
}

func TestRunUpgrade(t *testing.T) {
	engine := &fakeEngine{}
	r, ran := newTestRunner(t, engine, "")

	res, err := r.Run(context.Background(), "23.10.0", "25.2.0")
	require.NoError(t, err)
	require.Equal(t, Up, res.Direction)
	require.Equal(t, []string{"v24.10.0", "v25.2.0"}, res.Applied)
	require.Equal(t, "backup-20250101-120000.tar.gz", res.Backup)
	require.Equal(t, []string{"23.10.0"}, engine.backups)
	require.Equal(t, []string{"up-24.10.0@24.10.0", "up-25.2.0@25.2.0"}, *ran)
	require.Empty(t, engine.restores)
	require.Equal(t, []error{nil}, engine.reports)
}

func TestRunUpgradeFailureRollsBack(t *testing.T) {
	engine := &fakeEngine{}
	r, ran := newTestRunner(t, engine, "up-25.2.0")

	res, err := r.Run(context.Background(), "23.10.0", "25.2.0")
	require.Error(t, err)
	require.True(t, res.RolledBack)
	require.Equal(t, []string{"v24.10.0"}, res.Applied)
	require.Equal(t, []string{
		"up-24.10.0@24.10.0",
		"up-25.2.0@25.2.0",
		"down-25.2.0@25.2.0",
		"down-24.10.0@24.10.0",
	}, *ran)
	require.Equal(t, []string{"/backups/backup-20250101-120000.tar.gz"}, engine.restores)
	require.Len(t, engine.reports, 1)
	require.Error(t, engine.reports[0])
}

func TestRunDowngradeTakesNoBackup(t *testing.T) {
	engine := &fakeEngine{}
	r, ran := newTestRunner(t, engine, "")

	res, err := r.Run(context.Background(), "25.2.0", "23.10.0")
	require.NoError(t, err)
	require.Equal(t, Down, res.Direction)
	require.Empty(t, engine.backups)
	require.Equal(t, []string{"down-25.2.0@25.2.0", "down-24.10.0@24.10.0"}, *ran)
}

func TestRunSkippedBackupIsNotRestored(t *testing.T) {
	engine := &fakeEngine{skip: true}
	r, _ := newTestRunner(t, engine, "up-24.10.0")

	_, err := r.Run(context.Background(), "23.10.0", "24.10.0")
	require.Error(t, err)
	require.Empty(t, engine.restores)
}

func TestRunScriptEnvironment(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "env.txt")
	body := "#!/bin/sh\necho \"$ESB_FROM_VERSION $ESB_TO_VERSION $ESB_SCRIPT_VERSION $ESB_DATA_DIR\" > " + out + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "down-24.10.0"), []byte(body), 0o755))

	r := NewRunner(dir, "/srv/data", time.Minute, &fakeEngine{}, zerolog.Nop())
	_, err := r.Run(context.Background(), "24.10.0", "23.10.0")
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "24.10.0 23.10.0 24.10.0 /srv/data", strings.TrimSpace(string(got)))
}

func TestRunScriptFailureIncludesOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "down-24.10.0"), []byte("#!/bin/sh\necho schema mismatch >&2\nexit 3\n"), 0o755))

	r := NewRunner(dir, "/srv/data", time.Minute, &fakeEngine{}, zerolog.Nop())
	_, err := r.Run(context.Background(), "24.10.0", "23.10.0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema mismatch")
}
