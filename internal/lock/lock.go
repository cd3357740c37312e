package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrAlreadyRunning is returned when a live process holds the lock.
var ErrAlreadyRunning = errors.New("backup already running")

type Lock struct {
	path string
	file *flock.Flock
}

// Holder describes the process named in a lock file.
type Holder struct {
	PID   int
	Alive bool
}

// Acquire takes the lock at path for the current process. The advisory lock
// is taken first; the PID file is only trusted once it is held. A file naming
// a live process still blocks, since writers of plain PID files do not flock.
// Anything else in it is stale and gets overwritten.
func Acquire(path string, log zerolog.Logger) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "esbackup.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		if holder, _ := Inspect(path); holder != nil && holder.PID > 0 {
			return nil, fmt.Errorf("%w (pid=%d, lock=%s)", ErrAlreadyRunning, holder.PID, path)
		}
		return nil, fmt.Errorf("%w (lock: %s)", ErrAlreadyRunning, path)
	}

	holder, err := Inspect(path)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	if holder != nil {
		if holder.Alive {
			_ = fl.Unlock()
			return nil, fmt.Errorf("%w (pid=%d, lock=%s)", ErrAlreadyRunning, holder.PID, path)
		}
		if holder.PID > 0 {
			log.Warn().Int("pid", holder.PID).Str("lock", path).Msg("replacing stale lock")
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write lock: %w", err)
	}
	return &Lock{path: path, file: fl}, nil
}

// Inspect reads the lock file at path. It returns nil when there is no lock
// file. Empty or unparseable content is reported as a holder with PID 0.
func Inspect(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return &Holder{}, nil
	}
	return &Holder{PID: pid, Alive: alive(pid)}, nil
}

func alive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Release removes the lock file and frees the advisory lock. Safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	rmErr := os.Remove(l.path)
	if os.IsNotExist(rmErr) {
		rmErr = nil
	}
	err := l.file.Unlock()
	l.file = nil
	if err != nil {
		return err
	}
	return rmErr
}
