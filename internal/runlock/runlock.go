// Package runlock guards a data directory against concurrent sync runs with
// a PID lock file.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the lock file created inside the data directory.
const FileName = ".qasync.lock"

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("sync already running")

// Lock is a PID lock file.
type Lock struct {
	Path string
	held bool
}

// New returns a Lock for the data directory dir.
func New(dir string) *Lock {
	return &Lock{Path: filepath.Join(dir, FileName)}
}

// Acquire creates the lock file holding the current PID. A lock left by a
// process that is no longer alive is reclaimed.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(os.Getpid())
		if err == nil {
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}
		pid, running := l.Holder()
		if running {
			return fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, pid, l.Path)
		}
		if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return fmt.Errorf("%w (lock %s)", ErrLocked, l.Path)
}

func (l *Lock) create(pid int) error {
	f, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read returns the PID stored in the lock file.
func (l *Lock) Read() (int, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid lock file content: %w", err)
	}
	return pid, nil
}

// Holder returns the PID in the lock file and whether that process is
// alive. An unreadable lock counts as not running.
func (l *Lock) Holder() (int, bool) {
	pid, err := l.Read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Release removes the lock file if this Lock acquired it.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
