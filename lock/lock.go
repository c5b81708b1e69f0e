// Package lock keeps two trailguard processes from driving the same
// trailing state at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// ErrHeld is returned when another live process owns the lock.
var ErrHeld = errors.New("lock: held by another process")

// Lock is a held guard.
type Lock interface {
	Release() error
}

// heldFiles are the lock paths this process currently owns. A pid file
// naming our own pid that is not in here was left by an earlier process
// that happened to get the same pid, as pid 1 in a restarted container does.
var heldFiles = struct {
	sync.Mutex
	paths map[string]bool
}{paths: make(map[string]bool)}

func holding(path string) bool {
	heldFiles.Lock()
	defer heldFiles.Unlock()
	return heldFiles.paths[path]
}

func setHolding(path string, on bool) {
	heldFiles.Lock()
	defer heldFiles.Unlock()
	if on {
		heldFiles.paths[path] = true
	} else {
		delete(heldFiles.paths, path)
	}
}

// File is an exclusive-create pid file. A lock left behind by a process
// that no longer exists is taken over.
type File struct {
	path string
	f    *os.File
}

// AcquireFile creates path exclusively and writes the current pid into it.
func AcquireFile(path string) (*File, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	f, err := create(path)
	if errors.Is(err, os.ErrExist) {
		pid, alive := owner(path)
		if alive {
			return nil, fmt.Errorf("%w (pid %d, %s)", ErrHeld, pid, path)
		}
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("lock: remove stale %s: %w", path, rmErr)
		}
		f, err = create(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (%s)", ErrHeld, path)
		}
		return nil, fmt.Errorf("lock: %w", err)
	}

	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("lock: write pid: %w", err)
	}
	setHolding(path, true)
	return &File{path: path, f: f}, nil
}

func create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
}

// owner reads the pid in path and checks it with signal 0. Our own pid
// counts as alive only while this process holds path.
func owner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Half-written by a process that may still be starting.
		return 0, len(data) == 0
	}
	if pid == os.Getpid() {
		return pid, holding(path)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, p.Signal(syscall.Signal(0)) == nil
}

// Path is the lock file location.
func (l *File) Path() string { return l.path }

// Release closes and removes the pid file. Safe to call twice.
func (l *File) Release() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	setHolding(l.path, false)
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return errors.Join(err, rmErr)
	}
	return err
}
