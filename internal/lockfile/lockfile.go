// Package lockfile guards a state directory so only one CanvassSync process
// runs the job queue against a local SQLite database at a time.
//
// The lock is an flock(2) on a file in the directory, so the kernel drops it
// when the holding process exits for any reason.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "canvasssync.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on dir, creating the
// directory if needed. A *LockError is returned when another live process
// holds it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, LockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolderPID(file)
		file.Close()
		slog.Error("state directory is locked by another process", "lock_path", path, "holder_pid", holder)
		return nil, &LockError{Path: path, HolderPID: holder, Cause: err}
	}

	// The previous holder's pid may still be in the file.
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0)
		if err != nil {
			slog.Warn("failed to record pid in lock file", "lock_path", path, "error", err)
		}
	}

	slog.Info("acquired state directory lock", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. Calling it more than
// once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never locks a file that is
	// about to be unlinked.
	removeErr := os.Remove(l.path)
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		slog.Warn("failed to remove lock file", "lock_path", l.path, "error", removeErr)
	}
	slog.Debug("released state directory lock", "lock_path", l.path)
	return nil
}

// LockError reports a lock held by another process.
type LockError struct {
	Path      string
	HolderPID int
	Cause     error
}

func (e *LockError) Error() string {
	holder := "unknown process"
	if e.HolderPID > 0 {
		holder = fmt.Sprintf("pid %d", e.HolderPID)
	}
	return fmt.Sprintf("another CanvassSync instance (%s) holds %s; stop it or point --state-dir elsewhere", holder, e.Path)
}

func (e *LockError) Unwrap() error { return e.Cause }

func readHolderPID(f *os.File) int {
	buf := make([]byte, 64)
	n, _ := f.ReadAt(buf, 0)
	return parsePID(string(buf[:n]))
}

// parsePID extracts N from "pid=N", returning 0 when it is absent.
func parsePID(content string) int {
	_, rest, ok := strings.Cut(content, "pid=")
	if !ok {
		return 0
	}
	rest = strings.TrimSpace(rest)
	if i := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		rest = rest[:i]
	}
	pid, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return pid
}
