package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const lockFileName = ".exclusive-lock"

// ExclusiveLock records which process holds the optimizer lock for a
// data directory. Only one serve loop may run against a database at a
// time; concurrent cycles would race on principle updates.
type ExclusiveLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// AcquireExclusiveLock takes the lock for the data directory containing
// dbPath. It fails if another live process holds it. A lock left behind
// by a dead process on this host is considered stale and is replaced.
func AcquireExclusiveLock(dbPath, holder string) error {
	lockPath, err := lockFilePath(dbPath)
	if err != nil {
		return err
	}

	if existing, err := readLockFile(lockPath); err == nil {
		if lockIsLive(existing) {
			return fmt.Errorf("optimizer already running: %s (pid %d on %s, started %s)",
				existing.Holder, existing.PID, existing.Hostname,
				existing.StartedAt.Format(time.RFC3339))
		}
		// Stale lock from a dead process; fall through and replace it.
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := ExclusiveLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	// The data directory may not exist yet on a first run
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	tmpPath := lockPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := os.Rename(tmpPath, lockPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit lock file: %w", err)
	}

	return nil
}

// ReleaseExclusiveLock removes the lock if this process owns it.
// Releasing a lock that is absent or owned by another process is not an
// error; serve shutdown should be idempotent.
func ReleaseExclusiveLock(dbPath string) error {
	lockPath, err := lockFilePath(dbPath)
	if err != nil {
		return err
	}

	existing, err := readLockFile(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if existing.PID != os.Getpid() {
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// CheckExclusiveLock reports the current lock holder, or nil when the
// directory is unlocked or the recorded holder is dead.
func CheckExclusiveLock(dbPath string) (*ExclusiveLock, error) {
	lockPath, err := lockFilePath(dbPath)
	if err != nil {
		return nil, err
	}

	existing, err := readLockFile(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	if !lockIsLive(existing) {
		return nil, nil
	}
	return existing, nil
}

func lockFilePath(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return filepath.Join(filepath.Dir(absPath), lockFileName), nil
}

func readLockFile(path string) (*ExclusiveLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock ExclusiveLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("corrupt lock file %s: %w", path, err)
	}
	return &lock, nil
}

// lockIsLive reports whether the process named in the lock still exists.
// Locks from other hosts cannot be probed, so they are assumed live.
func lockIsLive(lock *ExclusiveLock) bool {
	hostname, err := os.Hostname()
	if err != nil || hostname != lock.Hostname {
		return true
	}

	proc, err := os.FindProcess(lock.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
