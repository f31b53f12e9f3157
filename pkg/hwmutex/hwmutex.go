// Package hwmutex provides system wide named locks used to share hardware
// with other monitoring software.
package hwmutex

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ISABus is the well-known lock name monitoring tools take before touching
// the ISA/LPC bus or a Super I/O GPIO bank.
const ISABus = "Access_ISABUS.HTP.Method"

const retryDelay = 2 * time.Millisecond

// DefaultDir returns the directory lock files are created in.
func DefaultDir() string {
	if fi, err := os.Stat("/run/lock"); err == nil && fi.IsDir() {
		return "/run/lock"
	}
	return os.TempDir()
}

// Mutex is a named lock shared across processes.
type Mutex struct {
	name string
	lock *flock.Flock
}

// New returns the mutex called name, backed by a lock file in dir.
func New(dir, name string) *Mutex {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Mutex{
		name: name,
		lock: flock.New(filepath.Join(dir, name+".lock")),
	}
}

func (m *Mutex) Name() string { return m.name }

// TryAcquire waits up to timeout for the lock. Any failure, including an
// unusable lock directory, reports false.
func (m *Mutex) TryAcquire(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ok, err := m.lock.TryLockContext(ctx, retryDelay)
	return ok && err == nil
}

// Release unlocks the mutex.
func (m *Mutex) Release() {
	_ = m.lock.Unlock()
}
