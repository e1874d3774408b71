package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
)

// ErrLocked is returned when the lock is still held by another process
// after the wait time elapsed.
var ErrLocked = errors.New("lifecycle: another mutation is in progress")

const defaultLockWait = 10 * time.Second

// Locker serialises mutating commands across processes with an exclusive
// lock file. Hooks and CI may fire concurrently; only one wins at a time.
type Locker struct {
	path string
	wait time.Duration
}

// NewLocker returns a locker on path. wait bounds how long Lock retries;
// zero means defaultLockWait.
func NewLocker(path string, wait time.Duration) *Locker {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &Locker{path: path, wait: wait}
}

// Path returns the lock file path.
func (l *Locker) Path() string { return l.path }

func (l *Locker) backoff() backoff.BackOff {
	// BackOff implementations are stateful; always build a fresh one.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = l.wait
	return bo
}

// Lock acquires the lock and returns a function that releases it.
func (l *Locker) Lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: lock dir: %w", err)
	}
	fl := flock.New(l.path)
	err := backoff.Retry(func() error {
		locked, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("lifecycle: acquire %s: %w", l.path, err))
		}
		if !locked {
			return ErrLocked
		}
		return nil
	}, backoff.WithContext(l.backoff(), ctx))
	if err != nil {
		return nil, err
	}
	return fl.Unlock, nil
}
