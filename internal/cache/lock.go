package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Norgate-AV/xbuild/internal/logging"
	"github.com/rotisserie/eris"
)

// LockName is the sentinel file guarding a cache root
const LockName = ".lock"

const (
	minBackoff = 10 * time.Millisecond
	maxBackoff = time.Second
)

var ErrLockTimeout = eris.New("timed out waiting for the sysroot lock")

// Lock is an exclusive advisory lock on a cache root, held until Release
type Lock struct {
	f    *os.File
	path string
	once sync.Once
	err  error
}

// Acquire creates root if needed and takes its lock. Attempts never block in
// the kernel; they are retried with exponential backoff until timeout
// elapses or ctx is done. A zero timeout waits forever.
func Acquire(ctx context.Context, root string, timeout time.Duration) (*Lock, error) {
	logger := logging.FromContext(ctx)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", root)
	}

	path := filepath.Join(root, LockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open lock file %s", path)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	backoff := minBackoff
	for attempt := 0; ; attempt++ {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, eris.Wrapf(err, "failed to lock %s", path)
		}

		if ok {
			logger.Trace().Str("path", path).Msg("acquired sysroot lock")
			return &Lock{f: f, path: path}, nil
		}

		if attempt == 0 {
			logger.Info().Str("path", path).Msg("blocking waiting for file lock on sysroot")
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, eris.Wrapf(ctx.Err(), "interrupted while waiting for %s", path)
		case <-deadline:
			f.Close()
			return nil, eris.Wrapf(ErrLockTimeout, "%s still held after %s", path, timeout)
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Path of the lock file
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	l.once.Do(func() {
		err := unlock(l.f)
		if cerr := l.f.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			l.err = eris.Wrapf(err, "failed to release %s", l.path)
		}
	})

	return l.err
}
