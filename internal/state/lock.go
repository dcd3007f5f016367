package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Lock — advisory-блокировка на время apply/remove.
// Гарантирует, что одновременно каталог профилей и файл состояния меняет только один агент.
type Lock struct {
	fl *flock.Flock
}

// LockPath файл блокировки живет рядом с файлом состояния.
func LockPath(statePath string) string {
	return statePath + ".lock"
}

// AcquireLock ждет блокировку не дольше timeout.
func AcquireLock(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(path)
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !ok {
		return nil, fmt.Errorf("acquire lock %s: %w", path, lockError(err))
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

func lockError(err error) error {
	if err == nil {
		return errors.New("lock is held by another process")
	}
	return err
}
