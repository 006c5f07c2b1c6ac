package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

var ErrRunInProgress = errors.New("a workflow run is already in progress for this project")

// RunLock is an exclusive per-project lock file. It excludes other processes
// and other RunLocks in the same process alike.
type RunLock struct {
	fl *flock.Flock
}

// LockPath returns the lock file of a project under dir.
func LockPath(dir, projectID string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, projectID)
	return filepath.Join(dir, name+".lock")
}

// AcquireRunLock takes the lock without waiting. A held lock yields ErrRunInProgress.
func AcquireRunLock(dir, projectID string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(LockPath(dir, projectID))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, projectID)
	}
	return &RunLock{fl: fl}, nil
}

func (l *RunLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
