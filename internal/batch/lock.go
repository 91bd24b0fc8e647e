package batch

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"idmark/internal/services"
)

const lockFileName = "idmark.lock"

// acquireLock takes the workspace lock without blocking. Two batches writing
// the same output directories would race on partial files and names.
func acquireLock(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrPrecondition, "", "workspace lock", lock.Path(), err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrPrecondition, "", "workspace lock",
			fmt.Sprintf("another idmark run holds %s", lock.Path()), nil)
	}
	return lock, nil
}
