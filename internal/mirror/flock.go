package mirror

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock file.
var ErrLocked = errors.New("another relmirror instance is running")

// Flock is an advisory exclusive lock on an open file.
type Flock struct {
	*os.File
}

// Lock acquires the lock without blocking. It fails with ErrLocked when
// the lock is held elsewhere.
func (f Flock) Lock() error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return errors.Wrap(ErrLocked, f.Name())
	}
	if err != nil {
		return errors.Wrap(err, "flock "+f.Name())
	}
	return nil
}

// Unlock releases the lock.
func (f Flock) Unlock() error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
