package mirror

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func TestFlock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relmirror.lock")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// Create a context with a timeout to prevent hangs
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "flock", path, "sleep", "0.2")
	err := cmd.Start()
	if err != nil {
		t.Skip()
		return
	}
	time.Sleep(100 * time.Millisecond)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	fl := Flock{f}
	if err = fl.Lock(); err == nil {
		t.Error(`err = fl.Lock(); err == nil`)
	} else if !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}

	err = cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatal("test timed out waiting for external flock command")
	}
	if err != nil {
		t.Logf("external flock command exited with error: %v", err)
	}

	if err = fl.Lock(); err != nil {
		t.Fatal(err)
	}
	if err = fl.Unlock(); err != nil {
		t.Error(err)
	}
}

func TestFlockSameProcess(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relmirror.lock")
	unlock, err := lockFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := lockFile(path); !errors.Is(err, ErrLocked) {
		t.Errorf("second lockFile err = %v, want ErrLocked", err)
	}

	unlock()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file should be kept, stat err = %v", err)
	}

	unlock, err = lockFile(path)
	if err != nil {
		t.Fatal(err)
	}
	unlock()
}

// An instance that opened the lock file while another held it must still
// exclude an instance that starts after the release.
func TestFlockExcludesLateOpener(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relmirror.lock")
	unlockA, err := lockFile(path)
	if err != nil {
		t.Fatal(err)
	}

	fb, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Close()

	unlockA()

	unlockC, err := lockFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer unlockC()

	if err := (Flock{fb}).Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("late opener Lock err = %v, want ErrLocked", err)
	}
}
