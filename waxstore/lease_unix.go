//go:build !windows && !js && !wasip1

package waxstore

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// lease represents the exclusive writer-lease sentinel: at most one
// process may hold the lease for a given store path at a time. A plain
// flock on a ".writer.lock" sidecar file, tagged with a uuid token so an
// operator inspecting the file can tell a live lease from stale bytes
// left by a process that died without cleanup.
type lease struct {
	file  *os.File
	token string
}

func acquireLease(path string) (*lease, error) {
	leasePath := path + ".writer.lock"
	f, err := os.OpenFile(leasePath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("waxstore: lease: cannot open %q: %w", leasePath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("waxstore: lease: %q is held by another process", path)
	}

	token := uuid.NewString()
	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(token), 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}

	return &lease{file: f, token: token}, nil
}

func (l *lease) release() error {
	if l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	name := l.file.Name()
	err := l.file.Close()
	os.Remove(name)
	l.file = nil
	return err
}
