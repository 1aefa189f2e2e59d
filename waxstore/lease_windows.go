//go:build windows

package waxstore

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/google/uuid"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock = 0x00000002
	lockfileFailImmediate = 0x00000001
)

// lease represents the exclusive writer-lease sentinel on Windows, using
// LockFileEx over the same ".writer.lock" sidecar as the Unix build.
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

	ol := new(syscall.Overlapped)
	r1, _, _ := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock|lockfileFailImmediate),
		0,
		1, 0,
		uintptr(unsafe.Pointer(ol)),
	)
	if r1 == 0 {
		f.Close()
		return nil, fmt.Errorf("waxstore: lease: %q is held by another process", leasePath)
	}

	token := uuid.NewString()
	f.Truncate(0)
	f.WriteAt([]byte(token), 0)

	return &lease{file: f, token: token}, nil
}

func (l *lease) release() error {
	if l.file == nil {
		return nil
	}
	ol := new(syscall.Overlapped)
	procUnlockFileEx.Call(l.file.Fd(), 0, 1, 0, uintptr(unsafe.Pointer(ol)))
	name := l.file.Name()
	err := l.file.Close()
	os.Remove(name)
	l.file = nil
	return err
}
