//go:build !linux

package memory

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by OpenProcess on platforms without live memory access.
var ErrUnsupported = errors.New("live process memory access is only supported on linux")

// Process is unavailable on this platform.
type Process struct {
	PID int
}

// OpenProcess always fails on this platform.
func OpenProcess(pid int) (*Process, error) {
	return nil, fmt.Errorf("process %d: %w", pid, ErrUnsupported)
}

// ReadMemory implements Source.
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	return nil, &FaultError{Addr: addr, Len: n, Err: ErrUnsupported}
}
