//go:build linux

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Process reads the memory of a live (stopped) Linux process.
type Process struct {
	PID int
}

// OpenProcess returns a Source for pid. The caller is responsible for keeping
// the process halted while it is inspected.
func OpenProcess(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(pid, 0); err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	return &Process{PID: pid}, nil
}

// ReadMemory implements Source using process_vm_readv.
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	local := []unix.Iovec{{Base: &out[0]}}
	local[0].SetLen(n)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: n}}

	got, err := unix.ProcessVMReadv(p.PID, local, remote, 0)
	if err != nil {
		return nil, &FaultError{Addr: addr, Len: n, Err: err}
	}
	if got != n {
		return nil, &FaultError{Addr: addr, Len: n, Err: fmt.Errorf("short read: %d of %d bytes", got, n)}
	}
	return out, nil
}
