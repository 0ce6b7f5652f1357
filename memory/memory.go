// Package memory provides read access to the address space of an inspected target.
package memory

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrFault is wrapped by every error reporting an unreadable address range.
var ErrFault = errors.New("memory fault")

// Source reads raw bytes from a target address space.
type Source interface {
	// ReadMemory returns exactly n bytes starting at addr, or an error.
	ReadMemory(addr uint64, n int) ([]byte, error)
}

// FaultError describes a read the target could not satisfy.
type FaultError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *FaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("memory fault reading %d bytes at 0x%x: %v", e.Len, e.Addr, e.Err)
	}
	return fmt.Sprintf("memory fault reading %d bytes at 0x%x", e.Len, e.Addr)
}

func (e *FaultError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFault, e.Err}
	}
	return []error{ErrFault}
}

// Image is a contiguous memory region mapped at Base.
type Image struct {
	Base uint64
	Data []byte
}

// NewImage maps data at base. The slice is not copied.
func NewImage(base uint64, data []byte) *Image {
	return &Image{Base: base, Data: data}
}

// LoadImage reads a raw memory dump from path and maps it at base.
func LoadImage(path string, base uint64) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read memory image %s: %w", path, err)
	}
	return NewImage(base, data), nil
}

// ReadMemory implements Source.
func (m *Image) ReadMemory(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, &FaultError{Addr: addr, Len: n, Err: errors.New("negative length")}
	}
	end := m.Base + uint64(len(m.Data))
	if addr < m.Base || addr+uint64(n) > end || addr+uint64(n) < addr {
		return nil, &FaultError{Addr: addr, Len: n}
	}
	off := addr - m.Base
	out := make([]byte, n)
	copy(out, m.Data[off:off+uint64(n)])
	return out, nil
}

// Read is one physical read observed by a Recorder.
type Read struct {
	Addr uint64
	Len  int
}

// Recorder wraps a Source and remembers every read issued through it.
type Recorder struct {
	Source Source

	mu    sync.Mutex
	reads []Read
}

// NewRecorder wraps src.
func NewRecorder(src Source) *Recorder {
	return &Recorder{Source: src}
}

// ReadMemory implements Source.
func (r *Recorder) ReadMemory(addr uint64, n int) ([]byte, error) {
	r.mu.Lock()
	r.reads = append(r.reads, Read{Addr: addr, Len: n})
	r.mu.Unlock()
	return r.Source.ReadMemory(addr, n)
}

// Reads returns a copy of the recorded reads.
func (r *Recorder) Reads() []Read {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Read, len(r.reads))
	copy(out, r.reads)
	return out
}

// Reset forgets recorded reads.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.reads = nil
	r.mu.Unlock()
}
