// Package ringbuf reads the logical byte stream of a circular buffer that lives
// in target memory.
//
// Head and tail are free-running cursors: they are never wrapped to the
// capacity, and the physical offset of a cursor is cursor mod capacity.
package ringbuf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Zerofisher/hcisnoop/memory"
)

// ErrOutOfRange is returned when a read is longer than the buffer or the
// underlying memory cannot be read.
var ErrOutOfRange = errors.New("ring buffer read out of range")

// Descriptor is a snapshot of a circular buffer's control block.
type Descriptor struct {
	Base     uint64 `mapstructure:"base" json:"base"`
	Capacity uint64 `mapstructure:"capacity" json:"capacity"`
	Head     uint64 `mapstructure:"head" json:"head"`
	Tail     uint64 `mapstructure:"tail" json:"tail"`
}

// Initialized reports whether the buffer has storage attached.
func (d Descriptor) Initialized() bool {
	return d.Base != 0 && d.Capacity != 0
}

// Used returns head - tail. It is negative when the descriptor is inconsistent.
func (d Descriptor) Used() int64 {
	return int64(d.Head) - int64(d.Tail)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("base=0x%x size=%d head=%d tail=%d used=%d",
		d.Base, d.Capacity, d.Head, d.Tail, d.Used())
}

// Mode selects which part of the buffer is scanned.
type Mode int

const (
	// Incremental scans only unread data, [tail, head).
	Incremental Mode = iota
	// FullHistory scans one full lap starting at tail, [tail, tail+capacity).
	FullHistory
)

func (m Mode) String() string {
	switch m {
	case Incremental:
		return "incremental"
	case FullHistory:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "incremental" or "full" (and a few aliases).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "incremental", "new":
		return Incremental, nil
	case "full", "all", "history", "fullhistory":
		return FullHistory, nil
	}
	return Incremental, fmt.Errorf("unknown extraction mode %q (must be incremental or full)", s)
}

// Window returns the logical scan range [start, end) for mode.
func Window(d Descriptor, mode Mode) (start, end uint64) {
	if mode == FullHistory {
		return d.Tail, d.Tail + d.Capacity
	}
	if d.Head < d.Tail {
		return d.Tail, d.Tail
	}
	return d.Tail, d.Head
}

// Reader turns logical positions into physical reads against a memory.Source.
// It keeps no state between calls.
type Reader struct {
	Source memory.Source
}

// NewReader returns a Reader over src.
func NewReader(src memory.Source) *Reader {
	return &Reader{Source: src}
}

// Read returns n bytes of the logical stream starting at pos, stitching the
// physical wrap when [pos, pos+n) crosses the end of the storage.
func (r *Reader) Read(d Descriptor, pos uint64, n int) ([]byte, error) {
	if d.Capacity == 0 {
		return nil, fmt.Errorf("%w: buffer has zero capacity", ErrOutOfRange)
	}
	if n < 0 || uint64(n) > d.Capacity {
		return nil, fmt.Errorf("%w: %d bytes requested from %d byte buffer", ErrOutOfRange, n, d.Capacity)
	}
	if n == 0 {
		return []byte{}, nil
	}

	offset := pos % d.Capacity
	first := min(uint64(n), d.Capacity-offset)
	second := uint64(n) - first

	data, err := r.Source.ReadMemory(d.Base+offset, int(first))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	if second == 0 {
		return data, nil
	}

	wrapped, err := r.Source.ReadMemory(d.Base, int(second))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return append(data, wrapped...), nil
}
