package ringbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/Zerofisher/hcisnoop/memory"
)

// ErrUnknownBuffer is returned by a Locator for names it does not know.
var ErrUnknownBuffer = errors.New("unknown buffer")

// Locator resolves a buffer name (for example a device path) to a descriptor.
type Locator interface {
	Lookup(name string) (Descriptor, error)
}

// Layout describes how a circbuf control block is laid out in target memory:
// four machine words, base pointer then size, head and tail.
type Layout struct {
	PointerSize int
	Order       binary.ByteOrder
}

// DefaultLayout matches a 32-bit little-endian target.
var DefaultLayout = Layout{PointerSize: 4, Order: binary.LittleEndian}

// Size is the number of bytes decoded by ReadDescriptor.
func (l Layout) Size() int {
	return 4 * l.PointerSize
}

func (l Layout) word(b []byte) uint64 {
	if l.PointerSize == 8 {
		return l.Order.Uint64(b)
	}
	return uint64(l.Order.Uint32(b))
}

// ParseByteOrder maps "little"/"big" to a binary.ByteOrder.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "", "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", s)
}

// ReadDescriptor decodes the control block at addr.
func ReadDescriptor(src memory.Source, addr uint64, l Layout) (Descriptor, error) {
	if l.PointerSize != 4 && l.PointerSize != 8 {
		return Descriptor{}, fmt.Errorf("unsupported pointer size %d", l.PointerSize)
	}
	if l.Order == nil {
		l.Order = binary.LittleEndian
	}
	raw, err := src.ReadMemory(addr, l.Size())
	if err != nil {
		return Descriptor{}, fmt.Errorf("read circbuf at 0x%x: %w", addr, err)
	}
	w := l.PointerSize
	return Descriptor{
		Base:     l.word(raw[0:w]),
		Capacity: l.word(raw[w : 2*w]),
		Head:     l.word(raw[2*w : 3*w]),
		Tail:     l.word(raw[3*w : 4*w]),
	}, nil
}

// StaticLocator serves fixed descriptors by name.
type StaticLocator map[string]Descriptor

// Lookup implements Locator.
func (s StaticLocator) Lookup(name string) (Descriptor, error) {
	d, ok := s[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownBuffer, name)
	}
	return d, nil
}

// StructLocator decodes control blocks from target memory on every lookup.
type StructLocator struct {
	Source    memory.Source
	Layout    Layout
	Addresses map[string]uint64
}

// Lookup implements Locator.
func (s *StructLocator) Lookup(name string) (Descriptor, error) {
	addr, ok := s.Addresses[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownBuffer, name)
	}
	return ReadDescriptor(s.Source, addr, s.Layout)
}

// ChainLocator tries each Locator in order and returns the first match.
type ChainLocator []Locator

// Lookup implements Locator.
func (c ChainLocator) Lookup(name string) (Descriptor, error) {
	for _, l := range c {
		d, err := l.Lookup(name)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrUnknownBuffer) {
			return Descriptor{}, err
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownBuffer, name)
}

// Names lists the buffer names a locator knows about, when it can tell.
func Names(l Locator) []string {
	var names []string
	switch v := l.(type) {
	case StaticLocator:
		for n := range v {
			names = append(names, n)
		}
	case *StructLocator:
		for n := range v.Addresses {
			names = append(names, n)
		}
	case ChainLocator:
		for _, sub := range v {
			names = append(names, Names(sub)...)
		}
	}
	sort.Strings(names)
	return names
}
