// Package app provides application-level orchestration for hcisnoop.
package app

import (
	"errors"
	"fmt"

	"github.com/Zerofisher/hcisnoop/filter"
	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/internal/config"
	"github.com/Zerofisher/hcisnoop/memory"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

// ErrNoSource is returned when a buffer needs target memory but none was configured.
var ErrNoSource = errors.New("no memory source configured (use --image or --pid)")

// SourceConfig holds unified memory source configuration.
type SourceConfig struct {
	Image string // raw memory dump
	Base  uint64 // load address of Image
	PID   int    // live process
}

// SetupSource opens the configured memory source. It returns nil, nil when
// neither an image nor a process is configured; static buffers do not need one.
func SetupSource(cfg SourceConfig) (memory.Source, error) {
	switch {
	case cfg.Image != "" && cfg.PID != 0:
		return nil, fmt.Errorf("image and pid are mutually exclusive")
	case cfg.Image != "":
		img, err := memory.LoadImage(cfg.Image, cfg.Base)
		if err != nil {
			return nil, fmt.Errorf("error opening image: %w", err)
		}
		return img, nil
	case cfg.PID != 0:
		proc, err := memory.OpenProcess(cfg.PID)
		if err != nil {
			return nil, fmt.Errorf("error opening process: %w", err)
		}
		return proc, nil
	}
	return nil, nil
}

// SetupLocator builds the buffer locator from configured buffers. Static
// descriptors are served as-is; addressed buffers are decoded from src.
func SetupLocator(buffers []config.BufferConfig, layout config.LayoutConfig, src memory.Source) (ringbuf.Locator, error) {
	static := ringbuf.StaticLocator{}
	addressed := map[string]uint64{}

	for _, b := range buffers {
		if b.Static() {
			static[b.Name] = ringbuf.Descriptor{
				Base:     b.Base,
				Capacity: b.Capacity,
				Head:     b.Head,
				Tail:     b.Tail,
			}
			continue
		}
		addressed[b.Name] = b.Address
	}

	chain := ringbuf.ChainLocator{static}
	if len(addressed) > 0 {
		if src == nil {
			return nil, ErrNoSource
		}
		order, err := ringbuf.ParseByteOrder(layout.ByteOrder)
		if err != nil {
			return nil, err
		}
		chain = append(chain, &ringbuf.StructLocator{
			Source:    src,
			Layout:    ringbuf.Layout{PointerSize: layout.PointerSize, Order: order},
			Addresses: addressed,
		})
	}
	return chain, nil
}

// CompilePacketFilter compiles a packet filter expression.
// Returns nil filter function if filterStr is empty.
func CompilePacketFilter(filterStr string) (func(*hci.Packet) bool, error) {
	return filter.CompileFunc(filterStr)
}
