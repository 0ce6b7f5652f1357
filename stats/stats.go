// Package stats provides HCI packet statistics for recovered captures
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/hci"
)

// Manager collects and reports packet statistics
type Manager struct {
	types      map[string]*TypeStats
	handles    map[uint16]*HandleStats
	events     map[uint8]int
	totalPkts  int
	totalBytes int64
	filtered   int
	desyncs    int
	truncated  int
}

// TypeStats counts packets of one HCI packet type
type TypeStats struct {
	Name    string
	Packets int
	Bytes   int64
	MinLen  int
	MaxLen  int
}

// HandleStats counts ACL/ISO traffic on one connection handle
type HandleStats struct {
	Handle  uint16
	Type    string
	Packets int
	Bytes   int64
}

// NewManager creates a new statistics manager
func NewManager() *Manager {
	return &Manager{
		types:   make(map[string]*TypeStats),
		handles: make(map[uint16]*HandleStats),
		events:  make(map[uint8]int),
	}
}

// Observe implements extract.Observer
func (m *Manager) Observe(ev extract.Event) {
	switch ev.Kind {
	case extract.EventPacket:
		m.ProcessPacket(ev.Packet)
	case extract.EventFiltered:
		m.filtered++
	case extract.EventDesync:
		m.desyncs++
	case extract.EventTruncated:
		m.truncated++
	}
}

// ProcessPacket updates statistics with a new packet
func (m *Manager) ProcessPacket(pkt *hci.Packet) {
	m.totalPkts++
	m.totalBytes += int64(pkt.TotalLen)

	name := pkt.TypeName()
	ts, ok := m.types[name]
	if !ok {
		ts = &TypeStats{Name: name, MinLen: pkt.TotalLen}
		m.types[name] = ts
	}
	ts.Packets++
	ts.Bytes += int64(pkt.TotalLen)
	ts.MinLen = min(ts.MinLen, pkt.TotalLen)
	ts.MaxLen = max(ts.MaxLen, pkt.TotalLen)

	if h, ok := pkt.Handle(); ok {
		hs, ok := m.handles[h]
		if !ok {
			hs = &HandleStats{Handle: h, Type: name}
			m.handles[h] = hs
		}
		hs.Packets++
		hs.Bytes += int64(pkt.TotalLen)
	}

	if code, ok := pkt.EventCode(); ok {
		m.events[code]++
	}
}

// TotalPackets returns the number of packets processed
func (m *Manager) TotalPackets() int { return m.totalPkts }

// TotalBytes returns the bytes of all packets processed
func (m *Manager) TotalBytes() int64 { return m.totalBytes }

// Desyncs returns the number of bytes skipped while resynchronizing
func (m *Manager) Desyncs() int { return m.desyncs }

// Truncated returns the number of abandoned truncated packets
func (m *Manager) Truncated() int { return m.truncated }

// Filtered returns the number of packets rejected by the filter
func (m *Manager) Filtered() int { return m.filtered }

// Types returns per-type statistics ordered by packet count
func (m *Manager) Types() []*TypeStats {
	out := make([]*TypeStats, 0, len(m.types))
	for _, ts := range m.types {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Packets != out[j].Packets {
			return out[i].Packets > out[j].Packets
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Handles returns per-handle statistics ordered by bytes
func (m *Manager) Handles() []*HandleStats {
	out := make([]*HandleStats, 0, len(m.handles))
	for _, hs := range m.handles {
		out = append(out, hs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// EventCount returns how many events with code were seen
func (m *Manager) EventCount(code uint8) int {
	return m.events[code]
}

// PrintSummary writes packet type statistics to the writer
func (m *Manager) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "HCI Packet Types")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-10s %10s %12s %10s %10s\n", "Type", "Packets", "Bytes", "Min", "Max")

	for _, ts := range m.Types() {
		fmt.Fprintf(w, "%-10s %10d %12s %10d %10d\n",
			strings.ToUpper(ts.Name),
			ts.Packets,
			formatBytes(ts.Bytes),
			ts.MinLen,
			ts.MaxLen,
		)
	}

	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%-10s %10d %12s\n", "Total", m.totalPkts, formatBytes(m.totalBytes))
	if m.desyncs > 0 || m.truncated > 0 || m.filtered > 0 {
		fmt.Fprintf(w, "Skipped bytes: %d  Truncated packets: %d  Filtered packets: %d\n",
			m.desyncs, m.truncated, m.filtered)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintHandles writes connection handle statistics to the writer
func (m *Manager) PrintHandles(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Connection Handles")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-10s %-6s %10s %12s\n", "Handle", "Type", "Packets", "Bytes")

	for _, hs := range m.Handles() {
		fmt.Fprintf(w, "0x%04x     %-6s %10d %12s\n",
			hs.Handle,
			strings.ToUpper(hs.Type),
			hs.Packets,
			formatBytes(hs.Bytes),
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintEvents writes event code statistics to the writer
func (m *Manager) PrintEvents(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "HCI Events")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-10s %10s\n", "Code", "Count")

	codes := make([]int, 0, len(m.events))
	for c := range m.events {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "0x%02x       %10d\n", c, m.events[uint8(c)])
	}
	fmt.Fprintln(w, "================================================================================")
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
