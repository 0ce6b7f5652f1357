// Package model defines storage-friendly summaries of recovered packets.
// Raw bytes stay in the capture file; summaries point back to them by record number.
package model

import (
	"time"

	"github.com/Zerofisher/hcisnoop/hci"
)

// ────────────────────────────────────────────────────────────────────────────────
// PacketSummary
// ────────────────────────────────────────────────────────────────────────────────

// PacketSummary is a storage-friendly packet representation.
// It contains only fields needed for filtering, display, and indexing.
type PacketSummary struct {
	Number     int    `json:"number"`   // record number in the capture (1-based)
	Position   uint64 `json:"position"` // logical ring buffer cursor
	Offset     uint64 `json:"offset"`   // physical offset inside the ring storage
	Tag        uint8  `json:"tag"`
	Type       string `json:"type"`
	Length     int    `json:"length"`
	PayloadLen int    `json:"payload_len"`
	Handle     *int   `json:"handle,omitempty"`
	EventCode  *int   `json:"event_code,omitempty"`
	Info       string `json:"info,omitempty"`
}

// Summarize builds a PacketSummary for a packet recovered from a buffer of capacity bytes.
func Summarize(pkt *hci.Packet, number int, capacity uint64) *PacketSummary {
	s := &PacketSummary{
		Number:     number,
		Position:   pkt.Position,
		Tag:        pkt.Tag,
		Type:       pkt.TypeName(),
		Length:     pkt.TotalLen,
		PayloadLen: pkt.PayloadLen,
		Info:       pkt.Summary(),
	}
	if capacity > 0 {
		s.Offset = pkt.Position % capacity
	}
	if h, ok := pkt.Handle(); ok {
		v := int(h)
		s.Handle = &v
	}
	if c, ok := pkt.EventCode(); ok {
		v := int(c)
		s.EventCode = &v
	}
	return s
}

// ────────────────────────────────────────────────────────────────────────────────
// IndexMeta
// ────────────────────────────────────────────────────────────────────────────────

// IndexMeta stores metadata about one extraction run.
type IndexMeta struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	CapturePath   string    `json:"capture_path"`
	Buffer        string    `json:"buffer"`
	Mode          string    `json:"mode"`
	Base          uint64    `json:"base"`
	Capacity      uint64    `json:"capacity"`
	Head          uint64    `json:"head"`
	Tail          uint64    `json:"tail"`
	ExtractedAt   time.Time `json:"extracted_at"`
	TotalPackets  int       `json:"total_packets"`
	TotalBytes    int64     `json:"total_bytes"`
	SkippedBytes  int       `json:"skipped_bytes"`
	Truncated     int       `json:"truncated"`
	IndexComplete bool      `json:"index_complete"`
}
