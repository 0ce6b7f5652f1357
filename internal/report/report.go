// Package report provides report generation for indexed extractions.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Zerofisher/hcisnoop/pkg/model"
	"github.com/Zerofisher/hcisnoop/pkg/store"
)

// Data holds all data for report generation.
type Data struct {
	// Meta
	GeneratedAt time.Time        `json:"generated_at"`
	Meta        *model.IndexMeta `json:"meta"`

	// Packet type distribution
	Types []*TypeSummary `json:"types"`

	// Busiest connection handles
	TopHandles []*HandleSummary `json:"top_handles"`

	// Most frequent events
	TopEvents []*EventSummary `json:"top_events"`
}

// TypeSummary counts one packet type.
type TypeSummary struct {
	Type     string `json:"type"`
	Packets  int    `json:"packets"`
	Bytes    int64  `json:"bytes"`
	BytesStr string `json:"-"`
}

// HandleSummary counts one connection handle.
type HandleSummary struct {
	Handle   int    `json:"handle"`
	Type     string `json:"type"`
	Packets  int    `json:"packets"`
	Bytes    int64  `json:"bytes"`
	BytesStr string `json:"-"`
	First    int    `json:"first_packet"`
	Last     int    `json:"last_packet"`
}

// EventSummary counts one event code.
type EventSummary struct {
	Code  int `json:"code"`
	Count int `json:"count"`
	First int `json:"first_packet"`
}

// Generate creates a report from an index store.
func Generate(st store.Store, topN int) (*Data, error) {
	report := &Data{
		GeneratedAt: time.Now(),
	}

	meta, err := st.GetMeta()
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	report.Meta = meta

	packets, err := st.Packets(store.PacketFilter{})
	if err != nil {
		return nil, fmt.Errorf("get packets: %w", err)
	}

	types := map[string]*TypeSummary{}
	handles := map[int]*HandleSummary{}
	events := map[int]*EventSummary{}
	for _, p := range packets {
		ts, ok := types[p.Type]
		if !ok {
			ts = &TypeSummary{Type: p.Type}
			types[p.Type] = ts
		}
		ts.Packets++
		ts.Bytes += int64(p.Length)

		if p.Handle != nil {
			hs, ok := handles[*p.Handle]
			if !ok {
				hs = &HandleSummary{Handle: *p.Handle, Type: p.Type, First: p.Number}
				handles[*p.Handle] = hs
			}
			hs.Packets++
			hs.Bytes += int64(p.Length)
			hs.Last = p.Number
		}

		if p.EventCode != nil {
			es, ok := events[*p.EventCode]
			if !ok {
				es = &EventSummary{Code: *p.EventCode, First: p.Number}
				events[*p.EventCode] = es
			}
			es.Count++
		}
	}

	for _, ts := range types {
		ts.BytesStr = FormatBytes(ts.Bytes)
		report.Types = append(report.Types, ts)
	}
	sort.Slice(report.Types, func(i, j int) bool {
		if report.Types[i].Packets != report.Types[j].Packets {
			return report.Types[i].Packets > report.Types[j].Packets
		}
		return report.Types[i].Type < report.Types[j].Type
	})

	for _, hs := range handles {
		hs.BytesStr = FormatBytes(hs.Bytes)
		report.TopHandles = append(report.TopHandles, hs)
	}
	sort.Slice(report.TopHandles, func(i, j int) bool {
		if report.TopHandles[i].Bytes != report.TopHandles[j].Bytes {
			return report.TopHandles[i].Bytes > report.TopHandles[j].Bytes
		}
		return report.TopHandles[i].Handle < report.TopHandles[j].Handle
	})
	if topN > 0 && len(report.TopHandles) > topN {
		report.TopHandles = report.TopHandles[:topN]
	}

	for _, es := range events {
		report.TopEvents = append(report.TopEvents, es)
	}
	sort.Slice(report.TopEvents, func(i, j int) bool {
		if report.TopEvents[i].Count != report.TopEvents[j].Count {
			return report.TopEvents[i].Count > report.TopEvents[j].Count
		}
		return report.TopEvents[i].Code < report.TopEvents[j].Code
	})
	if topN > 0 && len(report.TopEvents) > topN {
		report.TopEvents = report.TopEvents[:topN]
	}

	return report, nil
}

// WriteMarkdown renders the report as Markdown.
func WriteMarkdown(w io.Writer, d *Data) error {
	m := d.Meta
	fmt.Fprintf(w, "# Snoop Buffer Extraction Report\n\n")
	fmt.Fprintf(w, "Generated %s\n\n", d.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(w, "## Overview\n\n")
	fmt.Fprintf(w, "| | |\n|---|---|\n")
	fmt.Fprintf(w, "| Capture | `%s` |\n", m.CapturePath)
	fmt.Fprintf(w, "| Buffer | `%s` |\n", m.Buffer)
	fmt.Fprintf(w, "| Run | `%s` |\n", m.RunID)
	fmt.Fprintf(w, "| Mode | %s |\n", m.Mode)
	fmt.Fprintf(w, "| Descriptor | base=0x%x size=%d head=%d tail=%d |\n", m.Base, m.Capacity, m.Head, m.Tail)
	fmt.Fprintf(w, "| Packets | %d (%s) |\n", m.TotalPackets, FormatBytes(m.TotalBytes))
	fmt.Fprintf(w, "| Skipped bytes | %d |\n", m.SkippedBytes)
	fmt.Fprintf(w, "| Truncated packets | %d |\n", m.Truncated)
	if !m.IndexComplete {
		fmt.Fprintf(w, "\n> The extraction did not complete; the index is partial.\n")
	}

	fmt.Fprintf(w, "\n## Packet Types\n\n")
	fmt.Fprintf(w, "| Type | Packets | Bytes |\n|---|---:|---:|\n")
	for _, t := range d.Types {
		fmt.Fprintf(w, "| %s | %d | %s |\n", t.Type, t.Packets, t.BytesStr)
	}

	if len(d.TopHandles) > 0 {
		fmt.Fprintf(w, "\n## Connection Handles\n\n")
		fmt.Fprintf(w, "| Handle | Type | Packets | Bytes | Packets # |\n|---|---|---:|---:|---|\n")
		for _, h := range d.TopHandles {
			fmt.Fprintf(w, "| 0x%03x | %s | %d | %s | %d-%d |\n", h.Handle, h.Type, h.Packets, h.BytesStr, h.First, h.Last)
		}
	}

	if len(d.TopEvents) > 0 {
		fmt.Fprintf(w, "\n## Events\n\n")
		fmt.Fprintf(w, "| Code | Count | First # |\n|---|---:|---:|\n")
		for _, e := range d.TopEvents {
			fmt.Fprintf(w, "| 0x%02x | %d | %d |\n", e.Code, e.Count, e.First)
		}
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, d *Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// FormatBytes formats bytes in human-readable form.
func FormatBytes(b int64) string {
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
