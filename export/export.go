// Package export provides packet export functionality in various formats
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Zerofisher/hcisnoop/fields"
	"github.com/Zerofisher/hcisnoop/hci"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText   OutputFormat = "text"
	FormatJSON   OutputFormat = "json"
	FormatFields OutputFormat = "fields"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatFields:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown output format %q (must be text, json or fields)", s)
}

// Exporter handles packet export
type Exporter struct {
	format      OutputFormat
	writer      io.Writer
	registry    *fields.Registry
	fields      []string // for -e field extraction
	showHex     bool     // -x hex dump
	count       int      // packets exported
	maxCount    int      // -c limit (0 = unlimited)
	firstPacket bool     // track first packet for JSON array
}

// NewExporter creates a new exporter
func NewExporter(w io.Writer, format OutputFormat) *Exporter {
	return &Exporter{
		format:      format,
		writer:      w,
		registry:    fields.NewRegistry(),
		firstPacket: true,
	}
}

// SetFields sets the fields to extract (for -T fields -e)
func (e *Exporter) SetFields(fieldNames []string) error {
	for _, name := range fieldNames {
		if e.registry.Get(name) == nil {
			return fmt.Errorf("unknown field %q", name)
		}
	}
	e.fields = fieldNames
	return nil
}

// SetMaxCount sets the maximum packet count
func (e *Exporter) SetMaxCount(n int) {
	e.maxCount = n
}

// SetShowHex enables hex dump output
func (e *Exporter) SetShowHex(v bool) {
	e.showHex = v
}

// Count returns the number of packets exported so far.
func (e *Exporter) Count() int {
	return e.count
}

// ShouldStop returns true if we've reached the packet limit
func (e *Exporter) ShouldStop() bool {
	return e.maxCount > 0 && e.count >= e.maxCount
}

// ExportPacket exports a single packet
func (e *Exporter) ExportPacket(pkt *hci.Packet) error {
	if e.ShouldStop() {
		return nil
	}

	var err error
	switch e.format {
	case FormatJSON:
		err = e.exportJSON(pkt)
	case FormatFields:
		err = e.exportFields(pkt)
	default:
		err = e.exportText(pkt)
	}

	if err == nil {
		e.count++
	}
	return err
}

// WritePacket lets an Exporter act as an extraction sink.
func (e *Exporter) WritePacket(pkt *hci.Packet) error {
	return e.ExportPacket(pkt)
}

// Start writes any header needed for the format
func (e *Exporter) Start() error {
	if e.format == FormatJSON {
		_, err := fmt.Fprintln(e.writer, "[")
		return err
	}
	return nil
}

// Finish writes any footer needed for the format
func (e *Exporter) Finish() error {
	if e.format == FormatJSON {
		if !e.firstPacket {
			fmt.Fprintln(e.writer)
		}
		_, err := fmt.Fprintln(e.writer, "]")
		return err
	}
	return nil
}

// exportText exports packet in text format (one line summary)
func (e *Exporter) exportText(pkt *hci.Packet) error {
	// Format: No. Position Summary
	_, err := fmt.Fprintf(e.writer, "%d\t%d\t%s\n", pkt.Number, pkt.Position, pkt.Summary())
	if err != nil {
		return err
	}

	if e.showHex {
		return e.exportHexDump(pkt)
	}
	return nil
}

// PacketJSON represents a packet in JSON format
type PacketJSON struct {
	FrameNumber int     `json:"frame.number"`
	FramePos    uint64  `json:"frame.pos"`
	FrameLen    int     `json:"frame.len"`
	FrameType   string  `json:"frame.type"`
	Tag         uint8   `json:"hci.tag"`
	Handle      *uint16 `json:"handle,omitempty"`
	PB          *uint8  `json:"pb,omitempty"`
	EventCode   *uint8  `json:"evt.code,omitempty"`
	PayloadLen  int     `json:"payload_len"`
	Info        string  `json:"info"`
	Data        string  `json:"data,omitempty"`
}

// exportJSON exports packet in JSON format
func (e *Exporter) exportJSON(pkt *hci.Packet) error {
	pktJSON := PacketJSON{
		FrameNumber: pkt.Number,
		FramePos:    pkt.Position,
		FrameLen:    pkt.TotalLen,
		FrameType:   pkt.TypeName(),
		Tag:         pkt.Tag,
		PayloadLen:  pkt.PayloadLen,
		Info:        pkt.Summary(),
	}

	if h, ok := pkt.Handle(); ok {
		pb := pkt.BoundaryFlags()
		pktJSON.Handle = &h
		pktJSON.PB = &pb
	}
	if c, ok := pkt.EventCode(); ok {
		pktJSON.EventCode = &c
	}
	if e.showHex {
		pktJSON.Data = fmt.Sprintf("%x", pkt.Raw)
	}

	// Marshal to JSON
	data, err := json.Marshal(pktJSON)
	if err != nil {
		return err
	}

	// Handle JSON array formatting
	if e.firstPacket {
		e.firstPacket = false
		_, err = fmt.Fprintf(e.writer, "  %s", data)
	} else {
		_, err = fmt.Fprintf(e.writer, ",\n  %s", data)
	}

	return err
}

// exportFields exports specific fields (for -T fields -e)
func (e *Exporter) exportFields(pkt *hci.Packet) error {
	values := make([]string, len(e.fields))

	for i, fieldName := range e.fields {
		values[i] = e.registry.ExtractString(fieldName, pkt)
	}

	_, err := fmt.Fprintln(e.writer, strings.Join(values, "\t"))
	return err
}

// exportHexDump exports hex dump (for -x)
func (e *Exporter) exportHexDump(pkt *hci.Packet) error {
	data := pkt.Raw

	bytesPerLine := 16
	for i := 0; i < len(data); i += bytesPerLine {
		// Offset
		fmt.Fprintf(e.writer, "%08x  ", i)

		// Hex bytes
		for j := 0; j < bytesPerLine; j++ {
			if i+j < len(data) {
				fmt.Fprintf(e.writer, "%02x ", data[i+j])
			} else {
				fmt.Fprint(e.writer, "   ")
			}
			if j == 7 {
				fmt.Fprint(e.writer, " ")
			}
		}

		// ASCII
		fmt.Fprint(e.writer, " |")
		for j := 0; j < bytesPerLine && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b <= 126 {
				fmt.Fprintf(e.writer, "%c", b)
			} else {
				fmt.Fprint(e.writer, ".")
			}
		}
		fmt.Fprintln(e.writer, "|")
	}

	fmt.Fprintln(e.writer)
	return nil
}
