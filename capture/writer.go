// Package capture writes recovered HCI packets to capture files and reads them back.
package capture

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Zerofisher/hcisnoop/hci"
)

// LinkTypeBluetoothH4 is DLT_BLUETOOTH_HCI_H4: the packet starts with its type tag.
const LinkTypeBluetoothH4 layers.LinkType = 187

// Writer is a capture file sink.
type Writer interface {
	WritePacket(pkt *hci.Packet) error
	Count() int
	Flush() error
	Close() error
}

// Format selects the capture file format.
type Format string

const (
	FormatBtsnoop Format = "btsnoop"
	FormatPcap    Format = "pcap"
	FormatPcapNG  Format = "pcapng"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatBtsnoop, nil
	case FormatBtsnoop, FormatPcap, FormatPcapNG:
		return f, nil
	}
	return "", fmt.Errorf("unknown capture format %q (btsnoop, pcap, pcapng)", s)
}

// Create opens filename for writing in format.
func Create(filename string, format Format) (Writer, error) {
	switch format {
	case FormatBtsnoop, "":
		return NewBtsnoopWriter(filename)
	case FormatPcap:
		return NewPcapWriter(filename, false)
	case FormatPcapNG:
		return NewPcapWriter(filename, true)
	}
	return nil, fmt.Errorf("unknown capture format %q", format)
}

// packetWriter is satisfied by both pcapgo writers.
type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// PcapWriter writes packets to a pcap or pcapng file with the H4 link type.
type PcapWriter struct {
	file     *os.File
	writer   packetWriter
	ng       *pcapgo.NgWriter
	mu       sync.Mutex
	count    int
	filename string
	closed   bool
}

// NewPcapWriter creates filename as pcapng when ng is set, classic pcap otherwise.
func NewPcapWriter(filename string, ng bool) (*PcapWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	w := &PcapWriter{file: file, filename: filename}
	if ng {
		ngOptions := pcapgo.NgWriterOptions{
			SectionInfo: pcapgo.NgSectionInfo{
				Application: "hcisnoop",
			},
		}
		nw, err := pcapgo.NewNgWriterInterface(file, pcapgo.NgInterface{
			Name:       "hci-uart",
			LinkType:   LinkTypeBluetoothH4,
			SnapLength: 65535,
		}, ngOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
		}
		w.writer = nw
		w.ng = nw
	} else {
		pw := pcapgo.NewWriter(file)
		if err := pw.WriteFileHeader(65535, LinkTypeBluetoothH4); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
		w.writer = pw
	}
	return w, nil
}

// WritePacket writes a single packet. Capture time is unknown, so the epoch is used.
func (w *PcapWriter) WritePacket(pkt *hci.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, 0),
		CaptureLength: len(pkt.Raw),
		Length:        len(pkt.Raw),
	}
	if err := w.writer.WritePacket(ci, pkt.Raw); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.count++
	return nil
}

// Flush flushes any buffered data to disk
func (w *PcapWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.ng == nil {
		return nil
	}
	return w.ng.Flush()
}

// Close closes the writer and the underlying file
func (w *PcapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ng != nil {
		if err := w.ng.Flush(); err != nil {
			w.file.Close()
			return fmt.Errorf("failed to flush: %w", err)
		}
	}
	return w.file.Close()
}

// Count returns the number of packets written
func (w *PcapWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Filename returns the output filename
func (w *PcapWriter) Filename() string {
	return w.filename
}

// GenerateFilename generates a unique filename with timestamp
func GenerateFilename(prefix string, format Format) string {
	ts := time.Now().Format("20060102_150405")
	ext := "log"
	if format == FormatPcap || format == FormatPcapNG {
		ext = string(format)
	}
	return fmt.Sprintf("%s_%s.%s", prefix, ts, ext)
}
