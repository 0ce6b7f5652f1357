package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Zerofisher/hcisnoop/hci"
)

// btsnoop file constants.
const (
	BtsnoopMagic      = "btsnoop\x00"
	BtsnoopVersion    = 1
	DatalinkHCIUART   = 1002 // H4: packets carry their type tag
	FileHeaderLen     = 16
	RecordHeaderLen   = 24
	FlagReceived      = 1
	btsnoopEpochDelta = 0x00E03AB44A676000 // microseconds from 0 AD to 1970-01-01
)

// Record is the fixed header preceding each packet in a btsnoop file.
type Record struct {
	CapturedLen uint32
	OriginalLen uint32
	Flags       uint32
	Drops       uint32
	Timestamp   uint64
}

// MarshalBinary encodes the 24 byte big-endian record header.
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordHeaderLen)
	binary.BigEndian.PutUint32(b[0:4], r.CapturedLen)
	binary.BigEndian.PutUint32(b[4:8], r.OriginalLen)
	binary.BigEndian.PutUint32(b[8:12], r.Flags)
	binary.BigEndian.PutUint32(b[12:16], r.Drops)
	binary.BigEndian.PutUint64(b[16:24], r.Timestamp)
	return b, nil
}

// FileHeader returns the 16 byte btsnoop file header.
func FileHeader() []byte {
	b := make([]byte, FileHeaderLen)
	copy(b, BtsnoopMagic)
	binary.BigEndian.PutUint32(b[8:12], BtsnoopVersion)
	binary.BigEndian.PutUint32(b[12:16], DatalinkHCIUART)
	return b
}

// BtsnoopWriter appends recovered packets to a btsnoop capture.
type BtsnoopWriter struct {
	file     *os.File // nil when writing to a caller supplied io.Writer
	w        *bufio.Writer
	mu       sync.Mutex
	count    int
	filename string
	closed   bool
}

// NewBtsnoopWriter creates filename and writes the file header.
func NewBtsnoopWriter(filename string) (*BtsnoopWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	bw, err := newBtsnoopWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	bw.file = file
	bw.filename = filename
	return bw, nil
}

// NewBtsnoopStream writes a btsnoop capture to w.
func NewBtsnoopStream(w io.Writer) (*BtsnoopWriter, error) {
	return newBtsnoopWriter(w)
}

func newBtsnoopWriter(w io.Writer) (*BtsnoopWriter, error) {
	bw := &BtsnoopWriter{w: bufio.NewWriter(w)}
	if _, err := bw.w.Write(FileHeader()); err != nil {
		return nil, fmt.Errorf("failed to write btsnoop header: %w", err)
	}
	return bw, nil
}

// WritePacket appends one record. Direction and time are not recoverable
// from the buffer, so every record is marked received with a zero timestamp.
func (w *BtsnoopWriter) WritePacket(pkt *hci.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	hdr, _ := Record{
		CapturedLen: uint32(len(pkt.Raw)),
		OriginalLen: uint32(len(pkt.Raw)),
		Flags:       FlagReceived,
	}.MarshalBinary()

	if _, err := w.w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write record header: %w", err)
	}
	if _, err := w.w.Write(pkt.Raw); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.count++
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *BtsnoopWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	return w.w.Flush()
}

// Close flushes and closes the file, if the writer owns one.
func (w *BtsnoopWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return fmt.Errorf("failed to flush: %w", err)
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Count returns the number of records written.
func (w *BtsnoopWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Filename returns the output filename, empty for stream writers.
func (w *BtsnoopWriter) Filename() string {
	return w.filename
}
