package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
)

// ErrNotBtsnoop is returned when a file does not start with the btsnoop magic.
var ErrNotBtsnoop = errors.New("not a btsnoop file")

// BtsnoopReader iterates the records of a btsnoop capture. It implements
// gopacket.PacketDataSource.
type BtsnoopReader struct {
	r        *bufio.Reader
	closer   io.Closer
	version  uint32
	datalink uint32
	offset   int64
}

var _ gopacket.PacketDataSource = (*BtsnoopReader)(nil)

// OpenBtsnoop opens filename and validates its header.
func OpenBtsnoop(filename string) (*BtsnoopReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	r, err := NewBtsnoopReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	r.closer = f
	return r, nil
}

// NewBtsnoopReader reads the file header from r.
func NewBtsnoopReader(r io.Reader) (*BtsnoopReader, error) {
	br := &BtsnoopReader{r: bufio.NewReader(r)}
	hdr := make([]byte, FileHeaderLen)
	if _, err := io.ReadFull(br.r, hdr); err != nil {
		return nil, fmt.Errorf("read file header: %w", err)
	}
	if string(hdr[:8]) != BtsnoopMagic {
		return nil, ErrNotBtsnoop
	}
	br.version = binary.BigEndian.Uint32(hdr[8:12])
	br.datalink = binary.BigEndian.Uint32(hdr[12:16])
	br.offset = FileHeaderLen
	return br, nil
}

// Version returns the format version from the file header.
func (r *BtsnoopReader) Version() uint32 { return r.version }

// Datalink returns the datalink type from the file header.
func (r *BtsnoopReader) Datalink() uint32 { return r.datalink }

// Offset returns the file offset of the next record.
func (r *BtsnoopReader) Offset() int64 { return r.offset }

// Next returns the next record header and its packet bytes. It returns io.EOF
// after the last complete record and io.ErrUnexpectedEOF on a torn record.
func (r *BtsnoopReader) Next() (Record, []byte, error) {
	hdr := make([]byte, RecordHeaderLen)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return Record{}, nil, err
	}
	rec := Record{
		CapturedLen: binary.BigEndian.Uint32(hdr[0:4]),
		OriginalLen: binary.BigEndian.Uint32(hdr[4:8]),
		Flags:       binary.BigEndian.Uint32(hdr[8:12]),
		Drops:       binary.BigEndian.Uint32(hdr[12:16]),
		Timestamp:   binary.BigEndian.Uint64(hdr[16:24]),
	}
	data := make([]byte, rec.CapturedLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return rec, nil, err
	}
	r.offset += RecordHeaderLen + int64(rec.CapturedLen)
	return rec, data, nil
}

// ReadPacketData implements gopacket.PacketDataSource.
func (r *BtsnoopReader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	rec, data, err := r.Next()
	if err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	return data, gopacket.CaptureInfo{
		Timestamp:     rec.Time(),
		CaptureLength: int(rec.CapturedLen),
		Length:        int(rec.OriginalLen),
	}, nil
}

// Close closes the underlying file when the reader was opened by OpenBtsnoop.
func (r *BtsnoopReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Time converts the record timestamp. A zero timestamp yields the zero time.
func (r Record) Time() time.Time {
	if r.Timestamp == 0 {
		return time.Time{}
	}
	us := int64(r.Timestamp - btsnoopEpochDelta)
	return time.UnixMicro(us).UTC()
}

// Received reports the direction bit.
func (r Record) Received() bool {
	return r.Flags&FlagReceived != 0
}
