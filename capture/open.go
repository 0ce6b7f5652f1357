package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PacketSource yields packet bytes from a capture file of any supported format.
type PacketSource interface {
	gopacket.PacketDataSource
	Format() Format
	Close() error
}

type fileSource struct {
	gopacket.PacketDataSource
	format Format
	file   *os.File
}

func (s *fileSource) Format() Format {
	return s.format
}

func (s *fileSource) Close() error {
	return s.file.Close()
}

// Open detects the format of filename and returns a reader for it.
func Open(filename string) (PacketSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(BtsnoopMagic))
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	src := &fileSource{file: f}
	switch {
	case bytes.Equal(magic, []byte(BtsnoopMagic)):
		r, err := NewBtsnoopReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		src.PacketDataSource, src.format = r, FormatBtsnoop
	case bytes.HasPrefix(magic, pcapngMagic):
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		src.PacketDataSource, src.format = r, FormatPcapNG
	default:
		r, err := pcapgo.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		src.PacketDataSource, src.format = r, FormatPcap
	}
	return src, nil
}
