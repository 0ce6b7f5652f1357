package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/Zerofisher/hcisnoop/capture"
	"github.com/Zerofisher/hcisnoop/export"
	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/stats"
)

// ExportConfig holds export configuration.
type ExportConfig struct {
	Path     string
	Filter   string
	Format   export.OutputFormat
	MaxCount int
	ShowHex  bool
	Fields   []string
}

// EachPacket reads every record of the capture at path, in order. Records
// that do not frame as a known packet are still passed on with their tag
// byte and raw bytes so nothing in the file is hidden.
func EachPacket(path string, fn func(*hci.Packet) error) error {
	src, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	for n := 1; ; n++ {
		data, _, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading record %d: %w", n, err)
		}
		if len(data) == 0 {
			continue
		}

		pkt, err := hci.Parse(data)
		if err != nil {
			pkt = &hci.Packet{Tag: data[0], Raw: data, TotalLen: len(data)}
		}
		pkt.Number = n
		if err := fn(pkt); err != nil {
			return err
		}
	}
}

// errStop ends EachPacket early without reporting an error.
var errStop = errors.New("stop")

// RunExport executes the export flow: read -> filter -> export.
func RunExport(out io.Writer, cfg ExportConfig) error {
	// 1. Compile packet filter
	filterFunc, err := CompilePacketFilter(cfg.Filter)
	if err != nil {
		return fmt.Errorf("error compiling packet filter: %w", err)
	}

	// 2. Create exporter
	exporter := export.NewExporter(out, cfg.Format)
	exporter.SetMaxCount(cfg.MaxCount)
	exporter.SetShowHex(cfg.ShowHex)
	if cfg.Format == export.FormatFields {
		if err := ValidateFields(cfg.Fields); err != nil {
			return err
		}
		if err := exporter.SetFields(cfg.Fields); err != nil {
			return err
		}
	}

	if err := exporter.Start(); err != nil {
		return fmt.Errorf("error starting export: %w", err)
	}

	// 3. Process packets
	err = EachPacket(cfg.Path, func(pkt *hci.Packet) error {
		if filterFunc != nil && !filterFunc(pkt) {
			return nil
		}
		if err := exporter.ExportPacket(pkt); err != nil {
			return fmt.Errorf("error exporting packet: %w", err)
		}
		if exporter.ShouldStop() {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}

	return exporter.Finish()
}

// RunStats collects statistics over the packets of a capture file.
func RunStats(path, filterStr string) (*stats.Manager, error) {
	filterFunc, err := CompilePacketFilter(filterStr)
	if err != nil {
		return nil, fmt.Errorf("error compiling packet filter: %w", err)
	}

	m := stats.NewManager()
	err = EachPacket(path, func(pkt *hci.Packet) error {
		if filterFunc != nil && !filterFunc(pkt) {
			m.Observe(extract.Event{Kind: extract.EventFiltered, Tag: pkt.Tag, Len: pkt.TotalLen, Packet: pkt})
			return nil
		}
		m.ProcessPacket(pkt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ValidateFields checks if required fields are provided for fields export.
func ValidateFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("at least one field must be specified with -e")
	}
	return nil
}
