package app

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

// BufferInfo describes one named buffer without extracting from it.
type BufferInfo struct {
	Name       string
	Descriptor ringbuf.Descriptor
	Err        error
}

// State is a short verdict for each mode, mirroring what extract would report.
func (b BufferInfo) State(mode ringbuf.Mode) string {
	if b.Err != nil {
		return "error"
	}
	switch err := extract.Check(b.Descriptor, mode); {
	case err == nil:
		start, end := ringbuf.Window(b.Descriptor, mode)
		return fmt.Sprintf("[%d,%d)", start, end)
	case errors.Is(err, extract.ErrUninitializedBuffer):
		return "uninitialized"
	case errors.Is(err, extract.ErrNothingToExtract):
		return "no new data"
	case errors.Is(err, extract.ErrEmptyHistory):
		return "empty"
	default:
		return err.Error()
	}
}

// Inspect looks up each name. With no names, every buffer the locator can
// enumerate is inspected.
func Inspect(l ringbuf.Locator, names []string) []BufferInfo {
	if len(names) == 0 {
		names = ringbuf.Names(l)
	}
	infos := make([]BufferInfo, 0, len(names))
	for _, name := range names {
		d, err := l.Lookup(name)
		infos = append(infos, BufferInfo{Name: name, Descriptor: d, Err: err})
	}
	return infos
}

// PrintInspect writes a table of buffer states.
func PrintInspect(w io.Writer, infos []BufferInfo) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "BUFFER\tBASE\tSIZE\tHEAD\tTAIL\tUSED\tINCREMENTAL\tFULL")
	for _, b := range infos {
		if b.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t%v\t\n", b.Name, b.Err)
			continue
		}
		d := b.Descriptor
		fmt.Fprintf(tw, "%s\t0x%x\t%d\t%d\t%d\t%d\t%s\t%s\n",
			b.Name, d.Base, d.Capacity, d.Head, d.Tail, d.Used(),
			b.State(ringbuf.Incremental), b.State(ringbuf.FullHistory))
	}
	return tw.Flush()
}
