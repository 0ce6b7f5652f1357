// Package extract frames HCI packets out of a circular buffer snapshot and
// hands them to capture sinks.
//
// Framing is best effort. An unknown type tag or a header that does not fit
// in the scan window moves the cursor forward one byte; a packet whose declared
// length runs past the window is dropped and the cursor jumps over its
// declared extent. Neither condition is reported to the caller.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/memory"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

var (
	// ErrUninitializedBuffer means the descriptor has no storage attached.
	ErrUninitializedBuffer = errors.New("circular buffer is not initialized")
	// ErrNothingToExtract means an incremental scan found no unread data.
	ErrNothingToExtract = errors.New("all the cache buffer has been read")
	// ErrEmptyHistory means the buffer has never been written.
	ErrEmptyHistory = errors.New("all historical buffers are empty")
	// ErrIO wraps failures of a capture sink.
	ErrIO = errors.New("capture write failed")
)

// Sink receives recovered packets.
type Sink interface {
	WritePacket(pkt *hci.Packet) error
}

// EventKind classifies what the framer saw at a cursor position.
type EventKind int

const (
	EventPacket EventKind = iota
	EventFiltered
	EventDesync
	EventTruncated
)

func (k EventKind) String() string {
	switch k {
	case EventPacket:
		return "packet"
	case EventFiltered:
		return "filtered"
	case EventDesync:
		return "desync"
	case EventTruncated:
		return "truncated"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is reported to observers for every framing decision.
type Event struct {
	Kind   EventKind
	Pos    uint64
	Tag    byte
	Len    int         // bytes consumed by this decision
	Packet *hci.Packet // set for EventPacket and EventFiltered
}

// Observer is notified of framing events.
type Observer interface {
	Observe(ev Event)
}

// Result summarizes one extraction.
type Result struct {
	Descriptor ringbuf.Descriptor
	Mode       ringbuf.Mode
	Start, End uint64
	Packets    int
	Bytes      int64
	Filtered   int
	Desyncs    int // bytes skipped one at a time
	Truncated  int
}

// Extractor drives the framer over a ring buffer.
type Extractor struct {
	Reader    *ringbuf.Reader
	Sinks     []Sink
	Observers []Observer
	// Filter, when set, decides which framed packets reach the sinks.
	Filter func(*hci.Packet) bool
	Log    logrus.FieldLogger
}

// New returns an Extractor reading through r.
func New(r *ringbuf.Reader, log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{Reader: r, Log: log}
}

// AddSink registers a packet sink.
func (e *Extractor) AddSink(s Sink) {
	e.Sinks = append(e.Sinks, s)
}

// AddObserver registers a framing observer.
func (e *Extractor) AddObserver(o Observer) {
	e.Observers = append(e.Observers, o)
}

// Check validates a descriptor before anything is written.
func Check(d ringbuf.Descriptor, mode ringbuf.Mode) error {
	if !d.Initialized() {
		return ErrUninitializedBuffer
	}
	if mode == ringbuf.Incremental && d.Used() <= 0 {
		return ErrNothingToExtract
	}
	if mode == ringbuf.FullHistory && d.Head == 0 {
		return ErrEmptyHistory
	}
	return nil
}

// Run frames every packet in the scan window of mode.
func (e *Extractor) Run(ctx context.Context, d ringbuf.Descriptor, mode ringbuf.Mode) (*Result, error) {
	if err := Check(d, mode); err != nil {
		return nil, err
	}

	start, end := ringbuf.Window(d, mode)
	if end-start > d.Capacity {
		// The writer lapped the reader; only the newest lap is still stored.
		e.Log.WithField("used", d.Used()).Warnf("descriptor reports more data than capacity %d, scanning the last lap", d.Capacity)
		start = end - d.Capacity
	}

	res := &Result{Descriptor: d, Mode: mode, Start: start, End: end}
	log := e.Log.WithFields(logrus.Fields{"mode": mode.String(), "start": start, "end": end})
	log.Debugf("scanning %d bytes", end-start)

	var desyncAt uint64
	inDesync := false
	skip := func(pos uint64, tag byte) {
		if !inDesync {
			inDesync = true
			desyncAt = pos
			log.WithField("pos", pos).Debugf("lost framing at tag 0x%02x", tag)
		}
		res.Desyncs++
		e.notify(Event{Kind: EventDesync, Pos: pos, Tag: tag, Len: 1})
	}

	inFault := false
	read := func(pos uint64, n int) ([]byte, error) {
		data, err := e.read(d, pos, n, end)
		if errors.Is(err, memory.ErrFault) {
			if !inFault {
				inFault = true
				log.WithField("pos", pos).Warnf("unreadable memory: %v", err)
			}
			return nil, nil
		}
		if err == nil {
			inFault = false
		}
		return data, err
	}

	pos := start
	for pos < end {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		tagBuf, err := read(pos, 1)
		if err != nil {
			return res, err
		}
		if len(tagBuf) < 1 {
			skip(pos, 0)
			pos++
			continue
		}
		tag := tagBuf[0]

		shape, ok := hci.Lookup(tag)
		if !ok {
			skip(pos, tag)
			pos++
			continue
		}

		prefix, err := read(pos, shape.PrefixLen())
		if err != nil {
			return res, err
		}
		if len(prefix) < shape.PrefixLen() {
			skip(pos, tag)
			pos++
			continue
		}

		payloadLen, err := shape.PayloadLen(prefix)
		if err != nil {
			skip(pos, tag)
			pos++
			continue
		}
		total := shape.PrefixLen() + payloadLen

		data, err := read(pos, total)
		if err != nil {
			return res, err
		}
		if len(data) < total {
			log.WithField("pos", pos).Debugf("%s packet of %d bytes truncated at %d bytes", shape.Name, total, len(data))
			res.Truncated++
			e.notify(Event{Kind: EventTruncated, Pos: pos, Tag: tag, Len: total})
			pos += uint64(total)
			continue
		}

		if inDesync {
			log.WithField("pos", pos).Debugf("resynchronized after %d bytes", pos-desyncAt)
			inDesync = false
		}

		pkt := &hci.Packet{
			Tag:        tag,
			Header:     data[1:shape.PrefixLen()],
			PayloadLen: payloadLen,
			TotalLen:   total,
			Raw:        data,
			Position:   pos,
			Number:     res.Packets + res.Filtered + 1,
		}

		if e.Filter != nil && !e.Filter(pkt) {
			res.Filtered++
			e.notify(Event{Kind: EventFiltered, Pos: pos, Tag: tag, Len: total, Packet: pkt})
			pos += uint64(total)
			continue
		}

		for _, s := range e.Sinks {
			if err := s.WritePacket(pkt); err != nil {
				return res, fmt.Errorf("%w: %w", ErrIO, err)
			}
		}
		res.Packets++
		res.Bytes += int64(total)
		e.notify(Event{Kind: EventPacket, Pos: pos, Tag: tag, Len: total, Packet: pkt})

		pos += uint64(total)
	}

	log.WithFields(logrus.Fields{
		"packets":   res.Packets,
		"desyncs":   res.Desyncs,
		"truncated": res.Truncated,
	}).Debug("scan complete")
	return res, nil
}

// read returns up to n bytes at pos without crossing the window end. A short
// slice means the bytes are not available. Run turns memory faults into
// empty reads so one unreadable region does not end the scan.
func (e *Extractor) read(d ringbuf.Descriptor, pos uint64, n int, end uint64) ([]byte, error) {
	if avail := end - pos; uint64(n) > avail {
		n = int(avail)
	}
	return e.Reader.Read(d, pos, n)
}

func (e *Extractor) notify(ev Event) {
	for _, o := range e.Observers {
		o.Observe(ev)
	}
}
