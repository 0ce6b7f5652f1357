package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/hcisnoop/capture"
	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/memory"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

const base = 0x3c00_0000

// packets used throughout; bigAcl declares a 32 byte payload but carries 4
var (
	aclPkt = []byte{0x02, 0x40, 0x20, 0x02, 0x00, 0xca, 0xfe}
	evtPkt = []byte{0x04, 0x0e, 0x03, 0x01, 0x03, 0x0c}
	isoPkt = []byte{0x05, 0x60, 0x00, 0x03, 0x00, 0x11, 0x22, 0x33}
	lePkt  = []byte{0x04, 0x3e, 0x05, 0x02, 0x01, 0x00, 0x00, 0x00}
	bigAcl = []byte{0x02, 0x41, 0x00, 0x20, 0x00, 0x01, 0x02, 0x03, 0x04}
)

// ring is a synthetic circular buffer mapped at base.
type ring struct {
	data []byte
}

func newRing(capacity int) *ring {
	return &ring{data: make([]byte, capacity)}
}

// put writes b at logical position pos, wrapping at the capacity.
func (r *ring) put(pos uint64, b ...[]byte) uint64 {
	for _, chunk := range b {
		for _, c := range chunk {
			r.data[pos%uint64(len(r.data))] = c
			pos++
		}
	}
	return pos
}

func (r *ring) desc(tail, head uint64) ringbuf.Descriptor {
	return ringbuf.Descriptor{Base: base, Capacity: uint64(len(r.data)), Head: head, Tail: tail}
}

func (r *ring) source() memory.Source {
	return memory.NewImage(base, r.data)
}

type collector struct {
	packets [][]byte
}

func (c *collector) WritePacket(pkt *hci.Packet) error {
	c.packets = append(c.packets, append([]byte(nil), pkt.Raw...))
	return nil
}

type failingSink struct{}

func (failingSink) WritePacket(*hci.Packet) error { return errors.New("disk full") }

type eventLog struct {
	events []Event
}

func (l *eventLog) Observe(ev Event) { l.events = append(l.events, ev) }

func newExtractor(src memory.Source) (*Extractor, *collector) {
	log, _ := logtest.NewNullLogger()
	e := New(ringbuf.NewReader(src), log)
	c := &collector{}
	e.AddSink(c)
	return e, c
}

func TestRunCleanStream(t *testing.T) {
	r := newRing(64)
	head := r.put(0, aclPkt, evtPkt, isoPkt)

	e, c := newExtractor(r.source())
	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.NoError(t, err)

	assert.Equal(t, [][]byte{aclPkt, evtPkt, isoPkt}, c.packets)
	assert.Equal(t, 3, res.Packets)
	assert.Equal(t, int64(len(aclPkt)+len(evtPkt)+len(isoPkt)), res.Bytes)
	assert.Zero(t, res.Desyncs)
	assert.Zero(t, res.Truncated)
}

func TestRunAcrossPhysicalWrap(t *testing.T) {
	r := newRing(24)
	// cursors already on their fifth lap, stream straddles the physical end
	tail := uint64(4*24 + 20)
	head := r.put(tail, aclPkt, lePkt, evtPkt)

	e, c := newExtractor(r.source())
	_, err := e.Run(context.Background(), r.desc(tail, head), ringbuf.Incremental)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{aclPkt, lePkt, evtPkt}, c.packets)
}

func TestRunResyncAfterStrayByte(t *testing.T) {
	r := newRing(64)
	head := r.put(10, []byte{0xff}, aclPkt, evtPkt, isoPkt)

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	e := New(ringbuf.NewReader(r.source()), log)
	c := &collector{}
	e.AddSink(c)

	res, err := e.Run(context.Background(), r.desc(10, head), ringbuf.Incremental)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{aclPkt, evtPkt, isoPkt}, c.packets)
	assert.Equal(t, 1, res.Desyncs)

	var lost bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.DebugLevel && bytes.Contains([]byte(entry.Message), []byte("lost framing")) {
			lost = true
		}
	}
	assert.True(t, lost, "desync should be logged at debug level")
}

func TestRunHeaderPastWindowEnd(t *testing.T) {
	r := newRing(64)
	// a lone ACL tag with only two header bytes before head
	head := r.put(0, evtPkt, []byte{0x02, 0x40, 0x20})

	e, c := newExtractor(r.source())
	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{evtPkt}, c.packets)
	// the tag and each header byte are retried one at a time
	assert.Equal(t, 3, res.Desyncs)
}

func TestRunTruncatedTail(t *testing.T) {
	r := newRing(64)
	head := r.put(0, aclPkt, evtPkt, bigAcl)

	e, c := newExtractor(r.source())
	ev := &eventLog{}
	e.AddObserver(ev)

	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{aclPkt, evtPkt}, c.packets)
	assert.Equal(t, 1, res.Truncated)
	assert.Zero(t, res.Desyncs, "cursor must jump the declared extent, not crawl through the payload")

	last := ev.events[len(ev.events)-1]
	assert.Equal(t, EventTruncated, last.Kind)
	assert.Equal(t, uint64(len(aclPkt)+len(evtPkt)), last.Pos)
	assert.Equal(t, 5+0x20, last.Len)
}

func TestRunDeclaredLengthConsumesPayload(t *testing.T) {
	r := newRing(128)
	// the ACL declares a 6 byte payload, which covers the event that follows
	head := r.put(0, []byte{0x02, 0x01, 0x00, 0x06, 0x00}, evtPkt, isoPkt)

	e, c := newExtractor(r.source())
	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Packets)
	assert.Len(t, c.packets[0], 11)
	assert.Equal(t, isoPkt, c.packets[1])
}

func TestRunFullHistory(t *testing.T) {
	r := newRing(32)
	p2 := r.put(0, aclPkt, evtPkt) // consumed history
	head := r.put(p2, isoPkt)

	t.Run("incremental sees unread data only", func(t *testing.T) {
		e, c := newExtractor(r.source())
		_, err := e.Run(context.Background(), r.desc(p2, head), ringbuf.Incremental)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{isoPkt}, c.packets)
	})

	t.Run("full history walks one lap from tail", func(t *testing.T) {
		e, c := newExtractor(r.source())
		res, err := e.Run(context.Background(), r.desc(p2, head), ringbuf.FullHistory)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{isoPkt, aclPkt, evtPkt}, c.packets)
		assert.Equal(t, uint64(32), res.End-res.Start)
		assert.Equal(t, 32-int(head), res.Desyncs, "never written bytes are skipped")
	})
}

func TestRunEmptyStates(t *testing.T) {
	r := newRing(16)
	rec := memory.NewRecorder(r.source())
	e := New(ringbuf.NewReader(rec), nil)

	tests := []struct {
		name string
		desc ringbuf.Descriptor
		mode ringbuf.Mode
		want error
	}{
		{"null base", ringbuf.Descriptor{Capacity: 16, Head: 4}, ringbuf.Incremental, ErrUninitializedBuffer},
		{"zero capacity", ringbuf.Descriptor{Base: base, Head: 4}, ringbuf.FullHistory, ErrUninitializedBuffer},
		{"nothing unread", r.desc(40, 40), ringbuf.Incremental, ErrNothingToExtract},
		{"tail past head", r.desc(41, 40), ringbuf.Incremental, ErrNothingToExtract},
		{"never written", r.desc(0, 0), ringbuf.FullHistory, ErrEmptyHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				res, err := e.Run(context.Background(), tt.desc, tt.mode)
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
				assert.Nil(t, res)
			}
			assert.Empty(t, rec.Reads())
		})
	}
}

func TestRunFilter(t *testing.T) {
	r := newRing(64)
	head := r.put(0, aclPkt, evtPkt, lePkt, isoPkt)

	e, c := newExtractor(r.source())
	e.Filter = func(p *hci.Packet) bool { return p.Tag == hci.TagEvent }

	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{evtPkt, lePkt}, c.packets)
	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, 2, res.Packets)
}

func TestRunSinkFailure(t *testing.T) {
	r := newRing(64)
	head := r.put(0, aclPkt, evtPkt)

	e := New(ringbuf.NewReader(r.source()), nil)
	e.AddSink(failingSink{})

	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.NotNil(t, res)
	assert.Zero(t, res.Packets)
}

func TestRunUnreadableRegion(t *testing.T) {
	r := newRing(64)
	head := r.put(0, aclPkt, evtPkt)
	// descriptor claims more storage than is mapped
	img := memory.NewImage(base, r.data[:len(aclPkt)+len(evtPkt)])
	d := ringbuf.Descriptor{Base: base, Capacity: 64, Head: head, Tail: 0}

	log, hook := logtest.NewNullLogger()
	e := New(ringbuf.NewReader(img), log)
	c := &collector{}
	e.AddSink(c)

	res, err := e.Run(context.Background(), d, ringbuf.FullHistory)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{aclPkt, evtPkt}, c.packets)
	assert.Equal(t, 64-int(head), res.Desyncs)

	var warnings []*logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings = append(warnings, entry)
		}
	}
	require.Len(t, warnings, 1, "one warning per unreadable region")
	assert.Contains(t, warnings[0].Message, "unreadable memory")
	assert.Equal(t, head, warnings[0].Data["pos"])
}

func TestRunLappedRing(t *testing.T) {
	r := newRing(16)
	// four events from tail 0; the last two overwrite the first lap
	head := r.put(0, evtPkt, evtPkt, evtPkt, evtPkt)
	require.Equal(t, uint64(24), head)

	log, hook := logtest.NewNullLogger()
	e := New(ringbuf.NewReader(r.source()), log)
	c := &collector{}
	e.AddSink(c)

	res, err := e.Run(context.Background(), r.desc(0, head), ringbuf.Incremental)
	require.NoError(t, err)

	assert.Equal(t, uint64(8), res.Start)
	assert.Equal(t, uint64(24), res.End)
	assert.Equal(t, [][]byte{evtPkt, evtPkt}, c.packets)
	// the tail end of the second event precedes the first complete one
	assert.Equal(t, 4, res.Desyncs)
	assert.Zero(t, res.Truncated)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRunCancelled(t *testing.T) {
	r := newRing(64)
	head := r.put(0, aclPkt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newExtractor(r.source())
	_, err := e.Run(ctx, r.desc(0, head), ringbuf.Incremental)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunWritesBtsnoop(t *testing.T) {
	r := newRing(48)
	tail := uint64(40)
	head := r.put(tail, []byte{0x00}, evtPkt, aclPkt)

	var buf bytes.Buffer
	w, err := capture.NewBtsnoopStream(&buf)
	require.NoError(t, err)

	e := New(ringbuf.NewReader(r.source()), nil)
	e.AddSink(w)
	res, err := e.Run(context.Background(), r.desc(tail, head), ringbuf.Incremental)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 2, res.Packets)

	out := buf.Bytes()
	assert.Equal(t, capture.FileHeader(), out[:capture.FileHeaderLen])

	off := capture.FileHeaderLen
	for _, want := range [][]byte{evtPkt, aclPkt} {
		rec := out[off : off+capture.RecordHeaderLen]
		assert.Equal(t, uint32(len(want)), binary.BigEndian.Uint32(rec[0:4]))
		assert.Equal(t, uint32(len(want)), binary.BigEndian.Uint32(rec[4:8]))
		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(rec[8:12]))
		off += capture.RecordHeaderLen
		assert.Equal(t, want, out[off:off+len(want)])
		off += len(want)
	}
	assert.Equal(t, len(out), off)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "desync", EventDesync.String())
	assert.Equal(t, "EventKind(9)", EventKind(9).String())
}
