package ingest

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/hci"
	"github.com/Zerofisher/hcisnoop/pkg/model"
	"github.com/Zerofisher/hcisnoop/pkg/store"
	"github.com/Zerofisher/hcisnoop/pkg/store/sqlite"
	"github.com/Zerofisher/hcisnoop/ringbuf"
)

func packet(t *testing.T, raw []byte, pos uint64) *hci.Packet {
	t.Helper()
	pkt, err := hci.Parse(raw)
	require.NoError(t, err)
	pkt.Position = pos
	return pkt
}

func TestIndexerWritesPacketsAndMeta(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "snoop.log")
	desc := ringbuf.Descriptor{Base: 0x1000, Capacity: 32, Head: 40, Tail: 20}

	ix, err := New(Config{
		CapturePath: capture,
		Buffer:      "bt_snoop",
		Descriptor:  desc,
		Mode:        ringbuf.Incremental,
		BatchSize:   1,
	})
	require.NoError(t, err)

	require.NoError(t, ix.WritePacket(packet(t, []byte{0x02, 0x40, 0x20, 0x02, 0x00, 0xca, 0xfe}, 20)))
	require.NoError(t, ix.WritePacket(packet(t, []byte{0x04, 0x0e, 0x03, 0x01, 0x03, 0x0c}, 30)))

	res, err := ix.Finish(&extract.Result{Packets: 2, Desyncs: 3, Truncated: 1})
	require.NoError(t, err)
	assert.Equal(t, sqlite.IndexPath(capture), res.IndexPath)
	assert.Equal(t, 2, res.TotalPackets)
	assert.Equal(t, int64(13), res.TotalBytes)
	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)

	st, err := sqlite.NewFromCapture(capture, true)
	require.NoError(t, err)
	defer st.Close()

	meta, err := st.GetMeta()
	require.NoError(t, err)
	assert.Equal(t, res.RunID, meta.RunID)
	assert.Equal(t, "bt_snoop", meta.Buffer)
	assert.Equal(t, "incremental", meta.Mode)
	assert.Equal(t, uint64(40), meta.Head)
	assert.Equal(t, 3, meta.SkippedBytes)
	assert.Equal(t, 1, meta.Truncated)
	assert.True(t, meta.IndexComplete)

	pkts, err := st.Packets(store.PacketFilter{})
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Equal(t, 1, pkts[0].Number)
	assert.Equal(t, uint64(20), pkts[0].Offset)
	assert.Equal(t, 2, pkts[1].Number)
	assert.Equal(t, "event", pkts[1].Type)
}

func TestIndexerClosed(t *testing.T) {
	ix, err := New(Config{CapturePath: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	require.NoError(t, ix.Abort(nil))

	err = ix.WritePacket(packet(t, []byte{0x04, 0x0e, 0x00}, 0))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndexerIncompleteRun(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "snoop.log")
	ix, err := New(Config{CapturePath: capture})
	require.NoError(t, err)
	require.NoError(t, ix.WritePacket(packet(t, []byte{0x04, 0x0e, 0x00}, 0)))

	_, err = ix.Finish(nil)
	require.NoError(t, err)

	st, err := sqlite.NewFromCapture(capture, true)
	require.NoError(t, err)
	defer st.Close()
	meta, err := st.GetMeta()
	require.NoError(t, err)
	assert.False(t, meta.IndexComplete)
	assert.Equal(t, 1, meta.TotalPackets)
}

func TestIndexerAbortKeepsRunMeta(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "snoop.log")
	desc := ringbuf.Descriptor{Base: 0x1000, Capacity: 32, Head: 40, Tail: 20}
	ix, err := New(Config{
		CapturePath: capture,
		Buffer:      "bt_snoop",
		Descriptor:  desc,
		Mode:        ringbuf.Incremental,
	})
	require.NoError(t, err)
	require.NoError(t, ix.WritePacket(packet(t, []byte{0x04, 0x0e, 0x00}, 20)))

	require.NoError(t, ix.Abort(&extract.Result{Packets: 1, Desyncs: 2}))
	assert.ErrorIs(t, ix.Abort(nil), ErrClosed)

	st, err := sqlite.NewFromCapture(capture, true)
	require.NoError(t, err)
	defer st.Close()

	meta, err := st.GetMeta()
	require.NoError(t, err)
	assert.False(t, meta.IndexComplete)
	assert.Equal(t, ix.RunID(), meta.RunID)
	assert.Equal(t, "bt_snoop", meta.Buffer)
	assert.Equal(t, uint64(40), meta.Head)
	assert.Equal(t, uint64(32), meta.Capacity)
	assert.Equal(t, 1, meta.TotalPackets)
	assert.Equal(t, 2, meta.SkippedBytes)

	pkts, err := st.Packets(store.PacketFilter{})
	require.NoError(t, err)
	assert.Len(t, pkts, 1)
}

// brokenStore fails every batch.
type brokenStore struct {
	store.Store
	closed bool
}

func (b *brokenStore) BeginBatch() error { return errors.New("disk full") }
func (b *brokenStore) Close() error      { b.closed = true; return nil }
func (b *brokenStore) SetMeta(*model.IndexMeta) error {
	return nil
}

func TestIndexerSurfacesWriteErrors(t *testing.T) {
	st := &brokenStore{}
	ix := NewWithStore(st, Config{BatchSize: 1})

	require.NoError(t, ix.WritePacket(packet(t, []byte{0x04, 0x0e, 0x00}, 0)))

	_, err := ix.Finish(&extract.Result{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, st.closed)
}
