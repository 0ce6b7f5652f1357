package stats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/hcisnoop/extract"
	"github.com/Zerofisher/hcisnoop/hci"
)

func packet(t *testing.T, raw ...byte) *hci.Packet {
	t.Helper()
	p, err := hci.Parse(raw)
	require.NoError(t, err)
	return p
}

func TestManagerObserve(t *testing.T) {
	m := NewManager()

	m.Observe(extract.Event{Kind: extract.EventPacket, Packet: packet(t, 0x02, 0x40, 0x20, 0x01, 0x00, 0xaa)})
	m.Observe(extract.Event{Kind: extract.EventPacket, Packet: packet(t, 0x02, 0x40, 0x10, 0x02, 0x00, 0xaa, 0xbb)})
	m.Observe(extract.Event{Kind: extract.EventPacket, Packet: packet(t, 0x04, 0x13, 0x00)})
	m.Observe(extract.Event{Kind: extract.EventPacket, Packet: packet(t, 0x04, 0x13, 0x01, 0x00)})
	m.Observe(extract.Event{Kind: extract.EventPacket, Packet: packet(t, 0x05, 0x61, 0x00, 0x00, 0x00)})
	m.Observe(extract.Event{Kind: extract.EventDesync})
	m.Observe(extract.Event{Kind: extract.EventDesync})
	m.Observe(extract.Event{Kind: extract.EventTruncated})
	m.Observe(extract.Event{Kind: extract.EventFiltered, Packet: packet(t, 0x04, 0x0e, 0x00)})

	assert.Equal(t, 5, m.TotalPackets())
	assert.Equal(t, int64(6+7+3+4+5), m.TotalBytes())
	assert.Equal(t, 2, m.Desyncs())
	assert.Equal(t, 1, m.Truncated())
	assert.Equal(t, 1, m.Filtered())
	assert.Equal(t, 2, m.EventCount(0x13))
	assert.Zero(t, m.EventCount(0x0e))

	types := m.Types()
	require.Len(t, types, 3)
	assert.Equal(t, "acl", types[0].Name)
	assert.Equal(t, 6, types[0].MinLen)
	assert.Equal(t, 7, types[0].MaxLen)
	assert.Equal(t, "event", types[1].Name)

	handles := m.Handles()
	require.Len(t, handles, 2)
	assert.Equal(t, uint16(0x040), handles[0].Handle)
	assert.Equal(t, 2, handles[0].Packets)
	assert.Equal(t, "iso", handles[1].Type)
}

func TestPrintReports(t *testing.T) {
	m := NewManager()
	m.ProcessPacket(packet(t, 0x04, 0x3e, 0x01, 0x02))
	m.Observe(extract.Event{Kind: extract.EventDesync})

	var buf bytes.Buffer
	m.PrintSummary(&buf)
	m.PrintHandles(&buf)
	m.PrintEvents(&buf)

	out := buf.String()
	assert.Contains(t, out, "HCI Packet Types")
	assert.Contains(t, out, "EVENT")
	assert.Contains(t, out, "Skipped bytes: 1")
	assert.Contains(t, out, "0x3e")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
