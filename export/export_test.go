package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/hcisnoop/hci"
)

func packets(t *testing.T) []*hci.Packet {
	t.Helper()
	raws := [][]byte{
		{0x02, 0x40, 0x20, 0x02, 0x00, 0xca, 0xfe},
		{0x04, 0x0e, 0x03, 0x01, 0x03, 0x0c},
	}
	var out []*hci.Packet
	for i, raw := range raws {
		pkt, err := hci.Parse(raw)
		require.NoError(t, err)
		pkt.Number = i + 1
		pkt.Position = uint64(20 + 10*i)
		out = append(out, pkt)
	}
	return out
}

func TestExportText(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	require.NoError(t, e.Start())
	for _, p := range packets(t) {
		require.NoError(t, e.ExportPacket(p))
	}
	require.NoError(t, e.Finish())

	assert.Equal(t,
		"1\t20\tACL   len=7 handle=0x040 pb=2 payload=2\n"+
			"2\t30\tEVENT len=6 code=0x0e payload=3\n",
		buf.String())
	assert.Equal(t, 2, e.Count())
}

func TestExportHex(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	e.SetShowHex(true)
	require.NoError(t, e.ExportPacket(packets(t)[0]))

	assert.Contains(t, buf.String(), "00000000  02 40 20 02 00 ca fe ")
	assert.Contains(t, buf.String(), "|.@ ....|")
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatJSON)
	require.NoError(t, e.Start())
	for _, p := range packets(t) {
		require.NoError(t, e.ExportPacket(p))
	}
	require.NoError(t, e.Finish())

	var got []PacketJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "acl", got[0].FrameType)
	require.NotNil(t, got[0].Handle)
	assert.Equal(t, uint16(0x040), *got[0].Handle)
	assert.Nil(t, got[0].EventCode)
	assert.Empty(t, got[0].Data)

	assert.Equal(t, uint8(hci.TagEvent), got[1].Tag)
	require.NotNil(t, got[1].EventCode)
	assert.Equal(t, uint8(0x0e), *got[1].EventCode)
	assert.Equal(t, 3, got[1].PayloadLen)
}

func TestExportJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatJSON)
	require.NoError(t, e.Start())
	require.NoError(t, e.Finish())

	var got []PacketJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Empty(t, got)
}

func TestExportFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatFields)
	require.NoError(t, e.SetFields([]string{"frame.number", "frame.type", "acl.handle", "evt.code"}))
	for _, p := range packets(t) {
		require.NoError(t, e.WritePacket(p))
	}

	assert.Equal(t, "1\tacl\t0x040\t\n2\tevent\t\t0x0e\n", buf.String())
	assert.Error(t, e.SetFields([]string{"ip.src"}))
}

func TestMaxCount(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(&buf, FormatText)
	e.SetMaxCount(1)
	for _, p := range packets(t) {
		require.NoError(t, e.ExportPacket(p))
	}
	assert.True(t, e.ShouldStop())
	assert.Equal(t, 1, e.Count())
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseOutputFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}
