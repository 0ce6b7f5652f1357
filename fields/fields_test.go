package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/hcisnoop/hci"
)

func parse(t *testing.T, raw []byte) *hci.Packet {
	t.Helper()
	pkt, err := hci.Parse(raw)
	require.NoError(t, err)
	pkt.Number = 7
	pkt.Position = 4100
	return pkt
}

func TestExtractString(t *testing.T) {
	r := NewRegistry()
	acl := parse(t, []byte{0x02, 0x40, 0x20, 0x02, 0x00, 0xca, 0xfe})
	evt := parse(t, []byte{0x04, 0x0e, 0x03, 0x01, 0x03, 0x0c})
	iso := parse(t, []byte{0x05, 0x60, 0x00, 0x03, 0x00, 0x11, 0x22, 0x33})

	tests := []struct {
		field string
		pkt   *hci.Packet
		want  string
	}{
		{"frame.number", acl, "7"},
		{"frame.len", acl, "7"},
		{"frame.pos", acl, "4100"},
		{"frame.type", evt, "event"},
		{"frame.data", evt, "040e0301030c"},
		{"hci.tag", iso, "0x05"},
		{"acl.handle", acl, "0x040"},
		{"acl.pb", acl, "2"},
		{"acl.len", acl, "2"},
		{"acl.handle", evt, ""},
		{"evt.code", evt, "0x0e"},
		{"evt.len", evt, "3"},
		{"evt.code", acl, ""},
		{"iso.handle", iso, "0x060"},
		{"iso.len", iso, "3"},
		{"iso.len", acl, ""},
		{"no.such", acl, ""},
	}

	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.pkt.TypeName(), func(t *testing.T) {
			assert.Equal(t, tt.want, r.ExtractString(tt.field, tt.pkt))
		})
	}
}

func TestRegistryListing(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"acl.handle", "acl.len", "acl.pb"}, r.ListByPrefix("acl."))
	assert.Contains(t, r.List(), "frame.number")
	assert.Equal(t, "evt.code\tuint8\tEvent code", r.GetFieldInfo("evt.code"))
	assert.Equal(t, "", r.GetFieldInfo("nope"))
	assert.Nil(t, r.Get("nope"))
}
