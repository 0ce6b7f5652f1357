// Package hci describes the H4 transport packet shapes found in a UART HCI
// buffer: a one byte type tag, a fixed header carrying a length field, and a
// variable payload.
package hci

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Packet type tags.
const (
	TagACL   byte = 0x02
	TagEvent byte = 0x04
	TagISO   byte = 0x05
)

// Shape is the fixed header layout of one packet type.
type Shape struct {
	Tag       byte
	Name      string
	HeaderLen int // header bytes following the tag
	LenOffset int // offset of the payload length field inside the header
	LenWidth  int // 1, 2 or 4 bytes
	Order     binary.ByteOrder
}

// Shapes is the closed set of packet types understood by the framer.
var Shapes = []Shape{
	{Tag: TagACL, Name: "acl", HeaderLen: 4, LenOffset: 2, LenWidth: 2, Order: binary.LittleEndian},
	{Tag: TagEvent, Name: "event", HeaderLen: 2, LenOffset: 1, LenWidth: 1, Order: binary.LittleEndian},
	{Tag: TagISO, Name: "iso", HeaderLen: 4, LenOffset: 2, LenWidth: 2, Order: binary.LittleEndian},
}

var byTag [256]*Shape

func init() {
	for i := range Shapes {
		byTag[Shapes[i].Tag] = &Shapes[i]
	}
}

// Lookup returns the shape for tag.
func Lookup(tag byte) (Shape, bool) {
	s := byTag[tag]
	if s == nil {
		return Shape{}, false
	}
	return *s, true
}

// PrefixLen is the tag plus header length.
func (s Shape) PrefixLen() int {
	return 1 + s.HeaderLen
}

// PayloadLen decodes the length field from prefix, which starts with the tag
// byte and holds at least PrefixLen bytes.
func (s Shape) PayloadLen(prefix []byte) (int, error) {
	if len(prefix) < s.PrefixLen() {
		return 0, fmt.Errorf("%s header needs %d bytes, have %d", s.Name, s.PrefixLen(), len(prefix))
	}
	field := prefix[1+s.LenOffset : 1+s.LenOffset+s.LenWidth]
	switch s.LenWidth {
	case 1:
		return int(field[0]), nil
	case 2:
		return int(s.Order.Uint16(field)), nil
	case 4:
		return int(s.Order.Uint32(field)), nil
	}
	return 0, fmt.Errorf("%s: unsupported length field width %d", s.Name, s.LenWidth)
}

// Packet is one packet recovered from the buffer.
type Packet struct {
	Tag        byte
	Header     []byte // header bytes, tag excluded
	PayloadLen int
	TotalLen   int
	Raw        []byte // tag + header + payload, as found in the buffer
	Position   uint64 // logical cursor at which the packet started
	Number     int    // 1-based order of recovery
}

// TypeName returns the shape name, or a hex tag for unknown types.
func (p *Packet) TypeName() string {
	if s, ok := Lookup(p.Tag); ok {
		return s.Name
	}
	return fmt.Sprintf("0x%02x", p.Tag)
}

// Handle returns the connection handle of ACL and ISO packets.
func (p *Packet) Handle() (uint16, bool) {
	if (p.Tag != TagACL && p.Tag != TagISO) || len(p.Header) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(p.Header) & 0x0fff, true
}

// BoundaryFlags returns the packet boundary flag bits of an ACL or ISO handle field.
func (p *Packet) BoundaryFlags() uint8 {
	if len(p.Header) < 2 {
		return 0
	}
	return uint8(binary.LittleEndian.Uint16(p.Header)>>12) & 0x3
}

// EventCode returns the event code of an Event packet.
func (p *Packet) EventCode() (uint8, bool) {
	if p.Tag != TagEvent || len(p.Header) < 1 {
		return 0, false
	}
	return p.Header[0], true
}

// Summary is a one line description used by text output.
func (p *Packet) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s len=%d", strings.ToUpper(p.TypeName()), p.TotalLen)
	if h, ok := p.Handle(); ok {
		fmt.Fprintf(&b, " handle=0x%03x pb=%d", h, p.BoundaryFlags())
	}
	if c, ok := p.EventCode(); ok {
		fmt.Fprintf(&b, " code=0x%02x", c)
	}
	fmt.Fprintf(&b, " payload=%d", p.PayloadLen)
	return b.String()
}

// Parse frames a single packet from the start of raw. It is used when reading
// packets back from a capture file rather than by the buffer framer.
func Parse(raw []byte) (*Packet, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty packet")
	}
	s, ok := Lookup(raw[0])
	if !ok {
		return nil, fmt.Errorf("unknown packet type 0x%02x", raw[0])
	}
	n, err := s.PayloadLen(raw)
	if err != nil {
		return nil, err
	}
	total := s.PrefixLen() + n
	if len(raw) < total {
		return nil, fmt.Errorf("%s packet truncated: %d of %d bytes", s.Name, len(raw), total)
	}
	return &Packet{
		Tag:        raw[0],
		Header:     raw[1:s.PrefixLen()],
		PayloadLen: n,
		TotalLen:   total,
		Raw:        raw[:total],
	}, nil
}
