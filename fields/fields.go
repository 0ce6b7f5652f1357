// Package fields provides HCI packet field definitions and extraction
package fields

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Zerofisher/hcisnoop/hci"
)

// FieldType represents the type of a field
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeUint8
	TypeUint16
	TypeUint64
	TypeBytes
)

// FieldDef defines a packet field
type FieldDef struct {
	Name        string                // Field name (e.g., "acl.handle")
	Description string                // Human-readable description
	Type        FieldType             // Value type
	Extractor   func(*hci.Packet) any // Field value extractor; nil when absent
}

// Registry holds all registered fields
type Registry struct {
	fields map[string]*FieldDef
}

// NewRegistry creates a new field registry with standard fields
func NewRegistry() *Registry {
	r := &Registry{
		fields: make(map[string]*FieldDef),
	}
	r.registerStandardFields()
	return r
}

// Get returns a field definition by name
func (r *Registry) Get(name string) *FieldDef {
	return r.fields[name]
}

// List returns all registered field names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListByPrefix returns field names matching a prefix, sorted
func (r *Registry) ListByPrefix(prefix string) []string {
	var names []string
	for name := range r.fields {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Extract extracts a field value from a packet
func (r *Registry) Extract(name string, pkt *hci.Packet) (any, bool) {
	field := r.fields[name]
	if field == nil {
		return nil, false
	}
	value := field.Extractor(pkt)
	return value, value != nil
}

// ExtractString extracts a field value as string
func (r *Registry) ExtractString(name string, pkt *hci.Packet) string {
	value, ok := r.Extract(name, pkt)
	if !ok {
		return ""
	}
	field := r.fields[name]
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case uint8:
		if field.Type == TypeUint8 {
			return fmt.Sprintf("0x%02x", v)
		}
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return fmt.Sprintf("0x%03x", v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case []byte:
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Register adds a new field to the registry
func (r *Registry) Register(field *FieldDef) {
	r.fields[field.Name] = field
}

func handleOf(tag byte) func(*hci.Packet) any {
	return func(p *hci.Packet) any {
		if p.Tag != tag {
			return nil
		}
		h, ok := p.Handle()
		if !ok {
			return nil
		}
		return h
	}
}

func payloadOf(tag byte) func(*hci.Packet) any {
	return func(p *hci.Packet) any {
		if p.Tag != tag {
			return nil
		}
		return p.PayloadLen
	}
}

// registerStandardFields registers all standard packet fields
func (r *Registry) registerStandardFields() {
	// Frame fields
	r.Register(&FieldDef{
		Name:        "frame.number",
		Description: "Record number",
		Type:        TypeInt,
		Extractor:   func(p *hci.Packet) any { return p.Number },
	})
	r.Register(&FieldDef{
		Name:        "frame.len",
		Description: "Packet length including the type byte",
		Type:        TypeInt,
		Extractor:   func(p *hci.Packet) any { return p.TotalLen },
	})
	r.Register(&FieldDef{
		Name:        "frame.pos",
		Description: "Ring buffer cursor the packet was found at",
		Type:        TypeUint64,
		Extractor:   func(p *hci.Packet) any { return p.Position },
	})
	r.Register(&FieldDef{
		Name:        "frame.type",
		Description: "Packet type name",
		Type:        TypeString,
		Extractor:   func(p *hci.Packet) any { return p.TypeName() },
	})
	r.Register(&FieldDef{
		Name:        "frame.data",
		Description: "Raw packet bytes",
		Type:        TypeBytes,
		Extractor:   func(p *hci.Packet) any { return p.Raw },
	})

	// H4 fields
	r.Register(&FieldDef{
		Name:        "hci.tag",
		Description: "H4 packet type indicator",
		Type:        TypeUint8,
		Extractor:   func(p *hci.Packet) any { return p.Tag },
	})

	// ACL fields
	r.Register(&FieldDef{
		Name:        "acl.handle",
		Description: "ACL connection handle",
		Type:        TypeUint16,
		Extractor:   handleOf(hci.TagACL),
	})
	r.Register(&FieldDef{
		Name:        "acl.pb",
		Description: "ACL packet boundary flags",
		Type:        TypeInt,
		Extractor: func(p *hci.Packet) any {
			if p.Tag != hci.TagACL {
				return nil
			}
			return int(p.BoundaryFlags())
		},
	})
	r.Register(&FieldDef{
		Name:        "acl.len",
		Description: "ACL data length",
		Type:        TypeInt,
		Extractor:   payloadOf(hci.TagACL),
	})

	// Event fields
	r.Register(&FieldDef{
		Name:        "evt.code",
		Description: "Event code",
		Type:        TypeUint8,
		Extractor: func(p *hci.Packet) any {
			c, ok := p.EventCode()
			if !ok {
				return nil
			}
			return c
		},
	})
	r.Register(&FieldDef{
		Name:        "evt.len",
		Description: "Event parameter length",
		Type:        TypeInt,
		Extractor:   payloadOf(hci.TagEvent),
	})

	// ISO fields
	r.Register(&FieldDef{
		Name:        "iso.handle",
		Description: "ISO connection handle",
		Type:        TypeUint16,
		Extractor:   handleOf(hci.TagISO),
	})
	r.Register(&FieldDef{
		Name:        "iso.len",
		Description: "ISO data load length",
		Type:        TypeInt,
		Extractor:   payloadOf(hci.TagISO),
	})
}

// GetFieldInfo returns a formatted string describing a field
func (r *Registry) GetFieldInfo(name string) string {
	field := r.fields[name]
	if field == nil {
		return ""
	}
	return fmt.Sprintf("%s\t%s\t%s", field.Name, getTypeName(field.Type), field.Description)
}

func getTypeName(t FieldType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint64:
		return "uint64"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}
