// Package filter provides packet filter expressions using expr-lang/expr
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Zerofisher/hcisnoop/hci"
)

// PacketEnv is the environment for expression evaluation
// It maps Wireshark-like field names to packet data
type PacketEnv struct {
	// Frame fields
	Frame struct {
		Number int    `expr:"number"`
		Len    int    `expr:"len"`
		Pos    uint64 `expr:"pos"`
		Type   string `expr:"type"`
	} `expr:"frame"`

	// ACL fields
	ACL struct {
		Handle uint16 `expr:"handle"`
		PB     uint8  `expr:"pb"`
		Len    int    `expr:"len"`
	} `expr:"acl"`

	// Event fields
	Event struct {
		Code uint8 `expr:"code"`
		Len  int   `expr:"len"`
	} `expr:"evt"`

	// ISO fields
	ISO struct {
		Handle uint16 `expr:"handle"`
		Len    int    `expr:"len"`
	} `expr:"iso"`

	Tag int `expr:"tag"`

	// Packet type flags (for simple filtering like "acl", "evt", "iso")
	IsACL   bool `expr:"is_acl"`
	IsEvent bool `expr:"is_evt"`
	IsISO   bool `expr:"is_iso"`
}

// Filter holds a compiled filter expression
type Filter struct {
	source  string
	program *vm.Program
}

// Compile compiles a filter expression
func Compile(filterStr string) (*Filter, error) {
	// Preprocess the filter to handle Wireshark-style syntax
	processed := preprocessFilter(filterStr)

	program, err := expr.Compile(processed, expr.Env(PacketEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}
	return &Filter{source: filterStr, program: program}, nil
}

// CompileFunc compiles filterStr into a predicate. An empty expression yields nil.
func CompileFunc(filterStr string) (func(*hci.Packet) bool, error) {
	if strings.TrimSpace(filterStr) == "" {
		return nil, nil
	}
	f, err := Compile(filterStr)
	if err != nil {
		return nil, err
	}
	return f.Match, nil
}

// String returns the original expression.
func (f *Filter) String() string {
	return f.source
}

// Match evaluates the filter against pkt. Evaluation errors count as no match.
func (f *Filter) Match(pkt *hci.Packet) bool {
	result, err := expr.Run(f.program, packetToEnv(pkt))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// preprocessFilter converts Wireshark-style filter syntax to expr syntax
func preprocessFilter(filter string) string {
	// Standalone "acl", "evt", "iso" become is_acl, is_evt, is_iso
	typeMap := map[string]string{
		"acl":   "is_acl",
		"evt":   "is_evt",
		"event": "is_evt",
		"iso":   "is_iso",
	}

	words := tokenizeFilter(filter)
	for i, word := range words {
		lowerWord := strings.ToLower(word)
		if replacement, ok := typeMap[lowerWord]; ok {
			// Check if this is a standalone name (not followed or preceded by .)
			if i+1 >= len(words) || words[i+1] != "." {
				if i == 0 || words[i-1] != "." {
					words[i] = replacement
				}
			}
		}
	}
	filter = strings.Join(words, "")

	// Handle "in {x, y, z}" syntax - convert to "in [x, y, z]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")

	return filter
}

// tokenizeFilter breaks a filter string into tokens while preserving structure
func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder

	for _, ch := range filter {
		switch ch {
		case ' ', '\t', '\n':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(ch))
		case '.', '(', ')', '[', ']', '{', '}', ',', '!':
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(ch))
		case '=', '>', '<', '&', '|':
			if current.Len() > 0 {
				s := current.String()
				if !isOperator(s) {
					tokens = append(tokens, s)
					current.Reset()
				}
			}
			current.WriteRune(ch)
		default:
			// Check if current is an operator and we're starting a new token
			if current.Len() > 0 && isOperator(current.String()) {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

func isOperator(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", ">", "<", "&&", "||", "=", "&", "|":
		return true
	}
	return false
}

// packetToEnv converts a recovered packet to a PacketEnv for expression evaluation
func packetToEnv(pkt *hci.Packet) PacketEnv {
	env := PacketEnv{}

	env.Frame.Number = pkt.Number
	env.Frame.Len = pkt.TotalLen
	env.Frame.Pos = pkt.Position
	env.Frame.Type = pkt.TypeName()
	env.Tag = int(pkt.Tag)

	switch pkt.Tag {
	case hci.TagACL:
		env.IsACL = true
		env.ACL.Handle, _ = pkt.Handle()
		env.ACL.PB = pkt.BoundaryFlags()
		env.ACL.Len = pkt.PayloadLen

	case hci.TagEvent:
		env.IsEvent = true
		env.Event.Code, _ = pkt.EventCode()
		env.Event.Len = pkt.PayloadLen

	case hci.TagISO:
		env.IsISO = true
		env.ISO.Handle, _ = pkt.Handle()
		env.ISO.Len = pkt.PayloadLen
	}

	return env
}
