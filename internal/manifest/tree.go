package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrInvalidDocument is returned when a manifest side is not valid JSON.
var ErrInvalidDocument = errors.New("invalid JSON document")

// Kind of a Node
type Kind uint8

// JSON value kinds
const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Node is a JSON value that remembers object key order.
type Node struct {
	Kind Kind
	// Value holds the literal for Bool and Number and the decoded text for String.
	Value  string
	Items  []*Node
	Keys   []string
	Fields map[string]*Node
}

// NewObject returns an empty object node.
func NewObject() *Node {
	return &Node{Kind: Object, Fields: map[string]*Node{}}
}

// NewString returns a string node.
func NewString(s string) *Node {
	return &Node{Kind: String, Value: s}
}

// Get returns the field key of an object, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != Object {
		return nil
	}
	return n.Fields[key]
}

// Set adds or replaces a field, appending new keys at the end.
func (n *Node) Set(key string, v *Node) {
	if _, ok := n.Fields[key]; !ok {
		n.Keys = append(n.Keys, key)
	}
	n.Fields[key] = v
}

// Equal reports deep equality. Object key order is ignored.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Kind != other.Kind {
		return false
	}
	switch n.Kind {
	case Array:
		if len(n.Items) != len(other.Items) {
			return false
		}
		for i := range n.Items {
			if !n.Items[i].Equal(other.Items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(n.Fields) != len(other.Fields) {
			return false
		}
		for k, v := range n.Fields {
			if !v.Equal(other.Fields[k]) {
				return false
			}
		}
		return true
	default:
		return n.Value == other.Value
	}
}

// Parse decodes data into a Node tree.
func Parse(data []byte) (*Node, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidDocument
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeNode(dec)
}

func decodeNode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("%w: object key %v", ErrInvalidDocument, kt)
				}
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				n.Set(strings.Clone(key), child)
			}
			return n, closeDelim(dec, '}')
		case '[':
			n := &Node{Kind: Array, Items: []*Node{}}
			for dec.More() {
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				n.Items = append(n.Items, child)
			}
			return n, closeDelim(dec, ']')
		default:
			return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidDocument, rune(v))
		}
	case string:
		return NewString(strings.Clone(v)), nil
	case json.Number:
		// the decoder hands out numbers that alias its read buffer
		return &Node{Kind: Number, Value: strings.Clone(string(v))}, nil
	case float64:
		return &Node{Kind: Number, Value: strconv.FormatFloat(v, 'g', -1, 64)}, nil
	case bool:
		return &Node{Kind: Bool, Value: strconv.FormatBool(v)}, nil
	case nil:
		return &Node{Kind: Null}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %T", ErrInvalidDocument, tok)
	}
}

func closeDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q", ErrInvalidDocument, rune(want))
	}
	return nil
}

// Encode renders n with two-space indentation in key order and a trailing newline.
func Encode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeNode(&buf, n, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *Node, depth int) error {
	switch n.Kind {
	case Null:
		buf.WriteString("null")
	case Bool, Number:
		buf.WriteString(n.Value)
	case String:
		return writeString(buf, n.Value)
	case Array:
		if len(n.Items) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, item := range n.Items {
			indent(buf, depth+1)
			if err := writeNode(buf, item, depth+1); err != nil {
				return err
			}
			if i < len(n.Items)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		indent(buf, depth)
		buf.WriteByte(']')
	case Object:
		if len(n.Keys) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i, key := range n.Keys {
			indent(buf, depth+1)
			if err := writeString(buf, key); err != nil {
				return err
			}
			buf.WriteString(": ")
			if err := writeNode(buf, n.Fields[key], depth+1); err != nil {
				return err
			}
			if i < len(n.Keys)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		indent(buf, depth)
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
	return nil
}

// writeString quotes s without HTML escaping so version ranges and scripts
// such as ">=18 <21" or "a && b" stay readable.
func writeString(buf *bytes.Buffer, s string) error {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(b.Bytes(), []byte{'\n'}))
	return nil
}

func indent(buf *bytes.Buffer, depth int) {
	for range depth {
		buf.WriteString("  ")
	}
}
