// Package kvvalue defines the structured Value type stored at each trie key
// and the textual codec used to move it across the wire and in bulk data
// files.
package kvvalue

import (
	"fmt"
	"strings"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged union: String, Int, Float, or Object (a mapping of
// child-key to Value). Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Str    string
	Int    int64
	Float  float64
	Object map[string]Value
}

func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func Int(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

func Float(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

func Object(members map[string]Value) Value {
	if members == nil {
		members = map[string]Value{}
	}
	return Value{Kind: KindObject, Object: members}
}

// IsScalar reports whether the value is a leaf (not an Object).
func (v Value) IsScalar() bool {
	return v.Kind != KindObject
}

// SplitCommand separates the first whitespace-delimited token (the
// command) from the remainder (the single, possibly-spacy payload
// argument), per the request grammar in spec.md 4.3/6. Both the node
// server and the broker's REPL use this to parse one line of input.
func SplitCommand(text string) (cmd, payload string) {
	idx := strings.IndexAny(text, " \t")
	if idx < 0 {
		return text, ""
	}
	return text[:idx], strings.TrimSpace(text[idx+1:])
}

// TrimQuotes strips one layer of surrounding whitespace and double-quotes,
// the same normalization ParseRecord applies to a record's key and that
// node-server commands apply to a bare key/path argument.
func TrimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Record pairs a non-empty top-level key with its stored Value.
type Record struct {
	TopKey string
	Value  Value
}

func (v Value) String() string {
	text, err := EmitValue(v)
	if err != nil {
		return fmt.Sprintf("<invalid value: %s>", err.Error())
	}
	return text
}
