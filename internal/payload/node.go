// Package payload converts raw module payloads into a typed tree at the
// ingestion boundary. Downstream code only sees Scalar, List and Map.
package payload

import (
	"strconv"
	"strings"
)

// Kind identifies the variant of a Node.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Node is a tagged union of Scalar, List and Map.
type Node interface {
	Kind() Kind
	node()
}

// ScalarType distinguishes scalar values.
type ScalarType int

const (
	ScalarNull ScalarType = iota
	ScalarString
	ScalarNumber
	ScalarBool
)

// Scalar is a leaf value. Numbers keep their source text.
type Scalar struct {
	Type  ScalarType
	Value string
}

func (Scalar) Kind() Kind { return KindScalar }
func (Scalar) node()      {}

// String returns the scalar's text; null is the empty string.
func (s Scalar) String() string {
	if s.Type == ScalarNull {
		return ""
	}
	return s.Value
}

// Float parses a numeric scalar.
func (s Scalar) Float() (float64, bool) {
	if s.Type != ScalarNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(s.Value, 64)
	return f, err == nil
}

// List is an ordered sequence of nodes.
type List []Node

func (List) Kind() Kind { return KindList }
func (List) node()      {}

// Entry is a key/value pair in a Map.
type Entry struct {
	Key   string
	Value Node
}

// Map is an object with keys in source order.
type Map []Entry

func (Map) Kind() Kind { return KindMap }
func (Map) node()      {}

// Get returns the value for key, matching case-insensitively.
func (m Map) Get(key string) (Node, bool) {
	for _, e := range m {
		if strings.EqualFold(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys returns the map's keys in order.
func (m Map) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

// Str builds a string scalar.
func Str(s string) Scalar { return Scalar{Type: ScalarString, Value: s} }

// Num builds a number scalar.
func Num(s string) Scalar { return Scalar{Type: ScalarNumber, Value: s} }

// IsEmpty reports whether n carries no content: nil, null, a blank string, an
// empty collection, or a collection whose members are all empty.
func IsEmpty(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case Scalar:
		return v.Type == ScalarNull || (v.Type == ScalarString && strings.TrimSpace(v.Value) == "")
	case List:
		for _, item := range v {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	case Map:
		for _, e := range v {
			if !IsEmpty(e.Value) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// WalkFunc is called for every scalar leaf with the key path leading to it.
// List indices do not contribute a path element.
type WalkFunc func(path []string, leaf Scalar)

// Walk visits every scalar in n depth-first, in source order.
func Walk(n Node, fn WalkFunc) {
	walk(n, nil, fn)
}

func walk(n Node, path []string, fn WalkFunc) {
	switch v := n.(type) {
	case Scalar:
		fn(path, v)
	case List:
		for _, item := range v {
			walk(item, path, fn)
		}
	case Map:
		for _, e := range v {
			next := make([]string, len(path)+1)
			copy(next, path)
			next[len(path)] = e.Key
			walk(e.Value, next, fn)
		}
	}
}
