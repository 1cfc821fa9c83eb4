// Package jsontree searches JSON documents by key, depth-first in document
// order.
package jsontree

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind identifies the JSON type of a Node.
type Kind int

// JSON value kinds.
const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Node is one JSON value.
type Node struct {
	res gjson.Result
}

// Parse validates data and returns its root value. Trailing data after the
// first value is an error.
func Parse(data []byte) (*Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("jsontree: invalid JSON document")
	}
	return &Node{res: gjson.ParseBytes(data)}, nil
}

// Kind reports the JSON type of n. A nil node is Null.
func (n *Node) Kind() Kind {
	if n == nil {
		return Null
	}
	switch {
	case n.res.IsObject():
		return Object
	case n.res.IsArray():
		return Array
	}
	switch n.res.Type {
	case gjson.True, gjson.False:
		return Bool
	case gjson.Number:
		return Number
	case gjson.String:
		return String
	default:
		return Null
	}
}

// Get returns the direct member named key of an object node.
func (n *Node) Get(key string) (*Node, bool) {
	if n.Kind() != Object {
		return nil, false
	}
	var found *Node
	n.res.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			found = &Node{res: v}
			return false
		}
		return true
	})
	return found, found != nil
}

// Find returns the first value stored under key anywhere in the tree. A
// member is visited before the contents of its own value, and members are
// visited in source order.
func (n *Node) Find(key string) (*Node, bool) {
	var found *Node
	n.walk(key, func(v *Node) bool {
		found = v
		return false
	})
	return found, found != nil
}

// FindAll returns every value stored under key, in traversal order.
func (n *Node) FindAll(key string) []*Node {
	var out []*Node
	n.walk(key, func(v *Node) bool {
		out = append(out, v)
		return true
	})
	return out
}

// FindFirst returns the first value under any of keys that satisfies accept.
// Keys are tried in order; the whole tree is searched for each.
func (n *Node) FindFirst(accept func(*Node) bool, keys ...string) (*Node, bool) {
	for _, key := range keys {
		var found *Node
		n.walk(key, func(v *Node) bool {
			if accept == nil || accept(v) {
				found = v
				return false
			}
			return true
		})
		if found != nil {
			return found, true
		}
	}
	return nil, false
}

// walk calls visit for each value under key until visit returns false.
func (n *Node) walk(key string, visit func(*Node) bool) bool {
	if n == nil {
		return true
	}
	return walkResult(n.res, key, visit)
}

func walkResult(res gjson.Result, key string, visit func(*Node) bool) bool {
	if !res.IsObject() && !res.IsArray() {
		return true
	}
	isObject := res.IsObject()
	cont := true
	res.ForEach(func(k, v gjson.Result) bool {
		if isObject && k.Str == key && !visit(&Node{res: v}) {
			cont = false
			return false
		}
		cont = walkResult(v, key, visit)
		return cont
	})
	return cont
}

// Text returns the value of a string node.
func (n *Node) Text() (string, bool) {
	if n.Kind() != String {
		return "", false
	}
	return n.res.Str, true
}

// Int returns a non-negative integer held either as a JSON number or as a
// decimal string. Fractions are truncated.
func (n *Node) Int() (int64, bool) {
	var raw string
	switch n.Kind() {
	case Number:
		raw = n.res.Raw
	case String:
		raw = strings.TrimSpace(n.res.Str)
	default:
		return 0, false
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, v >= 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the value of a boolean node.
func (n *Node) Bool() (bool, bool) {
	if n.Kind() != Bool {
		return false, false
	}
	return n.res.Bool(), true
}
