//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package document

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindMap
	KindSeq
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindSeq:
		return "seq"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single node of a document: either a scalar, an ordered map or a
// sequence. The zero value is null.
//
// Int and Float are separate kinds and are never converted into each other,
// so a value read from the store is written back with the same numeric type.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	m    *Map
	seq  []Value
}

func Null() Value { return Value{} }

func FromBool(b bool) Value { return Value{kind: KindBool, b: b} }

func FromInt(i int64) Value { return Value{kind: KindInt, i: i} }

func FromFloat(f float64) Value { return Value{kind: KindFloat, f: f} }

func FromString(s string) Value { return Value{kind: KindString, s: s} }

func FromMap(m *Map) Value {
	if m == nil {
		return Null()
	}
	return Value{kind: KindMap, m: m}
}

func FromSeq(values ...Value) Value {
	seq := make([]Value, len(values))
	copy(seq, values)
	return Value{kind: KindSeq, seq: seq}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// AsSeq returns the underlying slice. Callers must not modify it, use Clone
// first.
func (v Value) AsSeq() ([]Value, bool) { return v.seq, v.kind == KindSeq }

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindMap:
		return Value{kind: KindMap, m: v.m.Clone()}
	case KindSeq:
		seq := make([]Value, len(v.seq))
		for i := range v.seq {
			seq[i] = v.seq[i].Clone()
		}
		return Value{kind: KindSeq, seq: seq}
	default:
		return v
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case KindString:
		return v.s == other.s
	case KindMap:
		return v.m.Equal(other.m)
	case KindSeq:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindMap:
		return v.m.String()
	case KindSeq:
		parts := make([]string, len(v.seq))
		for i := range v.seq {
			parts[i] = v.seq[i].String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid>"
	}
}
