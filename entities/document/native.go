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
	"math"
	"sort"

	"github.com/pkg/errors"
)

// ToNative converts a value into plain Go types: nil, bool, int64, float64,
// string, map[string]any and []any. Field order of maps is lost.
func (v Value) ToNative() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindMap:
		return v.m.ToNative()
	case KindSeq:
		out := make([]any, len(v.seq))
		for i := range v.seq {
			out[i] = v.seq[i].ToNative()
		}
		return out
	default:
		return nil
	}
}

func (m *Map) ToNative() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v Value) bool {
		out[k] = v.ToNative()
		return true
	})
	return out
}

// FromNative is the inverse of ToNative. Every signed and unsigned integer
// type maps to KindInt and both float types map to KindFloat, an integer is
// never widened to a float or the other way round. Keys of native maps are
// sorted, use MapFromNative with a reference map to keep a field order.
func FromNative(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return FromBool(t), nil
	case int:
		return FromInt(int64(t)), nil
	case int8:
		return FromInt(int64(t)), nil
	case int16:
		return FromInt(int64(t)), nil
	case int32:
		return FromInt(int64(t)), nil
	case int64:
		return FromInt(t), nil
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return FromInt(int64(t)), nil
	case uint16:
		return FromInt(int64(t)), nil
	case uint32:
		return FromInt(int64(t)), nil
	case uint64:
		return fromUint(t)
	case float32:
		return FromFloat(float64(t)), nil
	case float64:
		return FromFloat(t), nil
	case string:
		return FromString(t), nil
	case *Map:
		return FromMap(t), nil
	case map[string]any:
		m, err := MapFromNative(t, nil)
		if err != nil {
			return Value{}, err
		}
		return FromMap(m), nil
	case []any:
		seq := make([]Value, len(t))
		for i := range t {
			v, err := FromNative(t[i])
			if err != nil {
				return Value{}, errors.Wrapf(err, "index %d", i)
			}
			seq[i] = v
		}
		return Value{kind: KindSeq, seq: seq}, nil
	case []string:
		seq := make([]Value, len(t))
		for i := range t {
			seq[i] = FromString(t[i])
		}
		return Value{kind: KindSeq, seq: seq}, nil
	default:
		return Value{}, errors.Errorf("unsupported native type %T", in)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, errors.Errorf("unsigned integer %d overflows int64", u)
	}
	return FromInt(int64(u)), nil
}

// MapFromNative builds a map from native Go values. Keys that exist in order
// keep the position they have there, remaining keys are appended sorted.
func MapFromNative(in map[string]any, order *Map) (*Map, error) {
	out := NewMap()
	seen := make(map[string]struct{}, len(in))
	add := func(k string) error {
		v, err := FromNative(in[k])
		if err != nil {
			return errors.Wrapf(err, "field %q", k)
		}
		out.Set(k, v)
		seen[k] = struct{}{}
		return nil
	}

	for _, k := range order.Keys() {
		if _, ok := in[k]; !ok {
			continue
		}
		if err := add(k); err != nil {
			return nil, err
		}
	}

	rest := make([]string, 0, len(in))
	for k := range in {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if err := add(k); err != nil {
			return nil, err
		}
	}

	return out, nil
}
