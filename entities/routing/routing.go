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

// Package routing maps routing keys onto partitions. It is shared by the
// in-memory partition filters and by store implementations that evaluate
// hash predicates, so both sides always agree on ownership.
package routing

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"github.com/weaviate/gridmirror/entities/document"
)

var ErrUnroutableKey = errors.New("unroutable key")

// KeyBytes is the canonical byte form of a routing key. The kind is part of
// the encoding so that the string "1" and the int 1 hash differently.
func KeyBytes(key document.Value) ([]byte, error) {
	switch key.Kind() {
	case document.KindString:
		s, _ := key.AsString()
		return append([]byte{'s'}, s...), nil
	case document.KindInt:
		i, _ := key.AsInt()
		return strconv.AppendInt([]byte{'i'}, i, 10), nil
	case document.KindFloat:
		f, _ := key.AsFloat()
		if math.IsNaN(f) {
			return nil, errors.Wrap(ErrUnroutableKey, "NaN")
		}
		return strconv.AppendFloat([]byte{'f'}, f, 'g', -1, 64), nil
	case document.KindBool:
		b, _ := key.AsBool()
		return strconv.AppendBool([]byte{'b'}, b), nil
	default:
		return nil, errors.Wrapf(ErrUnroutableKey, "kind %s", key.Kind())
	}
}

func Hash(key document.Value) (uint64, error) {
	in, err := KeyBytes(key)
	if err != nil {
		return 0, err
	}

	h := murmur3.New64()
	h.Write(in)
	return h.Sum64(), nil
}

// InstanceID returns the 1-based instance that owns key when the grid runs
// with the given number of partitions. The result is stable for a fixed
// partition count and unrelated between different counts.
func InstanceID(key document.Value, partitions int) (int, error) {
	if partitions <= 0 {
		return 0, errors.Errorf("partition count must be positive, got %d", partitions)
	}

	token, err := Hash(key)
	if err != nil {
		return 0, err
	}

	return 1 + int(token%uint64(partitions)), nil
}
