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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_Order(t *testing.T) {
	m := NewMap().
		Set("b", FromInt(1)).
		Set("a", FromInt(2)).
		Set("c", FromInt(3))

	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())

	m.Set("a", FromInt(20))
	assert.Equal(t, []string{"b", "a", "c"}, m.Keys(), "overwrite keeps position")

	assert.True(t, m.Delete("b"))
	assert.False(t, m.Delete("b"))
	assert.Equal(t, []string{"a", "c"}, m.Keys())
	assert.Equal(t, `{"a": 20, "c": 3}`, m.String())
}

func TestMap_CloneIsDeep(t *testing.T) {
	inner := NewMap().Set("x", FromString("y"))
	m := NewMap().
		Set("inner", FromMap(inner)).
		Set("list", FromSeq(FromInt(1), FromMap(NewMap().Set("z", FromBool(true)))))

	c := m.Clone()
	require.True(t, m.Equal(c))

	inner.Set("x", FromString("changed"))
	v, _ := c.Get("inner")
	cm, ok := v.AsMap()
	require.True(t, ok)
	x, _ := cm.Get("x")
	assert.Equal(t, FromString("y"), x)
	assert.False(t, m.Equal(c))
}

func TestMap_EqualIgnoresOrder(t *testing.T) {
	a := NewMap().Set("a", FromInt(1)).Set("b", FromFloat(2))
	b := NewMap().Set("b", FromFloat(2)).Set("a", FromInt(1))
	assert.True(t, a.Equal(b))

	c := NewMap().Set("b", FromInt(2)).Set("a", FromInt(1))
	assert.False(t, a.Equal(c), "int and float are different kinds")
}

func TestDocument_ReservedFields(t *testing.T) {
	doc := New("42")
	assert.Equal(t, "42", doc.ID())
	assert.Equal(t, DefaultVersion, doc.Version(), "missing version stamp means version 1")

	doc.SetVersion(3)
	assert.Equal(t, 3, doc.Version())

	doc.Set(FieldFormatVersion, FromString("3"))
	assert.Equal(t, 0, doc.Version(), "non-int stamps are invalid")

	doc.Set(FieldFormatVersion, Null())
	assert.Equal(t, DefaultVersion, doc.Version())

	_, ok := doc.RoutingKey()
	assert.False(t, ok)
	doc.Set(FieldRoutingKey, FromString("customer-1"))
	key, ok := doc.RoutingKey()
	require.True(t, ok)
	assert.Equal(t, FromString("customer-1"), key)

	doc.Set(InstanceIDField(4), FromInt(3))
	id, ok := doc.InstanceID(4)
	require.True(t, ok)
	assert.Equal(t, 3, id)
	_, ok = doc.InstanceID(8)
	assert.False(t, ok)
}

func TestInstanceIDField(t *testing.T) {
	assert.Equal(t, "_instanceId_16", InstanceIDField(16))

	n, ok := ParseInstanceIDField("_instanceId_16")
	require.True(t, ok)
	assert.Equal(t, 16, n)

	for _, name := range []string{"_instanceId_", "_instanceId_x", "_instanceId_0", "foo"} {
		_, ok := ParseInstanceIDField(name)
		assert.False(t, ok, name)
	}

	assert.True(t, IsReserved("_instanceId_3"))
	assert.True(t, IsReserved(FieldRoutingKey))
	assert.False(t, IsReserved("name"))
}

func TestNative_RoundTripKeepsNumericKinds(t *testing.T) {
	doc := NewMap().
		Set("count", FromInt(7)).
		Set("ratio", FromFloat(7)).
		Set("big", FromInt(math.MaxInt64)).
		Set("tags", FromSeq(FromString("a"), FromInt(1), FromFloat(1.5))).
		Set("nested", FromMap(NewMap().Set("flag", FromBool(false)).Set("nothing", Null())))

	native := doc.ToNative()
	back, err := MapFromNative(native, doc)
	require.NoError(t, err)

	assert.True(t, doc.Equal(back))
	assert.Equal(t, doc.Keys(), back.Keys(), "reference order is kept")

	v, _ := back.Get("count")
	assert.Equal(t, KindInt, v.Kind())
	v, _ = back.Get("ratio")
	assert.Equal(t, KindFloat, v.Kind())
}

func TestFromNative(t *testing.T) {
	t.Run("unsigned overflow", func(t *testing.T) {
		_, err := FromNative(uint64(math.MaxUint64))
		assert.Error(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := FromNative(struct{}{})
		assert.Error(t, err)
	})

	t.Run("new keys are appended sorted", func(t *testing.T) {
		m, err := MapFromNative(map[string]any{"z": 1, "a": 2, "m": 3}, NewMap().Set("m", Null()))
		require.NoError(t, err)
		assert.Equal(t, []string{"m", "a", "z"}, m.Keys())
	})
}
