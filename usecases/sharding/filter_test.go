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

package sharding

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/routing"
)

func routedDescriptor(t *testing.T) *descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.New(descriptor.Config{
		TypeName: "Order",
		Routing:  descriptor.RouteByField("customer"),
		Flags:    descriptor.Flags{RoutedLoad: true},
	})
	require.NoError(t, err)
	return d
}

func TestNewRouter(t *testing.T) {
	_, err := NewRouter(1, 0)
	assert.Error(t, err)
	_, err = NewRouter(0, 4)
	assert.Error(t, err)
	_, err = NewRouter(5, 4)
	assert.Error(t, err)

	r, err := NewRouter(4, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.InstanceID())
	assert.Equal(t, 4, r.Partitions())
}

func TestRouter_DeterministicOwnership(t *testing.T) {
	const partitions = 5
	routers := make([]*Router, partitions)
	for i := range routers {
		r, err := NewRouter(i+1, partitions)
		require.NoError(t, err)
		routers[i] = r
	}

	for i := 0; i < 500; i++ {
		key := document.FromString(fmt.Sprintf("customer-%d", i))
		first, err := routers[0].InstanceIDOf(key)
		require.NoError(t, err)
		require.GreaterOrEqual(t, first, 1)
		require.LessOrEqual(t, first, partitions)

		owners := 0
		for _, r := range routers {
			again, err := r.InstanceIDOf(key)
			require.NoError(t, err)
			assert.Equal(t, first, again)
			owns, err := r.Owns(key)
			require.NoError(t, err)
			if owns {
				owners++
			}
		}
		assert.Equal(t, 1, owners, "exactly one instance owns %v", key)
	}
}

func TestPartitionFilter_StorePredicate(t *testing.T) {
	r, err := NewRouter(2, 4)
	require.NoError(t, err)
	f := r.Filter(routedDescriptor(t))
	require.True(t, f.Active())

	pred := f.StorePredicate()
	require.NoError(t, pred.Validate())
	assert.Equal(t,
		"Or(_instanceId_4 == 2, And(IsNull(_instanceId_4), HashModulo(_routingKey, 4) == 2), IsNull(_routingKey))",
		pred.String())

	owned, foreign := ownedAndForeignKey(t, 2, 4)

	t.Run("never misses an owned document", func(t *testing.T) {
		withField := document.New("1").Set(document.InstanceIDField(4), document.FromInt(2))
		withKey := document.New("2").Set(document.FieldRoutingKey, owned)
		withoutKey := document.New("3").Set("customer", foreign)
		assert.True(t, pred.Match(withField))
		assert.True(t, pred.Match(withKey))
		assert.True(t, pred.Match(withoutKey), "documents without routing key are always scanned")
	})

	t.Run("excludes foreign documents it can tell apart", func(t *testing.T) {
		wrongField := document.New("1").Set(document.InstanceIDField(4), document.FromInt(3)).
			Set(document.FieldRoutingKey, owned)
		wrongKey := document.New("2").Set(document.FieldRoutingKey, foreign)
		assert.False(t, pred.Match(wrongField), "the precomputed field wins over the key")
		assert.False(t, pred.Match(wrongKey))
	})

	t.Run("instance id fast path", func(t *testing.T) {
		fast := f.InstanceIDPredicate()
		assert.True(t, fast.Match(document.New("1").Set(document.InstanceIDField(4), document.FromInt(2))))
		assert.True(t, fast.Match(document.New("2")))
		assert.False(t, fast.Match(document.New("3").Set(document.InstanceIDField(4), document.FromInt(1))))
	})
}

func TestPartitionFilter_Accept(t *testing.T) {
	r, err := NewRouter(2, 4)
	require.NoError(t, err)
	f := r.Filter(routedDescriptor(t))
	owned, foreign := ownedAndForeignKey(t, 2, 4)

	ok, err := f.Accept(document.New("1").Set("customer", owned))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Accept(document.New("2").Set("customer", foreign))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.Accept(document.New("3"))
	assert.ErrorIs(t, err, ErrMissingRoutingKey)

	_, err = f.Accept(document.New("4").Set("customer", document.FromSeq()))
	assert.ErrorIs(t, err, routing.ErrUnroutableKey)

	t.Run("unpartitioned types accept everything", func(t *testing.T) {
		plain := r.Filter(descriptor.MustNew(descriptor.Config{TypeName: "Config"}))
		assert.False(t, plain.Active())
		ok, err := plain.Accept(document.New("x"))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func ownedAndForeignKey(t *testing.T, instanceID, partitions int) (owned, foreign document.Value) {
	t.Helper()
	var haveOwned, haveForeign bool
	for i := 0; i < 1000 && !(haveOwned && haveForeign); i++ {
		key := document.FromString(fmt.Sprintf("customer-%d", i))
		id, err := routing.InstanceID(key, partitions)
		require.NoError(t, err)
		if id == instanceID && !haveOwned {
			owned, haveOwned = key, true
		}
		if id != instanceID && !haveForeign {
			foreign, haveForeign = key, true
		}
	}
	require.True(t, haveOwned && haveForeign)
	return owned, foreign
}
