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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/gridmirror/entities/descriptor"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Defaults().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no partitions", func(c *Config) { c.Partitions.Count = 0 }},
		{"instance id above count", func(c *Config) { c.Partitions.InstanceID = 2 }},
		{"instance id zero", func(c *Config) { c.Partitions.InstanceID = 0 }},
		{"no parallelism", func(c *Config) { c.Load.Parallelism = 0 }},
		{"no progress interval", func(c *Config) { c.Load.ProgressInterval = 0 }},
		{"negative retries", func(c *Config) { c.Write.MaxPartialRetries = -1 }},
		{"no batch size", func(c *Config) { c.InstanceIDs.BatchSize = 0 }},
		{"bad read preference", func(c *Config) { c.Store.ReadPreference = "fastest" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"overrides without path", func(c *Config) { c.RuntimeOverrides.Enabled = true }},
		{"duplicate collection", func(c *Config) {
			c.Collections = []CollectionConfig{{TypeName: "Order"}, {TypeName: "Order"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), "invalid config")
		})
	}
}

func TestPartitions_TrackedCounts(t *testing.T) {
	assert.Equal(t, []int{4}, Partitions{InstanceID: 1, Count: 4}.TrackedCounts())
	assert.Equal(t, []int{4}, Partitions{InstanceID: 1, Count: 4, NextCount: 4}.TrackedCounts())
	assert.Equal(t, []int{4, 8}, Partitions{InstanceID: 1, Count: 4, NextCount: 8}.TrackedCounts())
}

func TestCollectionConfig_Descriptor(t *testing.T) {
	d, err := CollectionConfig{TypeName: "Order", RoutingField: "customer",
		Flags: descriptor.Flags{RoutedLoad: true}}.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "Order", d.Collection())
	assert.Equal(t, "field:customer", d.RoutingStrategy().String())

	d, err = CollectionConfig{TypeName: "Customer", Collection: "customers", RoutingField: "_id"}.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "customers", d.Collection())
	assert.True(t, d.Routed())

	_, err = CollectionConfig{TypeName: "Order", Flags: descriptor.Flags{PersistInstanceID: true}}.Descriptor()
	assert.ErrorIs(t, err, descriptor.ErrInvalidDescriptor)
}

func TestLoadConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("yaml file with env on top", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gridmirror.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
data_path: /data
partitions:
  instance_id: 3
  count: 4
  next_count: 8
load:
  parallelism: 2
instance_ids:
  enabled: true
  recalculation_delay: 30s
collections:
  - type_name: Order
    collection: orders
    routing_field: customer
    flags:
      routed_load: true
      write_back: true
`), 0o600))
		t.Setenv("GRIDMIRROR_LOAD_PARALLELISM", "6")

		cfg, err := LoadConfig(path, logger)
		require.NoError(t, err)
		assert.Equal(t, "/data", cfg.DataPath)
		assert.Equal(t, Partitions{InstanceID: 3, Count: 4, NextCount: 8}, cfg.Partitions)
		assert.Equal(t, 6, cfg.Load.Parallelism)
		assert.Equal(t, DefaultProgressInterval, cfg.Load.ProgressInterval, "defaults survive partial files")
		assert.Equal(t, 30*time.Second, cfg.InstanceIDs.RecalculationDelay)
		assert.Equal(t, DefaultMetaCollection, cfg.InstanceIDs.MetaCollection)
		require.Len(t, cfg.Collections, 1)
		assert.Equal(t, "customer", cfg.Collections[0].RoutingField)
		assert.True(t, cfg.Collections[0].Flags.RoutedLoad)
		assert.True(t, cfg.Collections[0].Flags.WriteBack)
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), logger)
		require.NoError(t, err)
		assert.Equal(t, Defaults(), cfg)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gridmirror.toml")
		require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))
		_, err := LoadConfig(path, logger)
		assert.ErrorContains(t, err, "unsupported config file extension")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gridmirror.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"partitions": {"instance_id": 5, "count": 4}}`), 0o600))
		_, err := LoadConfig(path, logger)
		assert.ErrorContains(t, err, "instance_id")
	})
}

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides([]byte("transient_errors: [\"socket closed\"]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"socket closed"}, o.TransientErrors)

	o, err = ParseOverrides(nil)
	require.NoError(t, err)
	assert.Empty(t, o.TransientErrors)

	_, err = ParseOverrides([]byte("unknown: 1"))
	assert.Error(t, err)
}
