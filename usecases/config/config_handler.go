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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/usecases/store"
)

const DefaultConfigFile string = "./gridmirror.conf.yaml"

const (
	DefaultLoadParallelism       = 4
	DefaultProgressInterval      = 10 * time.Second
	DefaultWriteBatchSize        = 1000
	DefaultMaxPartialRetries     = 100
	DefaultInstanceIDBatchSize   = 10000
	DefaultRecalculationDelay    = time.Minute
	DefaultMetaCollection        = "_gridmirror_meta"
	DefaultScanPageSize          = 1000
	DefaultRuntimeConfigInterval = 30 * time.Second
)

// Config is the configuration of one mirror instance.
type Config struct {
	DataPath         string             `json:"data_path" yaml:"data_path"`
	Partitions       Partitions         `json:"partitions" yaml:"partitions"`
	Load             Load               `json:"load" yaml:"load"`
	Write            Write              `json:"write" yaml:"write"`
	InstanceIDs      InstanceIDs        `json:"instance_ids" yaml:"instance_ids"`
	Store            Store              `json:"store" yaml:"store"`
	Monitoring       Monitoring         `json:"monitoring" yaml:"monitoring"`
	Logging          Logging            `json:"logging" yaml:"logging"`
	TransientErrors  []string           `json:"transient_errors" yaml:"transient_errors"`
	RuntimeOverrides RuntimeOverrides   `json:"runtime_overrides" yaml:"runtime_overrides"`
	Collections      []CollectionConfig `json:"collections" yaml:"collections"`
}

// Partitions describes the position of this instance in the grid. NextCount
// is the partition count of a planned repartitioning, 0 if none is planned.
type Partitions struct {
	InstanceID int `json:"instance_id" yaml:"instance_id"`
	Count      int `json:"count" yaml:"count"`
	NextCount  int `json:"next_count" yaml:"next_count"`
}

type Load struct {
	Parallelism      int           `json:"parallelism" yaml:"parallelism"`
	ProgressInterval time.Duration `json:"progress_interval" yaml:"progress_interval"`
}

type Write struct {
	BatchSize         int `json:"batch_size" yaml:"batch_size"`
	MaxPartialRetries int `json:"max_partial_retries" yaml:"max_partial_retries"`
}

type InstanceIDs struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	BatchSize          int           `json:"batch_size" yaml:"batch_size"`
	RecalculationDelay time.Duration `json:"recalculation_delay" yaml:"recalculation_delay"`
	// MetaCollection keeps the completed calculations across restarts.
	MetaCollection     string        `json:"meta_collection" yaml:"meta_collection"`
}

type Store struct {
	ReadPreference store.ReadPreference `json:"read_preference" yaml:"read_preference"`
	Timeout        time.Duration        `json:"timeout" yaml:"timeout"`
	ScanPageSize   int                  `json:"scan_page_size" yaml:"scan_page_size"`
}

type Monitoring struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

type Logging struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type RuntimeOverrides struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Path         string        `json:"path" yaml:"path"`
	LoadInterval time.Duration `json:"load_interval" yaml:"load_interval"`
}

// CollectionConfig declares a record type for the command line tool. Types
// registered in code do not need one.
type CollectionConfig struct {
	TypeName     string           `json:"type_name" yaml:"type_name"`
	Collection   string           `json:"collection" yaml:"collection"`
	RoutingField string           `json:"routing_field" yaml:"routing_field"`
	Flags        descriptor.Flags `json:"flags" yaml:"flags"`
}

// Defaults returns a single partition configuration.
func Defaults() Config {
	return Config{
		DataPath: "./data",
		Partitions: Partitions{
			InstanceID: 1,
			Count:      1,
		},
		Load: Load{
			Parallelism:      DefaultLoadParallelism,
			ProgressInterval: DefaultProgressInterval,
		},
		Write: Write{
			BatchSize:         DefaultWriteBatchSize,
			MaxPartialRetries: DefaultMaxPartialRetries,
		},
		InstanceIDs: InstanceIDs{
			BatchSize:          DefaultInstanceIDBatchSize,
			RecalculationDelay: DefaultRecalculationDelay,
			MetaCollection:     DefaultMetaCollection,
		},
		Store: Store{
			ReadPreference: store.ReadPrimary,
			ScanPageSize:   DefaultScanPageSize,
		},
		Monitoring: Monitoring{
			Listen: ":2112",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		RuntimeOverrides: RuntimeOverrides{
			LoadInterval: DefaultRuntimeConfigInterval,
		},
	}
}

func (c Config) Validate() error {
	p := c.Partitions
	if p.Count < 1 {
		return configErr(fmt.Errorf("partitions.count must be at least 1, got %d", p.Count))
	}
	if p.InstanceID < 1 || p.InstanceID > p.Count {
		return configErr(fmt.Errorf("partitions.instance_id must be between 1 and %d, got %d",
			p.Count, p.InstanceID))
	}
	if p.NextCount < 0 {
		return configErr(fmt.Errorf("partitions.next_count must not be negative, got %d", p.NextCount))
	}
	if c.Load.Parallelism < 1 {
		return configErr(fmt.Errorf("load.parallelism must be at least 1, got %d", c.Load.Parallelism))
	}
	if c.Load.ProgressInterval <= 0 {
		return configErr(fmt.Errorf("load.progress_interval must be more than 0"))
	}
	if c.Write.BatchSize < 1 {
		return configErr(fmt.Errorf("write.batch_size must be at least 1"))
	}
	if c.Write.MaxPartialRetries < 0 {
		return configErr(fmt.Errorf("write.max_partial_retries must not be negative"))
	}
	if c.InstanceIDs.BatchSize < 1 {
		return configErr(fmt.Errorf("instance_ids.batch_size must be at least 1"))
	}
	if c.InstanceIDs.RecalculationDelay < 0 {
		return configErr(fmt.Errorf("instance_ids.recalculation_delay must not be negative"))
	}
	if c.InstanceIDs.Enabled && c.InstanceIDs.MetaCollection == "" {
		return configErr(fmt.Errorf("instance_ids.meta_collection is required when instance ids are enabled"))
	}
	if c.Store.ReadPreference != "" && !c.Store.ReadPreference.Valid() {
		return configErr(fmt.Errorf("store.read_preference %q is not supported", c.Store.ReadPreference))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return configErr(fmt.Errorf("logging.level: %w", err))
	}
	if c.RuntimeOverrides.Enabled {
		if c.RuntimeOverrides.Path == "" {
			return configErr(fmt.Errorf("runtime_overrides.path is required when runtime overrides are enabled"))
		}
		if c.RuntimeOverrides.LoadInterval <= 0 {
			return configErr(fmt.Errorf("runtime_overrides.load_interval must be more than 0"))
		}
	}
	seen := map[string]struct{}{}
	for i, coll := range c.Collections {
		if coll.TypeName == "" {
			return configErr(fmt.Errorf("collections[%d].type_name is empty", i))
		}
		if _, ok := seen[coll.TypeName]; ok {
			return configErr(fmt.Errorf("collections contains type %s multiple times", coll.TypeName))
		}
		seen[coll.TypeName] = struct{}{}
	}
	return nil
}

// Descriptor builds the descriptor of a declared record type. Declared
// types have no patches, their documents are expected at version 1.
func (c CollectionConfig) Descriptor() (*descriptor.Descriptor, error) {
	cfg := descriptor.Config{
		TypeName:   c.TypeName,
		Collection: c.Collection,
		Flags:      c.Flags,
	}
	switch c.RoutingField {
	case "":
	case document.FieldID:
		cfg.Routing = descriptor.RouteByID()
	default:
		cfg.Routing = descriptor.RouteByField(c.RoutingField)
	}
	return descriptor.New(cfg)
}

// TrackedCounts are the partition counts the instance id fields are
// maintained for.
func (p Partitions) TrackedCounts() []int {
	if p.NextCount == 0 || p.NextCount == p.Count {
		return []int{p.Count}
	}
	return []int{p.Count, p.NextCount}
}

// LoadConfig from config locations. The load order for configuration values
// is the following:
//  1. Defaults
//  2. Config file
//  3. Environment variables
//
// If a config option is specified multiple times, the latest one is used.
func LoadConfig(configFileName string, logger logrus.FieldLogger) (Config, error) {
	cfg := Defaults()
	if configFileName == "" {
		configFileName = DefaultConfigFile
	}

	file, err := os.ReadFile(configFileName)
	switch {
	case err == nil:
		logger.WithField("action", "config_load").
			WithField("config_file_path", configFileName).
			Info("loading config file")
		if err := parseConfigFile(file, configFileName, &cfg); err != nil {
			return cfg, configErr(err)
		}
	case os.IsNotExist(err):
		logger.WithField("action", "config_load").
			WithField("config_file_path", configFileName).
			Debug("no config file, using defaults and environment")
	default:
		return cfg, configErr(err)
	}

	if err := FromEnv(&cfg); err != nil {
		return cfg, configErr(err)
	}

	return cfg, cfg.Validate()
}

func parseConfigFile(file []byte, name string, cfg *Config) error {
	switch ext := filepath.Ext(name); ext {
	case ".json":
		if err := json.Unmarshal(file, cfg); err != nil {
			return fmt.Errorf("error unmarshalling the json config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return fmt.Errorf("error unmarshalling the yaml config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension '%s', use .yaml or .json", ext)
	}
	return nil
}

func configErr(err error) error {
	return fmt.Errorf("invalid config: %w", err)
}
