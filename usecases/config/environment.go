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
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/weaviate/gridmirror/usecases/configbase"
	"github.com/weaviate/gridmirror/usecases/store"
)

const envPrefix = "GRIDMIRROR_"

// FromEnv takes a *Config as it will respect initial config that has been
// provided by other means (e.g. a config file) and will only extend those that
// are set
func FromEnv(config *Config) error {
	if v := getenv("DATA_PATH"); v != "" {
		config.DataPath = v
	}

	if err := parsePositiveInt("INSTANCE_ID", func(val int) { config.Partitions.InstanceID = val }); err != nil {
		return err
	}
	if err := parsePositiveInt("PARTITION_COUNT", func(val int) { config.Partitions.Count = val }); err != nil {
		return err
	}
	if err := parseNonNegativeInt("NEXT_PARTITION_COUNT", func(val int) { config.Partitions.NextCount = val }); err != nil {
		return err
	}

	if err := parsePositiveInt("LOAD_PARALLELISM", func(val int) { config.Load.Parallelism = val }); err != nil {
		return err
	}
	if err := parseDuration("LOAD_PROGRESS_INTERVAL", func(val time.Duration) { config.Load.ProgressInterval = val }); err != nil {
		return err
	}

	if err := parsePositiveInt("WRITE_BATCH_SIZE", func(val int) { config.Write.BatchSize = val }); err != nil {
		return err
	}
	if err := parseNonNegativeInt("MAX_PARTIAL_RETRIES", func(val int) { config.Write.MaxPartialRetries = val }); err != nil {
		return err
	}

	if v := getenv("INSTANCE_IDS_ENABLED"); v != "" {
		config.InstanceIDs.Enabled = configbase.Enabled(v)
	}
	if err := parsePositiveInt("INSTANCE_IDS_BATCH_SIZE", func(val int) { config.InstanceIDs.BatchSize = val }); err != nil {
		return err
	}
	if err := parseDuration("INSTANCE_IDS_RECALCULATION_DELAY", func(val time.Duration) { config.InstanceIDs.RecalculationDelay = val }); err != nil {
		return err
	}
	if v := getenv("INSTANCE_IDS_META_COLLECTION"); v != "" {
		config.InstanceIDs.MetaCollection = v
	}

	if v := getenv("READ_PREFERENCE"); v != "" {
		config.Store.ReadPreference = store.ReadPreference(v)
	}

	if v := getenv("TRANSIENT_ERRORS"); v != "" {
		config.TransientErrors = strings.Split(v, ",")
	}

	if v := getenv("METRICS_ENABLED"); v != "" {
		config.Monitoring.Enabled = configbase.Enabled(v)
	}
	if v := getenv("METRICS_LISTEN"); v != "" {
		config.Monitoring.Listen = v
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := getenv("RUNTIME_OVERRIDES_ENABLED"); v != "" {
		config.RuntimeOverrides.Enabled = configbase.Enabled(v)
	}
	if v := getenv("RUNTIME_OVERRIDES_PATH"); v != "" {
		config.RuntimeOverrides.Path = v
	}
	if err := parseDuration("RUNTIME_OVERRIDES_LOAD_INTERVAL", func(val time.Duration) { config.RuntimeOverrides.LoadInterval = val }); err != nil {
		return err
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(envPrefix + name)
}

func parsePositiveInt(name string, cb func(val int)) error {
	return parseInt(name, 1, cb)
}

func parseNonNegativeInt(name string, cb func(val int)) error {
	return parseInt(name, 0, cb)
}

func parseInt(name string, minimum int, cb func(val int)) error {
	v := getenv(name)
	if v == "" {
		return nil
	}
	asInt, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s%s as int", envPrefix, name)
	}
	if asInt < minimum {
		return errors.Errorf("%s%s must be at least %d, got %d", envPrefix, name, minimum, asInt)
	}
	cb(asInt)
	return nil
}

func parseDuration(name string, cb func(val time.Duration)) error {
	v := getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s%s as duration", envPrefix, name)
	}
	cb(d)
	return nil
}
