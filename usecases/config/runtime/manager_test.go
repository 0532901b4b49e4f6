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

package runtime

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testConfig struct {
	TransientErrors []string `yaml:"transient_errors"`
}

func parseTestConfig(buf []byte) (*testConfig, error) {
	var c testConfig
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func writeConfig(t *testing.T, path string, buf []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, buf, 0o600))
}

func expectedMetrics(hash string, success int) string {
	return fmt.Sprintf(`
	# HELP gridmirror_runtime_config_hash Hash value of the currently active runtime configuration
	# TYPE gridmirror_runtime_config_hash gauge
	gridmirror_runtime_config_hash{sha256="%s"} 1
	# HELP gridmirror_runtime_config_last_load_success Whether the last loading attempt of runtime config was success
	# TYPE gridmirror_runtime_config_last_load_success gauge
	gridmirror_runtime_config_last_load_success %d
	`, hash, success)
}

func TestWatcher_Reload(t *testing.T) {
	log, _ := test.NewNullLogger()

	t.Run("missing file fails at startup", func(t *testing.T) {
		reg := prometheus.NewPedanticRegistry()
		_, err := NewWatcher(Options{Path: "non-exist.yaml", Interval: time.Second}, parseTestConfig, log, reg)
		require.ErrorIs(t, err, ErrFailedToReadConfig)

		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
		# HELP gridmirror_runtime_config_last_load_success Whether the last loading attempt of runtime config was success
		# TYPE gridmirror_runtime_config_last_load_success gauge
		gridmirror_runtime_config_last_load_success 0
		`)))
	})

	t.Run("invalid options are rejected", func(t *testing.T) {
		_, err := NewWatcher(Options{Path: " ", Interval: time.Second}, parseTestConfig, log, prometheus.NewPedanticRegistry())
		require.Error(t, err)

		_, err = NewWatcher(Options{Path: "overrides.yaml"}, parseTestConfig, log, prometheus.NewPedanticRegistry())
		require.Error(t, err)
	})

	t.Run("invalid file fails at startup", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "overrides.yaml")
		writeConfig(t, path, []byte("transient_errors: [unclosed"))

		_, err := NewWatcher(Options{Path: path, Interval: time.Second}, parseTestConfig, log,
			prometheus.NewPedanticRegistry())
		require.ErrorIs(t, err, ErrFailedToParseConfig)
	})

	t.Run("valid config calls the hooks and sets the metrics", func(t *testing.T) {
		reg := prometheus.NewPedanticRegistry()
		path := filepath.Join(t.TempDir(), "overrides.yaml")
		buf := []byte(`transient_errors: ["socket closed"]`)
		writeConfig(t, path, buf)

		var seen []*testConfig
		w, err := NewWatcher(Options{Path: path, Interval: time.Second}, parseTestConfig, log, reg,
			func(c *testConfig) { seen = append(seen, c) })
		require.NoError(t, err)

		cfg, err := w.Current()
		require.NoError(t, err)
		assert.Equal(t, []string{"socket closed"}, cfg.TransientErrors)
		require.Len(t, seen, 1)
		assert.Same(t, cfg, seen[0])

		assert.NoError(t, testutil.GatherAndCompare(reg,
			strings.NewReader(expectedMetrics(fmt.Sprintf("%x", sha256.Sum256(buf)), 1))))
	})
}

func TestWatcher_Run(t *testing.T) {
	log, _ := test.NewNullLogger()
	reg := prometheus.NewPedanticRegistry()
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	buf := []byte(`transient_errors: ["a"]`)
	writeConfig(t, path, buf)

	var (
		mu   sync.Mutex
		seen []string
	)
	hook := func(c *testConfig) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, strings.Join(c.TransientErrors, ","))
	}
	clock := clockwork.NewFakeClock()
	w, err := NewWatcher(Options{Path: path, Interval: time.Second, Clock: clock}, parseTestConfig, log, reg, hook)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	t.Run("unchanged config is not reloaded", func(t *testing.T) {
		clock.Advance(time.Second)
		assert.EventuallyWithT(t, func(c *assert.CollectT) {
			assert.NoError(c, testutil.GatherAndCompare(reg,
				strings.NewReader(expectedMetrics(fmt.Sprintf("%x", sha256.Sum256(buf)), 1))))
		}, time.Second, 10*time.Millisecond)
		mu.Lock()
		assert.Equal(t, []string{"a"}, seen)
		mu.Unlock()
	})

	t.Run("changed config is reloaded", func(t *testing.T) {
		next := []byte(`transient_errors: ["a", "b"]`)
		writeConfig(t, path, next)
		clock.Advance(time.Second)

		assert.EventuallyWithT(t, func(c *assert.CollectT) {
			assert.NoError(c, testutil.GatherAndCompare(reg,
				strings.NewReader(expectedMetrics(fmt.Sprintf("%x", sha256.Sum256(next)), 1))))
		}, time.Second, 10*time.Millisecond)
		buf = next
	})

	t.Run("invalid config keeps the old one", func(t *testing.T) {
		writeConfig(t, path, []byte("transient_errors: [unclosed"))
		clock.Advance(time.Second)

		assert.EventuallyWithT(t, func(c *assert.CollectT) {
			assert.NoError(c, testutil.GatherAndCompare(reg,
				strings.NewReader(expectedMetrics(fmt.Sprintf("%x", sha256.Sum256(buf)), 0))))
		}, time.Second, 10*time.Millisecond)

		cfg, err := w.Current()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, cfg.TransientErrors)
	})

	cancel()
	wg.Wait()
	mu.Lock()
	assert.Equal(t, []string{"a", "a,b"}, seen)
	mu.Unlock()
}
