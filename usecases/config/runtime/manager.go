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

// Package runtime watches a small config file for settings that may change
// while the process is running.
package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyConfig         = errors.New("empty runtime config")
	ErrFailedToReadConfig  = errors.New("failed to read runtime config")
	ErrFailedToParseConfig = errors.New("failed to parse runtime config")
)

// Parser unmarshals a config from the raw file content.
type Parser[T any] func([]byte) (*T, error)

// Hook is called with every newly loaded config.
type Hook[T any] func(*T)

type Options struct {
	Path string
	// Interval between two reads of Path. SIGHUP triggers an extra read.
	Interval time.Duration
	Clock    clockwork.Clock
}

// Watcher keeps the last valid config read from a file. A file that cannot
// be read or parsed never replaces a valid config.
type Watcher[T any] struct {
	opts  Options
	parse Parser[T]
	hooks []Hook[T]
	log   logrus.FieldLogger

	mu      sync.RWMutex
	current *T
	digest  string

	lastLoadSuccess prometheus.Gauge
	configHash      *prometheus.GaugeVec
}

// NewWatcher reads the file once and fails if it is not valid.
func NewWatcher[T any](opts Options, parse Parser[T], log logrus.FieldLogger,
	r prometheus.Registerer, hooks ...Hook[T],
) (*Watcher[T], error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("runtime config path is empty")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("runtime config interval must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	f := promauto.With(r)
	w := &Watcher[T]{
		opts:  opts,
		parse: parse,
		hooks: hooks,
		log:   log.WithField("runtime_config", opts.Path),
		lastLoadSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridmirror_runtime_config_last_load_success",
			Help: "Whether the last loading attempt of runtime config was success",
		}),
		configHash: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridmirror_runtime_config_hash",
			Help: "Hash value of the currently active runtime configuration",
		}, []string{"sha256"}),
	}

	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the active config.
func (w *Watcher[T]) Current() (*T, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return nil, ErrEmptyConfig
	}
	return w.current, nil
}

// Reload reads the file and activates it if its content changed.
func (w *Watcher[T]) Reload() error {
	raw, err := os.ReadFile(w.opts.Path)
	if err != nil {
		w.lastLoadSuccess.Set(0)
		return errors.Join(ErrFailedToReadConfig, err)
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])

	w.mu.RLock()
	unchanged := digest == w.digest
	w.mu.RUnlock()
	if unchanged {
		w.lastLoadSuccess.Set(1)
		return nil
	}

	cfg, err := w.parse(raw)
	if err != nil {
		w.lastLoadSuccess.Set(0)
		return errors.Join(ErrFailedToParseConfig, err)
	}

	w.mu.Lock()
	w.current, w.digest = cfg, digest
	w.mu.Unlock()

	for _, hook := range w.hooks {
		hook(cfg)
	}
	w.lastLoadSuccess.Set(1)
	w.configHash.Reset()
	w.configHash.WithLabelValues(digest).Set(1)
	w.log.WithField("action", "runtime_config_load").WithField("sha256", digest).Info("runtime config activated")
	return nil
}

// Run reloads on every interval and on SIGHUP until ctx is done.
func (w *Watcher[T]) Run(ctx context.Context) error {
	ticker := w.opts.Clock.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		var trigger string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			trigger = "interval"
		case <-hup:
			trigger = "sighup"
		}
		if err := w.Reload(); err != nil {
			w.log.WithError(err).WithField("trigger", trigger).
				Error("reloading runtime config failed, keeping the active one")
		}
	}
}
