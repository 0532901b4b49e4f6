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

// Package mirror assembles the persistence side of the grid: it loads the
// initial working set, mirrors mutation batches and reloads single records
// on demand.
package mirror

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/gridmirror/entities/descriptor"
	enterrors "github.com/weaviate/gridmirror/entities/errors"
	"github.com/weaviate/gridmirror/usecases/bulkwriter"
	"github.com/weaviate/gridmirror/usecases/config"
	"github.com/weaviate/gridmirror/usecases/config/runtime"
	"github.com/weaviate/gridmirror/usecases/instanceid"
	"github.com/weaviate/gridmirror/usecases/loader"
	"github.com/weaviate/gridmirror/usecases/monitoring"
	"github.com/weaviate/gridmirror/usecases/registry"
	"github.com/weaviate/gridmirror/usecases/sharding"
	"github.com/weaviate/gridmirror/usecases/store"
)

type Config struct {
	Settings    config.Config
	Database    store.Database
	Converters  store.Converters
	Descriptors []*descriptor.Descriptor

	Listener bulkwriter.ExceptionListener
	Handler  bulkwriter.ExceptionHandler

	// Registerer receives the metrics, nil disables them.
	Registerer prometheus.Registerer
	Clock      clockwork.Clock
	Logger     logrus.FieldLogger
}

// Mirror is the set of callbacks the grid runtime calls into.
type Mirror struct {
	settings   config.Config
	registry   *registry.Registry
	router     *sharding.Router
	loader     *loader.Loader
	writer     *bulkwriter.Writer
	calculator *instanceid.Calculator
	policy     *enterrors.SwappablePolicy
	guard      *reloadGuard
	metrics    *monitoring.Metrics
	registerer prometheus.Registerer
	clock      clockwork.Clock
	logger     logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

func New(cfg Config) (*Mirror, error) {
	if cfg.Logger == nil {
		return nil, errors.New("mirror needs a logger")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = monitoring.NoopRegisterer()
	}

	reg, err := registry.New(cfg.Database, cfg.Converters, cfg.Descriptors...)
	if err != nil {
		return nil, err
	}
	p := cfg.Settings.Partitions
	router, err := sharding.NewRouter(p.InstanceID, p.Count)
	if err != nil {
		return nil, err
	}

	m := &Mirror{
		settings:   cfg.Settings,
		registry:   reg,
		router:     router,
		policy:     enterrors.NewSwappablePolicy(enterrors.MatchPolicy{Patterns: cfg.Settings.TransientErrors}),
		guard:      newReloadGuard(),
		metrics:    monitoring.NewMetrics(cfg.Registerer),
		registerer: cfg.Registerer,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	stamper := sharding.NewStamper(p.TrackedCounts()...)

	m.writer, err = bulkwriter.New(bulkwriter.Config{
		Registry:          reg,
		Stamper:           stamper,
		Policy:            m.policy,
		BatchSize:         cfg.Settings.Write.BatchSize,
		MaxPartialRetries: cfg.Settings.Write.MaxPartialRetries,
		Listener:          cfg.Listener,
		Handler:           cfg.Handler,
		Guard:             m.guard,
		Stats:             monitoring.NewWriteStats(cfg.Clock),
		Metrics:           m.metrics,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	var readiness loader.Readiness
	if cfg.Settings.InstanceIDs.Enabled {
		m.calculator, err = instanceid.New(instanceid.Config{
			Registry:           reg,
			Partitions:         p.Count,
			NextPartitions:     p.NextCount,
			BatchSize:          cfg.Settings.InstanceIDs.BatchSize,
			RecalculationDelay: cfg.Settings.InstanceIDs.RecalculationDelay,
			Writer:             m.writer,
			MetaCollection:     cfg.Settings.InstanceIDs.MetaCollection,
			Clock:              cfg.Clock,
			Metrics:            m.metrics,
			Logger:             cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		readiness = m.calculator.Ready()
	}

	m.loader, err = loader.New(loader.Config{
		Parallelism:      cfg.Settings.Load.Parallelism,
		ProgressInterval: cfg.Settings.Load.ProgressInterval,
		Clock:            cfg.Clock,
		Readiness:        readiness,
		Writer:           m.writer,
		Stamper:          stamper,
		Metrics:          m.metrics,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mirror) Registry() *registry.Registry { return m.registry }

func (m *Mirror) Metrics() *monitoring.Metrics { return m.metrics }

// Start runs the background parts: the runtime overrides reload and, with
// instance ids enabled, the delayed recalculation.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("mirror already started")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	ro := m.settings.RuntimeOverrides
	if !ro.Enabled {
		closed := make(chan struct{})
		close(closed)
		m.done = closed
	} else {
		w, err := runtime.NewWatcher[config.Overrides](runtime.Options{
			Path:     ro.Path,
			Interval: ro.LoadInterval,
			Clock:    m.clock,
		}, config.ParseOverrides, m.logger, m.registerer, m.applyOverrides)
		if err != nil {
			m.cancel()
			m.cancel = nil
			return errors.Wrap(err, "runtime overrides")
		}
		m.done = enterrors.GoWrapper(func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.WithError(err).Error("runtime overrides stopped")
			}
		}, m.logger)
	}

	if m.calculator != nil {
		m.calculator.ScheduleRecalculation(ctx)
	}
	return nil
}

// Close stops what Start started.
func (m *Mirror) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if m.calculator != nil {
		m.calculator.Stop()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (m *Mirror) applyOverrides(o *config.Overrides) {
	patterns := append(append([]string{}, m.settings.TransientErrors...), o.TransientErrors...)
	m.policy.Swap(enterrors.MatchPolicy{Patterns: patterns})
	m.logger.WithFields(logrus.Fields{
		"action":           "runtime_overrides",
		"transient_errors": patterns,
	}).Info("applied runtime overrides")
}

// InitialLoad loads every type that is not excluded from loading, in
// registration order, and hands the records of each type to fn. Instance
// ids completed by an earlier process are trusted from the start.
func (m *Mirror) InitialLoad(ctx context.Context, fn func(typeName string, records []any) error) error {
	if m.calculator != nil {
		if _, err := m.calculator.Restore(ctx); err != nil {
			m.logger.WithField("action", "mirror_initial_load").WithError(err).
				Warn("could not restore instance id readiness, loading without the index")
		}
	}
	for _, desc := range m.registry.Loadable() {
		res, err := m.load(ctx, desc, loader.LoadOptions{})
		if err != nil {
			return err
		}
		if err := fn(desc.TypeName(), res.Records); err != nil {
			return errors.Wrapf(err, "initial load of %s", desc.TypeName())
		}
	}
	return nil
}

// LoadMatching loads the owned records of typeName selected by opts.
func (m *Mirror) LoadMatching(ctx context.Context, typeName string, opts loader.LoadOptions) ([]any, error) {
	desc, ok := m.registry.Descriptor(typeName)
	if !ok {
		return nil, errors.Wrap(registry.ErrUnknownType, typeName)
	}
	res, err := m.load(ctx, desc, opts)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (m *Mirror) load(ctx context.Context, desc *descriptor.Descriptor, opts loader.LoadOptions) (*loader.Result, error) {
	coll, err := m.registry.Collection(desc.TypeName())
	if err != nil {
		return nil, err
	}
	conv, err := m.registry.Converter(desc.TypeName())
	if err != nil {
		return nil, err
	}
	return m.loader.Load(ctx, coll, conv, m.router.Filter(desc), opts)
}

// Sync mirrors a batch of grid mutations.
func (m *Mirror) Sync(ctx context.Context, batch []bulkwriter.Mutation) error {
	return m.writer.Sync(ctx, batch)
}

// Reload reads records from the store, ids that are not stored are
// skipped. Mutations of the returned records are not mirrored until the
// next Tick.
func (m *Mirror) Reload(ctx context.Context, typeName string, ids ...string) ([]any, error) {
	desc, ok := m.registry.Descriptor(typeName)
	if !ok {
		return nil, errors.Wrap(registry.ErrUnknownType, typeName)
	}
	coll, err := m.registry.Collection(typeName)
	if err != nil {
		return nil, err
	}
	conv, err := m.registry.Converter(typeName)
	if err != nil {
		return nil, err
	}
	filter := m.router.Filter(desc)

	records := make([]any, 0, len(ids))
	for _, id := range ids {
		record, ok, err := m.loader.LoadByID(ctx, coll, conv, filter, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.logger.WithFields(logrus.Fields{
				"action": "mirror_reload",
				"type":   typeName,
				"id":     id,
			}).Debug("record is not stored, skipping")
			continue
		}
		m.guard.add(typeName, id)
		records = append(records, record)
	}
	return records, nil
}

// Tick marks the end of a grid tick.
func (m *Mirror) Tick() {
	if n := m.guard.size(); n > 0 {
		m.logger.WithField("action", "mirror_tick").WithField("reloaded", n).Trace("clearing reload guard")
	}
	m.guard.clear()
}

func (m *Mirror) Stats() monitoring.Snapshot {
	return m.writer.Stats()
}

// Recalculate rewrites the instance ids of every collection that persists
// them.
func (m *Mirror) Recalculate(ctx context.Context) (instanceid.Totals, error) {
	if m.calculator == nil {
		return instanceid.Totals{}, errors.New("instance ids are not enabled")
	}
	return m.calculator.Recalculate(ctx)
}
