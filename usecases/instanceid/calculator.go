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

package instanceid

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/routing"
	"github.com/weaviate/gridmirror/usecases/bulkwriter"
	"github.com/weaviate/gridmirror/usecases/monitoring"
	"github.com/weaviate/gridmirror/usecases/registry"
	"github.com/weaviate/gridmirror/usecases/sharding"
	"github.com/weaviate/gridmirror/usecases/store"
)

const (
	defaultBatchSize          = 10000
	defaultRecalculationDelay = time.Minute
)

// Executor persists field updates, see bulkwriter.Writer.
type Executor interface {
	Execute(ctx context.Context, coll store.Collection, typeName string, ops []store.BulkOp) (bulkwriter.Outcome, error)
}

// ErrUpdatesDropped is returned when some instance id updates were reported
// and not written, the collection then stays unready.
var ErrUpdatesDropped = errors.New("instance id updates dropped")

type Config struct {
	Registry *registry.Registry
	// Partitions is the current partition count, NextPartitions an optional
	// upcoming one that is maintained ahead of a repartitioning.
	Partitions         int
	NextPartitions     int
	BatchSize          int
	RecalculationDelay time.Duration
	Writer             Executor
	Ready              *ReadySet
	// MetaCollection persists completed calculations, it defaults to
	// DefaultMetaCollection.
	MetaCollection     string
	Clock              clockwork.Clock
	Metrics            *monitoring.Metrics
	Logger             logrus.FieldLogger
}

// Calculator keeps the _instanceId_<N> fields and their indexes of every
// collection with persisted instance ids in line with the partition counts
// of interest.
type Calculator struct {
	registry  *registry.Registry
	counts    []int
	batchSize int
	delay     time.Duration
	writer    Executor
	ready     *ReadySet
	markers   markers
	clock     clockwork.Clock
	metrics   *monitoring.Metrics
	logger    logrus.FieldLogger

	mu      sync.Mutex
	timer   clockwork.Timer
	cancel  context.CancelFunc
	stopped bool
	running sync.WaitGroup
}

func New(cfg Config) (*Calculator, error) {
	if cfg.Registry == nil || cfg.Writer == nil || cfg.Logger == nil {
		return nil, errors.New("instance id calculator needs a registry, a writer and a logger")
	}
	if cfg.Partitions < 1 {
		return nil, errors.Errorf("partition count must be at least 1, got %d", cfg.Partitions)
	}

	c := &Calculator{
		registry:  cfg.Registry,
		counts:    sharding.NewStamper(cfg.Partitions, cfg.NextPartitions).Counts(),
		batchSize: cfg.BatchSize,
		delay:     cfg.RecalculationDelay,
		writer:    cfg.Writer,
		ready:     cfg.Ready,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.WithField("action", "instance_id_calculation"),
	}
	meta := cfg.MetaCollection
	if meta == "" {
		meta = DefaultMetaCollection
	}
	for _, d := range cfg.Registry.Descriptors() {
		if d.Collection() == meta {
			return nil, errors.Errorf("type %s uses the meta collection %s", d.TypeName(), meta)
		}
	}
	c.markers = markers{db: cfg.Registry.Database(), name: meta}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.delay <= 0 {
		c.delay = defaultRecalculationDelay
	}
	if c.ready == nil {
		c.ready = NewReadySet()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c, nil
}

// CountsOfInterest are the partition counts instance ids are kept for, in
// ascending order.
func (c *Calculator) CountsOfInterest() []int {
	return append([]int{}, c.counts...)
}

func (c *Calculator) Ready() *ReadySet { return c.ready }

// Summary is the outcome of one collection.
type Summary struct {
	TypeName       string
	Collection     string
	Scanned        int
	Updated        int
	CreatedIndexes []string
	DroppedIndexes []string
}

// Totals aggregate the summaries of a run.
type Totals struct {
	Collections int
	Scanned     int
	Updated     int
}

// Run brings every collection up to date. A failing collection does not
// stop the others, its error is part of the returned one.
func (c *Calculator) Run(ctx context.Context) ([]Summary, error) {
	var (
		summaries []Summary
		result    *multierror.Error
	)
	for _, desc := range c.registry.WithInstanceIDs() {
		s, err := c.calculate(ctx, desc)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "collection %s", desc.Collection()))
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, result.ErrorOrNil()
}

// Recalculate is Run on request, reporting only the totals.
func (c *Calculator) Recalculate(ctx context.Context) (Totals, error) {
	summaries, err := c.Run(ctx)
	var t Totals
	for _, s := range summaries {
		t.Collections++
		t.Scanned += s.Scanned
		t.Updated += s.Updated
	}
	c.logger.WithFields(logrus.Fields{
		"collections": t.Collections,
		"scanned":     t.Scanned,
		"updated":     t.Updated,
	}).Info("recalculated instance ids")
	return t, err
}

// Restore marks the pairs ready whose last calculation completed in an
// earlier process and whose index still exists. It lets loads take the
// indexed path before the first recalculation of this process.
func (c *Calculator) Restore(ctx context.Context) (int, error) {
	var (
		restored int
		result   *multierror.Error
	)
	for _, desc := range c.registry.WithInstanceIDs() {
		done, err := c.markers.load(ctx, desc.Collection())
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if len(done) == 0 {
			continue
		}
		coll, err := c.registry.Collection(desc.TypeName())
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		indexes, err := indexNames(ctx, coll)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "collection %s", desc.Collection()))
			continue
		}
		for _, n := range c.counts {
			if !done[n] || !indexes[document.InstanceIDField(n)] {
				continue
			}
			c.ready.mark(desc.Collection(), n)
			c.metrics.SetInstanceIDReady(desc.Collection(), n, true)
			restored++
		}
	}
	c.logger.WithField("restored", restored).Debug("restored instance id readiness")
	return restored, result.ErrorOrNil()
}

// ScheduleRecalculation runs Recalculate once after the configured delay.
// Later calls are ignored while one is pending.
func (c *Calculator) ScheduleRecalculation(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.timer != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.timer = c.clock.AfterFunc(c.delay, func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.running.Add(1)
		c.mu.Unlock()
		defer c.running.Done()

		if _, err := c.Recalculate(ctx); err != nil {
			c.logger.WithError(err).Error("scheduled instance id recalculation failed")
		}
	})
	c.logger.WithField("delay", c.delay).Debug("scheduled instance id recalculation")
}

// Stop cancels a pending recalculation and waits for a running one.
func (c *Calculator) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.running.Wait()
}

func (c *Calculator) calculate(ctx context.Context, desc *descriptor.Descriptor) (Summary, error) {
	s := Summary{TypeName: desc.TypeName(), Collection: desc.Collection()}
	logger := c.logger.WithFields(logrus.Fields{
		"type":       desc.TypeName(),
		"collection": desc.Collection(),
	})

	coll, err := c.registry.Collection(desc.TypeName())
	if err != nil {
		return s, err
	}

	c.ready.unmarkExcept(desc.Collection(), c.counts)
	if err := c.markers.clear(ctx, desc.Collection()); err != nil {
		c.unmarkAll(desc.Collection())
		return s, err
	}
	perCount, err := c.updateFields(ctx, coll, desc, &s)
	if err != nil {
		c.unmarkAll(desc.Collection())
		return s, err
	}
	if err := c.reconcileIndexes(ctx, coll, &s); err != nil {
		c.unmarkAll(desc.Collection())
		return s, err
	}

	for _, n := range c.counts {
		c.ready.mark(desc.Collection(), n)
		c.metrics.SetInstanceIDReady(desc.Collection(), n, true)
		c.metrics.InstanceIDsUpdated(desc.Collection(), n, perCount[n])
	}
	if err := c.markers.set(ctx, desc.Collection(), c.counts, c.clock.Now()); err != nil {
		logger.WithError(err).Warn("instance ids are ready but the completion could not be persisted")
	}
	logger.WithFields(logrus.Fields{
		"scanned":         s.Scanned,
		"updated":         s.Updated,
		"created_indexes": s.CreatedIndexes,
		"dropped_indexes": s.DroppedIndexes,
	}).Info("instance ids up to date")
	return s, nil
}

func (c *Calculator) unmarkAll(collection string) {
	for _, n := range c.counts {
		c.ready.unmark(collection, n)
		c.metrics.SetInstanceIDReady(collection, n, false)
	}
}

// updateFields scans the collection and updates the documents whose routing
// fields differ from the computed ones. It returns the changed ids per
// partition count.
func (c *Calculator) updateFields(ctx context.Context, coll store.Collection, desc *descriptor.Descriptor,
	s *Summary,
) (map[int]int, error) {
	cursor, err := coll.Scan(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	defer cursor.Close()

	perCount := map[int]int{}
	dropped := 0
	batch := make([]store.BulkOp, 0, c.batchSize)
	changes := make([][]int, 0, c.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		outcome, err := c.writer.Execute(ctx, coll, desc.TypeName(), batch)
		if err != nil {
			return err
		}
		for i := range batch {
			if !outcome.Written(i) {
				dropped++
				continue
			}
			s.Updated++
			for _, n := range changes[i] {
				perCount[n]++
			}
		}
		batch, changes = batch[:0], changes[:0]
		return nil
	}

	for cursor.Next(ctx) {
		doc := cursor.Document()
		s.Scanned++

		op, changed, err := c.diff(desc, doc)
		if err != nil {
			return nil, err
		}
		if op == nil {
			continue
		}
		batch = append(batch, *op)
		changes = append(changes, changed)
		if len(batch) >= c.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if dropped > 0 {
		return perCount, errors.Wrapf(ErrUpdatesDropped, "%d of %d", dropped, dropped+s.Updated)
	}
	return perCount, nil
}

// diff returns the field update for doc, or nil when it is up to date.
func (c *Calculator) diff(desc *descriptor.Descriptor, doc *document.Document) (*store.BulkOp, []int, error) {
	key, ok := desc.RoutingKey(doc)
	if !ok {
		return nil, nil, errors.Wrapf(sharding.ErrMissingRoutingKey, "type %s, %s", desc.TypeName(), doc.Describe())
	}

	set := document.NewMap()
	if stored, ok := doc.RoutingKey(); !ok || !stored.Equal(key) {
		set.Set(document.FieldRoutingKey, key.Clone())
	}

	var changed []int
	for _, n := range c.counts {
		id, err := routing.InstanceID(key, n)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "type %s, %s", desc.TypeName(), doc.Describe())
		}
		if stored, ok := doc.InstanceID(n); !ok || stored != id {
			set.Set(document.InstanceIDField(n), document.FromInt(int64(id)))
			changed = append(changed, n)
		}
	}

	var unset []string
	for _, field := range doc.Keys() {
		if n, ok := document.ParseInstanceIDField(field); ok && !contains(c.counts, n) {
			unset = append(unset, field)
		}
	}

	if set.Len() == 0 && len(unset) == 0 {
		return nil, nil, nil
	}
	if set.Len() == 0 {
		set = nil
	}
	op := store.UpdateOp(doc.ID(), set, unset...)
	return &op, changed, nil
}

// reconcileIndexes creates the indexes of the counts of interest and drops
// the ones of other counts. Both are checked against a fresh listing
// afterwards.
func (c *Calculator) reconcileIndexes(ctx context.Context, coll store.Collection, s *Summary) error {
	existing, err := indexNames(ctx, coll)
	if err != nil {
		return err
	}

	for _, n := range c.counts {
		name := document.InstanceIDField(n)
		if existing[name] {
			continue
		}
		spec := store.IndexSpec{Name: name, Fields: []string{name}, Sparse: true}
		if err := coll.CreateIndex(ctx, spec); err != nil {
			return errors.Wrapf(err, "create index %s", name)
		}
		s.CreatedIndexes = append(s.CreatedIndexes, name)
	}

	var stale []string
	for name := range existing {
		if n, ok := document.ParseInstanceIDField(name); ok && !contains(c.counts, n) {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		if err := coll.DropIndex(ctx, name); err != nil {
			return errors.Wrapf(err, "drop index %s", name)
		}
		s.DroppedIndexes = append(s.DroppedIndexes, name)
	}

	after, err := indexNames(ctx, coll)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, n := range c.counts {
		if name := document.InstanceIDField(n); !after[name] {
			result = multierror.Append(result, errors.Errorf("index %s is missing after creation", name))
		}
	}
	for _, name := range stale {
		if after[name] {
			result = multierror.Append(result, errors.Errorf("index %s is still present after drop", name))
		}
	}
	return result.ErrorOrNil()
}

func indexNames(ctx context.Context, coll store.Collection) (map[string]bool, error) {
	specs, err := coll.ListIndexes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list indexes")
	}
	names := make(map[string]bool, len(specs))
	for _, spec := range specs {
		names[spec.Name] = true
	}
	return names, nil
}
