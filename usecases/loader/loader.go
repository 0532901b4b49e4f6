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

package loader

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/gridmirror/entities/concurrency"
	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	enterrors "github.com/weaviate/gridmirror/entities/errors"
	"github.com/weaviate/gridmirror/entities/filters"
	"github.com/weaviate/gridmirror/usecases/bulkwriter"
	"github.com/weaviate/gridmirror/usecases/monitoring"
	"github.com/weaviate/gridmirror/usecases/sharding"
	"github.com/weaviate/gridmirror/usecases/store"
)

// ErrForeignRecord is returned by LoadByID for a document owned by another
// instance.
var ErrForeignRecord = errors.New("record belongs to another partition")

const defaultProgressInterval = 10 * time.Second

// Strategy is the way the documents of a load are selected.
type Strategy string

const (
	StrategyCustom     Strategy = "custom"
	StrategyInstanceID Strategy = "instance_id"
	StrategyRouted     Strategy = "routed"
	StrategyFull       Strategy = "full"
)

// Readiness reports whether the instance id field of a collection is
// complete and indexed for a partition count.
type Readiness interface {
	Ready(collection string, partitions int) bool
}

// BulkExecutor persists write-backs with the failure handling of the
// mirror writer.
type BulkExecutor interface {
	Execute(ctx context.Context, coll store.Collection, typeName string, ops []store.BulkOp) (bulkwriter.Outcome, error)
}

type Config struct {
	// Parallelism bounds the documents processed concurrently, it defaults
	// to GOMAXPROCS. A budget on the context of a load takes precedence.
	Parallelism      int
	ProgressInterval time.Duration
	Clock            clockwork.Clock
	Readiness        Readiness
	Writer           BulkExecutor
	Stamper          *sharding.Stamper
	Metrics          *monitoring.Metrics
	Logger           logrus.FieldLogger
}

// Loader reads the documents of a record type from the store, upgrades
// them to the current version and converts them to records.
type Loader struct {
	parallelism      int
	progressInterval time.Duration
	clock            clockwork.Clock
	readiness        Readiness
	writer           BulkExecutor
	stamper          *sharding.Stamper
	metrics          *monitoring.Metrics
	logger           logrus.FieldLogger
}

func New(cfg Config) (*Loader, error) {
	if cfg.Logger == nil {
		return nil, errors.New("loader needs a logger")
	}
	l := &Loader{
		parallelism:      cfg.Parallelism,
		progressInterval: cfg.ProgressInterval,
		clock:            cfg.Clock,
		readiness:        cfg.Readiness,
		writer:           cfg.Writer,
		stamper:          cfg.Stamper,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
	}
	if l.parallelism <= 0 {
		l.parallelism = runtime.GOMAXPROCS(0)
	}
	if l.progressInterval <= 0 {
		l.progressInterval = defaultProgressInterval
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	return l, nil
}

// LoadOptions narrow a load to a custom selection. Query wins over
// Template.
type LoadOptions struct {
	Query    *filters.Clause
	Template any
}

func (o LoadOptions) custom() bool {
	return o.Query != nil || o.Template != nil
}

// PatchedDocument is a document before and after patching.
type PatchedDocument struct {
	Old *document.Document
	New *document.Document
}

// Result of one load. Records are in scan order.
type Result struct {
	Records     []any
	Strategy    Strategy
	Scanned     int
	Patched     int
	Dropped     int
	WrittenBack int
}

type loaded struct {
	seq    int
	record any
}

// Load reads every document of the filter's record type that this instance
// owns. A document with an unknown version, a document the converter
// rejects twice and a partitioned document without a routing key abort the
// load.
func (l *Loader) Load(ctx context.Context, coll store.Collection, conv store.Converter,
	filter *sharding.PartitionFilter, opts LoadOptions,
) (*Result, error) {
	desc := filter.Descriptor()
	strategy, predicate, err := l.selection(desc, conv, filter, opts)
	if err != nil {
		return nil, err
	}

	logger := l.logger.WithFields(logrus.Fields{
		"action":     "mirror_load",
		"type":       desc.TypeName(),
		"collection": coll.Name(),
		"strategy":   strategy,
	})
	logger.WithField("predicate", predicate.String()).Debug("loading")
	started := l.clock.Now()

	cursor, err := coll.Scan(ctx, predicate)
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", coll.Name())
	}
	defer cursor.Close()

	var (
		scanned, patched, dropped atomic.Int64
		mu                        sync.Mutex
		records                   []loaded
		writeBack                 []PatchedDocument
	)

	stopProgress := l.reportProgress(logger, &scanned, &dropped)
	defer stopProgress()

	eg, gctx := enterrors.NewErrorGroupWithContextWrapper(ctx, logger)
	eg.SetLimit(concurrency.Budget(ctx, l.parallelism))

	seq := 0
	for cursor.Next(gctx) {
		doc, i := cursor.Document(), seq
		seq++
		scanned.Add(1)
		eg.Go(func() error {
			record, pd, keep, err := l.process(doc, conv, filter, logger)
			if err != nil {
				return err
			}
			if !keep {
				dropped.Add(1)
				l.metrics.Dropped(desc.TypeName(), "foreign")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			records = append(records, loaded{seq: i, record: record})
			if pd != nil {
				patched.Add(1)
				writeBack = append(writeBack, *pd)
			}
			return nil
		}, doc.ID())
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrapf(err, "load %s", desc.TypeName())
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", coll.Name())
	}

	sort.Slice(records, func(a, b int) bool { return records[a].seq < records[b].seq })
	res := &Result{
		Records:  make([]any, len(records)),
		Strategy: strategy,
		Scanned:  int(scanned.Load()),
		Patched:  int(patched.Load()),
		Dropped:  int(dropped.Load()),
	}
	for i, r := range records {
		res.Records[i] = r.record
	}

	if desc.Flags().WriteBack && len(writeBack) > 0 {
		n, err := l.writeBack(ctx, coll, desc, writeBack)
		if err != nil {
			return nil, err
		}
		res.WrittenBack = n
	}

	took := l.clock.Since(started)
	l.metrics.Loaded(desc.TypeName(), len(res.Records), res.Patched)
	l.metrics.LoadTook(desc.TypeName(), took.Seconds())
	logger.WithFields(logrus.Fields{
		"scanned":      res.Scanned,
		"loaded":       len(res.Records),
		"patched":      res.Patched,
		"dropped":      res.Dropped,
		"written_back": res.WrittenBack,
		"took":         took,
	}).Info("load finished")

	return res, nil
}

// LoadByID loads a single document. ok is false when the store has no
// document with the id.
func (l *Loader) LoadByID(ctx context.Context, coll store.Collection, conv store.Converter,
	filter *sharding.PartitionFilter, id string,
) (record any, ok bool, err error) {
	desc := filter.Descriptor()
	logger := l.logger.WithFields(logrus.Fields{
		"action":     "mirror_load_by_id",
		"type":       desc.TypeName(),
		"collection": coll.Name(),
		"id":         id,
	})

	doc, found, err := coll.FindByID(ctx, id)
	if err != nil {
		return nil, false, errors.Wrapf(err, "find %s %q", desc.TypeName(), id)
	}
	if !found {
		return nil, false, nil
	}

	record, pd, keep, err := l.process(doc, conv, filter, logger)
	if err != nil {
		return nil, false, err
	}
	if !keep {
		return nil, false, errors.Wrapf(ErrForeignRecord, "%s %q", desc.TypeName(), id)
	}
	if pd != nil && desc.Flags().WriteBack {
		if _, err := l.writeBack(ctx, coll, desc, []PatchedDocument{*pd}); err != nil {
			return nil, false, err
		}
	}
	l.metrics.Loaded(desc.TypeName(), 1, boolToInt(pd != nil))
	return record, true, nil
}

// selection picks the scan predicate, in order of priority: the caller's
// query, the instance id index, the routing prefilter, everything.
func (l *Loader) selection(desc *descriptor.Descriptor, conv store.Converter,
	filter *sharding.PartitionFilter, opts LoadOptions,
) (Strategy, *filters.Clause, error) {
	switch {
	case opts.custom():
		query := opts.Query
		if query == nil {
			var err error
			query, err = conv.TemplateToQuery(opts.Template)
			if err != nil {
				return "", nil, errors.Wrapf(err, "template of %s", desc.TypeName())
			}
		}
		if err := query.Validate(); err != nil {
			return "", nil, errors.Wrapf(err, "query of %s", desc.TypeName())
		}
		return StrategyCustom, query, nil
	case filter.Active() && desc.Flags().PersistInstanceID && l.readiness != nil &&
		l.readiness.Ready(desc.Collection(), filter.Partitions()):
		return StrategyInstanceID, filter.InstanceIDPredicate(), nil
	case filter.Active():
		return StrategyRouted, filter.StorePredicate(), nil
	default:
		return StrategyFull, nil, nil
	}
}

// process upgrades, filters and converts one document. keep is false for
// documents of other instances.
func (l *Loader) process(doc *document.Document, conv store.Converter,
	filter *sharding.PartitionFilter, logger logrus.FieldLogger,
) (record any, pd *PatchedDocument, keep bool, err error) {
	desc := filter.Descriptor()
	chain := desc.Chain()

	current := doc
	if chain.NeedsPatching(doc) {
		current, err = chain.Patch(doc)
		if err != nil {
			return nil, nil, false, errors.Wrapf(err, "patch %s", doc.Describe())
		}
		pd = &PatchedDocument{Old: doc, New: current}
	}

	keep, err = filter.Accept(current)
	if err != nil {
		return nil, nil, false, err
	}
	if !keep {
		logger.WithField("id", current.ID()).Debug("document belongs to another instance, dropping")
		return nil, nil, false, nil
	}

	record, err = l.convert(conv, current, logger)
	if err != nil {
		return nil, nil, false, err
	}
	return record, pd, true, nil
}

// convert retries a failed conversion once.
func (l *Loader) convert(conv store.Converter, doc *document.Document, logger logrus.FieldLogger) (any, error) {
	var record any
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := conv.ToRecord(doc)
		if err != nil {
			if attempt == 1 {
				logger.WithField("id", doc.ID()).WithError(err).Warn("conversion failed, retrying once")
			}
			return err
		}
		record = r
		return nil
	}, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1))
	if err != nil {
		return nil, errors.Wrapf(err, "convert %s", doc.Describe())
	}
	return record, nil
}

// writeBack persists upgraded documents: replaced in place, or inserted
// under the new id and removed under the old one when a patch changed it.
// The old document is only removed once its successor was written. It
// returns the number of documents fully persisted.
func (l *Loader) writeBack(ctx context.Context, coll store.Collection, desc *descriptor.Descriptor,
	docs []PatchedDocument,
) (int, error) {
	if l.writer == nil {
		return 0, errors.Errorf("write back of %s needs a bulk executor", desc.TypeName())
	}
	stamper := l.stamper
	if stamper == nil {
		stamper = sharding.NewStamper()
	}

	ops := make([]store.BulkOp, 0, len(docs))
	var moved []string
	for _, pd := range docs {
		doc := pd.New.Clone()
		if err := stamper.Stamp(desc, doc); err != nil {
			return 0, err
		}
		if doc.ID() == pd.Old.ID() {
			ops = append(ops, store.ReplaceOp(doc))
			continue
		}
		ops = append(ops, store.InsertOp(doc))
		moved = append(moved, pd.Old.ID())
	}
	replaced := len(ops) - len(moved)

	outcome, err := l.writer.Execute(ctx, coll, desc.TypeName(), ops)
	if err != nil {
		return 0, errors.Wrapf(err, "write back %s", desc.TypeName())
	}
	written := 0
	for i := 0; i < replaced; i++ {
		if outcome.Written(i) {
			written++
		}
	}

	var deletes []store.BulkOp
	for i, old := range moved {
		if outcome.Written(replaced + i) {
			deletes = append(deletes, store.DeleteOp(old))
		}
	}
	if len(deletes) == 0 {
		return written, nil
	}
	outcome, err = l.writer.Execute(ctx, coll, desc.TypeName(), deletes)
	if err != nil {
		return written, errors.Wrapf(err, "remove replaced ids of %s", desc.TypeName())
	}
	return written + outcome.Applied, nil
}

func (l *Loader) reportProgress(logger logrus.FieldLogger, scanned, dropped *atomic.Int64) func() {
	ticker := l.clock.NewTicker(l.progressInterval)
	done := make(chan struct{})
	stopped := enterrors.GoWrapper(func() {
		for {
			select {
			case <-ticker.Chan():
				logger.WithFields(logrus.Fields{
					"scanned": scanned.Load(),
					"dropped": dropped.Load(),
				}).Info("load in progress")
			case <-done:
				return
			}
		}
	}, logger)
	return func() {
		ticker.Stop()
		close(done)
		<-stopped
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
