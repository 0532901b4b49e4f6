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

package bulkwriter

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/gridmirror/entities/document"
	enterrors "github.com/weaviate/gridmirror/entities/errors"
	"github.com/weaviate/gridmirror/usecases/monitoring"
	"github.com/weaviate/gridmirror/usecases/registry"
	"github.com/weaviate/gridmirror/usecases/sharding"
	"github.com/weaviate/gridmirror/usecases/store"
)

var ErrRetriesExhausted = errors.New("partial failure retries exhausted")

const (
	defaultBatchSize         = 1000
	defaultMaxPartialRetries = 100
)

type Config struct {
	Registry *registry.Registry
	Stamper  *sharding.Stamper
	// Policy classifies total failures, transient ones are returned to the
	// caller of Sync.
	Policy enterrors.TransientPolicy
	// BatchSize caps the ops of one bulk write.
	BatchSize int
	// MaxPartialRetries caps the resubmissions after partial failures of one
	// bulk, 0 abandons the remainder after the first partial failure.
	MaxPartialRetries int
	Listener          ExceptionListener
	Handler           ExceptionHandler
	Guard             ReloadGuard
	Stats             *monitoring.WriteStats
	Metrics           *monitoring.Metrics
	Logger            logrus.FieldLogger
}

// Writer persists grid mutations to the store.
type Writer struct {
	registry   *registry.Registry
	stamper    *sharding.Stamper
	policy     enterrors.TransientPolicy
	batchSize  int
	maxRetries int
	listener   ExceptionListener
	handler    ExceptionHandler
	guard      ReloadGuard
	stats      *monitoring.WriteStats
	metrics    *monitoring.Metrics
	logger     logrus.FieldLogger
}

func New(cfg Config) (*Writer, error) {
	if cfg.Registry == nil {
		return nil, errors.New("writer needs a registry")
	}
	if cfg.Logger == nil {
		return nil, errors.New("writer needs a logger")
	}
	w := &Writer{
		registry:   cfg.Registry,
		stamper:    cfg.Stamper,
		policy:     cfg.Policy,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxPartialRetries,
		listener:   cfg.Listener,
		handler:    cfg.Handler,
		guard:      cfg.Guard,
		stats:      cfg.Stats,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if w.stamper == nil {
		w.stamper = sharding.NewStamper()
	}
	if w.policy == nil {
		w.policy = enterrors.MatchPolicy{}
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxRetries < 0 {
		w.maxRetries = defaultMaxPartialRetries
	}
	if w.stats == nil {
		w.stats = monitoring.NewWriteStats(nil)
	}
	return w, nil
}

func (w *Writer) Stats() monitoring.Snapshot {
	return w.stats.Snapshot()
}

// group is the work for one collection, ops and kinds are parallel slices.
type group struct {
	typeName string
	coll     store.Collection
	ops      []store.BulkOp
	kinds    []MutationKind
}

// Sync persists a batch of mutations. Mutations of one collection are
// written in batch order, different collections are written concurrently.
// Only transient store errors and configuration errors are returned, every
// other failure is reported and the failed records are dropped.
func (w *Writer) Sync(ctx context.Context, batch []Mutation) error {
	if len(batch) == 0 {
		return nil
	}
	logger := w.logger.WithFields(logrus.Fields{
		"action":   "mirror_sync",
		"batch_id": uuid.NewString(),
	})

	groups, err := w.group(ctx, batch, logger)
	if err != nil {
		return err
	}

	eg := enterrors.NewErrorGroupWrapper(logger)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			return w.write(ctx, g, logger)
		}, g.coll.Name())
	}
	return eg.Wait()
}

func (w *Writer) group(ctx context.Context, batch []Mutation, logger logrus.FieldLogger) ([]*group, error) {
	var (
		groups []*group
		byColl = map[string]*group{}
	)

	for _, m := range batch {
		desc, ok := w.registry.Descriptor(m.TypeName)
		if !ok {
			logger.WithField("type", m.TypeName).Trace("type is not mirrored, skipping")
			continue
		}
		if m.Kind == Remove && desc.Flags().KeepPersistent {
			continue
		}
		if w.guard != nil && m.ID != "" && w.guard.RecentlyReloaded(m.TypeName, m.ID) {
			logger.WithFields(logrus.Fields{"type": m.TypeName, "id": m.ID}).
				Debug("record was reloaded in this tick, skipping")
			continue
		}

		g, ok := byColl[desc.Collection()]
		if !ok {
			coll, err := w.registry.Collection(m.TypeName)
			if err != nil {
				return nil, errors.Wrapf(err, "collection of %s", m.TypeName)
			}
			g = &group{typeName: m.TypeName, coll: coll}
			byColl[desc.Collection()] = g
			groups = append(groups, g)
		}

		op, err := w.toOp(m)
		if err != nil {
			if errors.Is(err, sharding.ErrMissingRoutingKey) {
				return nil, err
			}
			w.report(ctx, Failure{
				Kind:       FailureConversion,
				Collection: desc.Collection(),
				TypeName:   m.TypeName,
				ID:         m.ID,
				Err:        err,
			}, logger)
			continue
		}
		g.ops = append(g.ops, op)
		g.kinds = append(g.kinds, m.Kind)
	}

	return groups, nil
}

func (w *Writer) toOp(m Mutation) (store.BulkOp, error) {
	if m.Kind == Remove {
		if m.ID == "" {
			return store.BulkOp{}, errors.New("removal without id")
		}
		return store.DeleteOp(m.ID), nil
	}

	doc, err := w.ToDocument(m.TypeName, m.Record)
	if err != nil {
		return store.BulkOp{}, err
	}
	if m.ID != "" && doc.ID() != m.ID {
		return store.BulkOp{}, errors.Errorf("record id %q does not match mutation id %q", doc.ID(), m.ID)
	}
	return store.ReplaceOp(doc), nil
}

// ToDocument converts record to the document written to the store: the
// pre-write hook applied, stamped with the current version and routing
// fields.
func (w *Writer) ToDocument(typeName string, record any) (*document.Document, error) {
	desc, ok := w.registry.Descriptor(typeName)
	if !ok {
		return nil, errors.Wrap(registry.ErrUnknownType, typeName)
	}
	conv, err := w.registry.Converter(typeName)
	if err != nil {
		return nil, err
	}
	doc, err := conv.ToDocument(record)
	if err != nil {
		return nil, errors.Wrapf(err, "convert %s record", typeName)
	}
	if doc.ID() == "" {
		return nil, errors.Errorf("%s record without id", typeName)
	}
	if err := desc.BeforeWrite(doc); err != nil {
		return nil, errors.Wrapf(err, "before write hook of %s", typeName)
	}
	doc.SetVersion(desc.CurrentVersion())
	if err := w.stamper.Stamp(desc, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (w *Writer) write(ctx context.Context, g *group, logger logrus.FieldLogger) error {
	logger = logger.WithFields(logrus.Fields{
		"collection": g.coll.Name(),
		"type":       g.typeName,
	})
	for start := 0; start < len(g.ops); start += w.batchSize {
		end := start + w.batchSize
		if end > len(g.ops) {
			end = len(g.ops)
		}
		if _, err := w.execute(ctx, g.coll, g.typeName, g.ops[start:end], g.kinds[start:end], logger); err != nil {
			return err
		}
	}
	return nil
}

// Execute writes ops to coll with the same failure handling as Sync. It is
// used for write-backs and instance id updates, callers that must not
// continue on a dropped op inspect the returned outcome.
func (w *Writer) Execute(ctx context.Context, coll store.Collection, typeName string,
	ops []store.BulkOp,
) (Outcome, error) {
	kinds := make([]MutationKind, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case store.OpInsert:
			kinds[i] = Insert
		case store.OpDelete:
			kinds[i] = Remove
		default:
			kinds[i] = Update
		}
	}
	logger := w.logger.WithFields(logrus.Fields{
		"action":     "mirror_execute",
		"collection": coll.Name(),
		"type":       typeName,
	})

	var outcome Outcome
	for start := 0; start < len(ops); start += w.batchSize {
		end := start + w.batchSize
		if end > len(ops) {
			end = len(ops)
		}
		part, err := w.execute(ctx, coll, typeName, ops[start:end], kinds[start:end], logger)
		outcome.add(part, start)
		if err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// execute submits ops as one ordered bulk. When op K fails, K is reported
// and the ops after K are submitted as a fresh bulk, at most maxRetries
// times. Positions in the outcome are relative to ops.
func (w *Writer) execute(ctx context.Context, coll store.Collection, typeName string,
	ops []store.BulkOp, kinds []MutationKind, logger logrus.FieldLogger,
) (Outcome, error) {
	var outcome Outcome
	abandon := func(from int) {
		for i := from; i < len(ops); i++ {
			outcome.Failed = append(outcome.Failed, i)
		}
	}

	offset := 0
	retries := 0
	for offset < len(ops) {
		remaining, remainingKinds := ops[offset:], kinds[offset:]
		_, err := coll.BulkWrite(ctx, remaining)
		if err == nil {
			w.count(coll.Name(), remaining, remainingKinds)
			outcome.Applied += len(remaining)
			return outcome, nil
		}

		bwe, partial := store.AsBulkWriteError(err)
		if !partial {
			abandon(offset)
			if w.policy.IsTransient(err) {
				w.metrics.WriteFailed(coll.Name(), "transient")
				return outcome, errors.Wrapf(err, "bulk write to %s", coll.Name())
			}
			w.report(ctx, Failure{
				Kind:       FailureTotal,
				Collection: coll.Name(),
				TypeName:   typeName,
				ID:         remaining[0].ID,
				Op:         remaining[0].Kind,
				Remaining:  len(remaining),
				Err:        err,
			}, logger)
			return outcome, nil
		}

		if bwe.Index < 0 || bwe.Index >= len(remaining) {
			abandon(offset)
			return outcome, errors.Wrapf(err, "bulk write to %s reported op %d of %d",
				coll.Name(), bwe.Index, len(remaining))
		}
		w.count(coll.Name(), remaining[:bwe.Index], remainingKinds[:bwe.Index])
		outcome.Applied += bwe.Index
		failedAt := offset + bwe.Index

		if w.policy.IsTransient(bwe.Err) {
			abandon(failedAt)
			w.metrics.WriteFailed(coll.Name(), "transient")
			return outcome, errors.Wrapf(err, "bulk write to %s", coll.Name())
		}

		failed := remaining[bwe.Index]
		w.report(ctx, Failure{
			Kind:       FailurePartial,
			Collection: coll.Name(),
			TypeName:   typeName,
			ID:         failed.ID,
			Op:         failed.Kind,
			Err:        bwe.Err,
		}, logger)
		outcome.Failed = append(outcome.Failed, failedAt)

		offset = failedAt + 1
		if offset == len(ops) {
			return outcome, nil
		}

		retries++
		if retries > w.maxRetries {
			w.report(ctx, Failure{
				Kind:       FailureTerminal,
				Collection: coll.Name(),
				TypeName:   typeName,
				ID:         ops[offset].ID,
				Op:         ops[offset].Kind,
				Remaining:  len(ops) - offset,
				Err:        ErrRetriesExhausted,
			}, logger)
			abandon(offset)
			return outcome, nil
		}
	}
	return outcome, nil
}

func (w *Writer) count(collection string, ops []store.BulkOp, kinds []MutationKind) {
	var inserts, updates, deletes int
	for i := range ops {
		switch kinds[i] {
		case Insert:
			inserts++
		case Update:
			updates++
		case Remove:
			deletes++
		}
	}
	w.stats.AddInserts(int64(inserts))
	w.stats.AddUpdates(int64(updates))
	w.stats.AddDeletes(int64(deletes))
	w.metrics.Written(collection, Insert.String(), inserts)
	w.metrics.Written(collection, Update.String(), updates)
	w.metrics.Written(collection, Remove.String(), deletes)
}

// report hands f once to the listener and the handler.
func (w *Writer) report(ctx context.Context, f Failure, logger logrus.FieldLogger) {
	w.stats.AddFailures(1)
	w.metrics.WriteFailed(f.Collection, string(f.Kind))

	logger.WithFields(logrus.Fields{
		"failure":    f.Kind,
		"collection": f.Collection,
		"id":         f.ID,
		"op":         f.Op.String(),
		"remaining":  f.Remaining,
	}).WithError(f.Err).Error("mirror write failed")

	if w.listener != nil {
		w.listener.OnWriteFailure(f)
	}
	if w.handler != nil {
		w.handler.HandleWriteFailure(ctx, f)
	}
}
