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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/gridmirror/adapters/converters/passthrough"
	"github.com/weaviate/gridmirror/entities/concurrency"
	"github.com/weaviate/gridmirror/entities/descriptor"
	"github.com/weaviate/gridmirror/entities/document"
	"github.com/weaviate/gridmirror/entities/filters"
	"github.com/weaviate/gridmirror/entities/routing"
	"github.com/weaviate/gridmirror/entities/versioning"
	"github.com/weaviate/gridmirror/usecases/bulkwriter"
	"github.com/weaviate/gridmirror/usecases/fakes"
	"github.com/weaviate/gridmirror/usecases/registry"
	"github.com/weaviate/gridmirror/usecases/sharding"
	"github.com/weaviate/gridmirror/usecases/store"
)

// executor applies write-backs straight to the collection.
type executor struct {
	mu  sync.Mutex
	ops []store.BulkOp
}

func (e *executor) Execute(ctx context.Context, coll store.Collection, typeName string,
	ops []store.BulkOp,
) (bulkwriter.Outcome, error) {
	e.mu.Lock()
	e.ops = append(e.ops, ops...)
	e.mu.Unlock()
	if _, err := coll.BulkWrite(ctx, ops); err != nil {
		return bulkwriter.Outcome{}, err
	}
	return bulkwriter.Outcome{Applied: len(ops)}, nil
}

type readiness bool

func (r readiness) Ready(collection string, partitions int) bool { return bool(r) }

// flaky fails the first conversion of every document, or all of them.
type flaky struct {
	passthrough.Converter
	always bool
	seen   sync.Map
	calls  atomic.Int64
}

func (f *flaky) ToRecord(doc *document.Document) (any, error) {
	f.calls.Add(1)
	if _, retried := f.seen.LoadOrStore(doc.ID(), true); !retried || f.always {
		return nil, fmt.Errorf("converter hiccup")
	}
	return f.Converter.ToRecord(doc)
}

func prefix(from int, p string) versioning.Patch {
	return versioning.NewPatch(from, func(doc *document.Document) (*document.Document, error) {
		name, _ := doc.Get("name")
		s, _ := name.AsString()
		doc.Set("name", document.FromString(p+s))
		return doc, nil
	})
}

func named(id, name string) *document.Document {
	return document.New(id).Set("name", document.FromString(name))
}

func nameOf(t *testing.T, record any) string {
	t.Helper()
	doc, ok := record.(*document.Document)
	require.True(t, ok)
	v, _ := doc.Get("name")
	s, _ := v.AsString()
	return s
}

func newLoader(t *testing.T, mutate func(cfg *Config)) (*Loader, *executor, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	exec := &executor{}
	cfg := Config{
		Parallelism: 4,
		Clock:       clockwork.NewFakeClock(),
		Writer:      exec,
		Stamper:     sharding.NewStamper(2),
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	return l, exec, hook
}

func filterFor(t *testing.T, desc *descriptor.Descriptor, instanceID, partitions int) *sharding.PartitionFilter {
	t.Helper()
	r, err := sharding.NewRouter(instanceID, partitions)
	require.NoError(t, err)
	return r.Filter(desc)
}

func TestLoad_PatchesAndWritesBack(t *testing.T) {
	ctx := concurrency.WithBudget(context.Background(), 1)

	for _, writeBack := range []bool{true, false} {
		t.Run(fmt.Sprintf("write back %v", writeBack), func(t *testing.T) {
			desc := descriptor.MustNew(descriptor.Config{
				TypeName: "Product",
				Patches:  []versioning.Patch{prefix(1, "patched_"), prefix(2, "patch2_")},
				Flags:    descriptor.Flags{WriteBack: writeBack},
			})
			coll := fakes.NewFakeCollection("Product")
			coll.Put(named("a", "X"), named("b", "X").SetVersion(3))

			l, exec, _ := newLoader(t, nil)
			res, err := l.Load(ctx, coll, passthrough.Converter{}, filterFor(t, desc, 1, 1), LoadOptions{})
			require.NoError(t, err)

			require.Len(t, res.Records, 2)
			assert.Equal(t, "patch2_patched_X", nameOf(t, res.Records[0]))
			assert.Equal(t, "X", nameOf(t, res.Records[1]))
			assert.Equal(t, StrategyFull, res.Strategy)
			assert.Equal(t, 2, res.Scanned)
			assert.Equal(t, 1, res.Patched)

			stored, _ := coll.Get("a")
			if writeBack {
				assert.Equal(t, 1, res.WrittenBack)
				assert.Equal(t, 3, stored.Version())
				require.Len(t, exec.ops, 1)
				assert.Equal(t, store.OpReplace, exec.ops[0].Kind)
			} else {
				assert.Equal(t, 0, res.WrittenBack)
				assert.Equal(t, 1, stored.Version())
				_, stamped := stored.Get(document.FieldFormatVersion)
				assert.False(t, stamped)
				assert.Empty(t, exec.ops)
			}
			current, _ := coll.Get("b")
			assert.Equal(t, 3, current.Version())
		})
	}
}

func TestLoad_WriteBackOfChangedIdentity(t *testing.T) {
	desc := descriptor.MustNew(descriptor.Config{
		TypeName: "Product",
		Patches: []versioning.Patch{versioning.NewPatch(1, func(doc *document.Document) (*document.Document, error) {
			doc.Set(document.FieldID, document.FromString("p-"+doc.ID()))
			return doc, nil
		})},
		Flags: descriptor.Flags{WriteBack: true},
	})
	coll := fakes.NewFakeCollection("Product")
	coll.Put(named("1", "X"), named("2", "Y"))

	l, exec, _ := newLoader(t, nil)
	res, err := l.Load(context.Background(), coll, passthrough.Converter{}, filterFor(t, desc, 1, 1), LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.WrittenBack)
	assert.Len(t, exec.ops, 4)
	assert.Equal(t, []string{"p-1", "p-2"}, coll.IDs())
}

func TestLoad_WriteBackKeepsOldIdWhenInsertFails(t *testing.T) {
	desc := descriptor.MustNew(descriptor.Config{
		TypeName: "Product",
		Patches: []versioning.Patch{versioning.NewPatch(1, func(doc *document.Document) (*document.Document, error) {
			doc.Set(document.FieldID, document.FromString("p-"+doc.ID()))
			return doc, nil
		})},
		Flags: descriptor.Flags{WriteBack: true},
	})
	coll := fakes.NewFakeCollection("Product")
	coll.Put(named("1", "X"), named("2", "Y"), named("3", "Z").SetVersion(2))
	coll.FailIDs["p-1"] = fmt.Errorf("document too large")

	reg, err := registry.New(fakes.NewFakeDatabase(), passthrough.NewConverters(), desc)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	var failures []bulkwriter.Failure
	writer, err := bulkwriter.New(bulkwriter.Config{
		Registry: reg,
		Listener: bulkwriter.ListenerFunc(func(f bulkwriter.Failure) {
			failures = append(failures, f)
		}),
		Logger: logger,
	})
	require.NoError(t, err)

	l, _, _ := newLoader(t, func(cfg *Config) { cfg.Writer = writer })
	res, err := l.Load(context.Background(), coll, passthrough.Converter{}, filterFor(t, desc, 1, 1), LoadOptions{})
	require.NoError(t, err)

	assert.Len(t, res.Records, 3)
	assert.Equal(t, 1, res.WrittenBack)
	assert.Equal(t, []string{"1", "3", "p-2"}, coll.IDs())
	old, ok := coll.Get("1")
	require.True(t, ok)
	assert.Equal(t, document.DefaultVersion, old.Version())

	require.Len(t, failures, 1)
	assert.Equal(t, bulkwriter.FailurePartial, failures[0].Kind)
	assert.Equal(t, "p-1", failures[0].ID)
	for _, call := range coll.BulkCalls() {
		for _, op := range call {
			assert.False(t, op.Kind == store.OpDelete && op.ID == "1", "old id of a failed insert was removed")
		}
	}
}

func TestLoad_Routed(t *testing.T) {
	desc := descriptor.MustNew(descriptor.Config{
		TypeName: "Order",
		Routing:  descriptor.RouteByField("customer"),
		Flags:    descriptor.Flags{RoutedLoad: true},
	})
	coll := fakes.NewFakeCollection("Order")
	owned := 0
	for i := 0; i < 50; i++ {
		customer := document.FromString(fmt.Sprintf("c-%d", i%7))
		coll.Put(document.New(fmt.Sprintf("o-%02d", i)).Set("customer", customer))
		if id, _ := routing.InstanceID(customer, 3); id == 2 {
			owned++
		}
	}
	require.NotZero(t, owned)

	l, _, hook := newLoader(t, nil)
	filter := filterFor(t, desc, 2, 3)
	res, err := l.Load(context.Background(), coll, passthrough.Converter{}, filter, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, StrategyRouted, res.Strategy)
	assert.Len(t, res.Records, owned)
	assert.Equal(t, 50-owned, res.Dropped)
	assert.Equal(t, filter.StorePredicate().String(), coll.ScanPredicates()[0].String())
	for _, r := range res.Records {
		key, _ := desc.RoutingKey(r.(*document.Document))
		ok, err := filter.Owns(key)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	var drops int
	for _, e := range hook.AllEntries() {
		if e.Message == "document belongs to another instance, dropping" {
			drops++
		}
	}
	assert.Equal(t, 50-owned, drops)

	t.Run("missing routing key is fatal", func(t *testing.T) {
		coll.Put(document.New("o-orphan"))
		_, err := l.Load(context.Background(), coll, passthrough.Converter{}, filter, LoadOptions{})
		assert.ErrorIs(t, err, sharding.ErrMissingRoutingKey)
	})
}

func TestLoad_Strategy(t *testing.T) {
	desc := descriptor.MustNew(descriptor.Config{
		TypeName: "Order",
		Routing:  descriptor.RouteByField("customer"),
		Flags:    descriptor.Flags{PersistInstanceID: true},
	})
	coll := fakes.NewFakeCollection("Order")
	coll.Put(document.New("o-1").Set("customer", document.FromString("c-1")))
	filter := filterFor(t, desc, 1, 1)

	tests := []struct {
		name      string
		ready     bool
		opts      LoadOptions
		strategy  Strategy
		predicate string
	}{
		{"routing prefilter", false, LoadOptions{}, StrategyRouted, filter.StorePredicate().String()},
		{"instance id index", true, LoadOptions{}, StrategyInstanceID, filter.InstanceIDPredicate().String()},
		{
			"template", true,
			LoadOptions{Template: document.NewMap().Set("customer", document.FromString("c-1"))},
			StrategyCustom, `And(customer == "c-1")`,
		},
		{
			"query wins", true,
			LoadOptions{Query: filters.NotNull("customer"), Template: document.NewMap()},
			StrategyCustom, filters.NotNull("customer").String(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newLoader(t, func(cfg *Config) { cfg.Readiness = readiness(tt.ready) })
			before := len(coll.ScanPredicates())
			res, err := l.Load(context.Background(), coll, passthrough.Converter{}, filter, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, res.Strategy)
			assert.Len(t, res.Records, 1)
			preds := coll.ScanPredicates()
			require.Len(t, preds, before+1)
			assert.Equal(t, tt.predicate, preds[before].String())
		})
	}
}

func TestLoad_Failures(t *testing.T) {
	desc := descriptor.MustNew(descriptor.Config{
		TypeName: "Product",
		Patches:  []versioning.Patch{prefix(1, "patched_")},
	})
	filter := filterFor(t, desc, 1, 1)

	t.Run("unknown version", func(t *testing.T) {
		coll := fakes.NewFakeCollection("Product")
		coll.Put(named("a", "X"), named("future", "X").SetVersion(7))
		l, _, _ := newLoader(t, nil)
		_, err := l.Load(context.Background(), coll, passthrough.Converter{}, filter, LoadOptions{})
		assert.ErrorIs(t, err, versioning.ErrUnknownVersion)
		assert.ErrorContains(t, err, "future")
	})

	t.Run("conversion is retried once", func(t *testing.T) {
		coll := fakes.NewFakeCollection("Product")
		coll.Put(named("a", "X"), named("b", "Y"))
		conv := &flaky{}
		l, _, _ := newLoader(t, nil)
		res, err := l.Load(context.Background(), coll, conv, filter, LoadOptions{})
		require.NoError(t, err)
		assert.Len(t, res.Records, 2)
		assert.Equal(t, int64(4), conv.calls.Load())
	})

	t.Run("second conversion failure aborts", func(t *testing.T) {
		coll := fakes.NewFakeCollection("Product")
		coll.Put(named("a", "X"))
		conv := &flaky{always: true}
		l, _, _ := newLoader(t, nil)
		_, err := l.Load(context.Background(), coll, conv, filter, LoadOptions{})
		assert.ErrorContains(t, err, "converter hiccup")
		assert.Equal(t, int64(2), conv.calls.Load())
	})

	t.Run("scan errors", func(t *testing.T) {
		coll := fakes.NewFakeCollection("Product")
		coll.FailScan = fmt.Errorf("no primary")
		l, _, _ := newLoader(t, nil)
		_, err := l.Load(context.Background(), coll, passthrough.Converter{}, filter, LoadOptions{})
		assert.ErrorContains(t, err, "no primary")
	})

	t.Run("write back without executor", func(t *testing.T) {
		wb := descriptor.MustNew(descriptor.Config{
			TypeName: "Product",
			Patches:  []versioning.Patch{prefix(1, "patched_")},
			Flags:    descriptor.Flags{WriteBack: true},
		})
		coll := fakes.NewFakeCollection("Product")
		coll.Put(named("a", "X"))
		l, _, _ := newLoader(t, func(cfg *Config) { cfg.Writer = nil })
		_, err := l.Load(context.Background(), coll, passthrough.Converter{}, filterFor(t, wb, 1, 1), LoadOptions{})
		assert.Error(t, err)
	})
}

func TestLoadByID(t *testing.T) {
	desc := descriptor.MustNew(descriptor.Config{
		TypeName: "Order",
		Patches:  []versioning.Patch{prefix(1, "patched_")},
		Routing:  descriptor.RouteByField("customer"),
		Flags:    descriptor.Flags{RoutedLoad: true, WriteBack: true},
	})
	coll := fakes.NewFakeCollection("Order")

	var mine, foreign document.Value
	for i := 0; mine.IsNull() || foreign.IsNull(); i++ {
		key := document.FromString(fmt.Sprintf("c-%d", i))
		if id, _ := routing.InstanceID(key, 2); id == 1 {
			mine = key
		} else {
			foreign = key
		}
	}
	coll.Put(
		named("mine", "X").Set("customer", mine),
		named("foreign", "X").Set("customer", foreign),
	)
	filter := filterFor(t, desc, 1, 2)
	l, exec, _ := newLoader(t, nil)
	ctx := context.Background()

	record, ok, err := l.LoadByID(ctx, coll, passthrough.Converter{}, filter, "mine")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "patched_X", nameOf(t, record))
	require.Len(t, exec.ops, 1)
	stored, _ := coll.Get("mine")
	assert.Equal(t, 2, stored.Version())
	_, hasKey := stored.RoutingKey()
	assert.True(t, hasKey)

	_, ok, err = l.LoadByID(ctx, coll, passthrough.Converter{}, filter, "foreign")
	assert.ErrorIs(t, err, ErrForeignRecord)
	assert.False(t, ok)

	_, ok, err = l.LoadByID(ctx, coll, passthrough.Converter{}, filter, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := l.Load(ctx, coll, passthrough.Converter{}, filter, LoadOptions{})
	require.NoError(t, err, "scans drop foreign documents silently")
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Dropped)
}

func TestProgress(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l, _, hook := newLoader(t, func(cfg *Config) {
		cfg.Clock = clock
		cfg.ProgressInterval = time.Second
	})

	var scanned, dropped atomic.Int64
	scanned.Store(12)
	stop := l.reportProgress(l.logger, &scanned, &dropped)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "load in progress" && e.Data["scanned"] == int64(12) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
