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

package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/weaviate/gridmirror/usecases/store"
)

const (
	defaultScanPageSize = 1000
	fileName            = "gridmirror.db"
)

var (
	// indexBucket holds one nested bucket per collection with its index specs.
	indexBucket = []byte("_indexes")
	// collections are stored in top level buckets named by this prefix and
	// the collection name
	collectionPrefix = "c:"
)

type Options struct {
	// ReadPreference is accepted for compatibility with replicated stores,
	// a local file only has a primary.
	ReadPreference store.ReadPreference
	// Timeout bounds the wait for the file lock on open.
	Timeout time.Duration
	// ScanPageSize is the number of documents read per read transaction.
	ScanPageSize int
}

/*
Store is a document store persisted in a single bolt file.

Layout:
  - one bucket per collection, keyed by document id, holding the
    msgpack-encoded document
  - an index bucket with a nested bucket per collection holding index specs

Index specs are bookkeeping only, scans always walk the collection bucket and
filter documents in memory.
*/
type Store struct {
	db     *bolt.DB
	opts   Options
	logger logrus.FieldLogger
}

// Open creates the directory and the bolt file if needed. Call Close to free
// the file lock.
func Open(dir string, opts Options, logger logrus.FieldLogger) (*Store, error) {
	if opts.ScanPageSize <= 0 {
		opts.ScanPageSize = defaultScanPageSize
	}
	if opts.ReadPreference == "" {
		opts.ReadPreference = store.ReadPrimary
	}
	if !opts.ReadPreference.Valid() {
		return nil, fmt.Errorf("invalid read preference %q", opts.ReadPreference)
	}

	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create root directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init %q: %w", path, err)
	}

	logger.WithFields(logrus.Fields{
		"action":          "docstore_open",
		"path":            path,
		"read_preference": opts.ReadPreference,
	}).Info("document store opened")

	return &Store{db: db, opts: opts, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Collection returns a handle to the named collection. Its bucket is
// created on first write.
func (s *Store) Collection(name string) (store.Collection, error) {
	if name == "" {
		return nil, errors.New("collection name is empty")
	}
	return &collection{
		store:  s,
		name:   name,
		bucket: []byte(collectionPrefix + name),
		logger: s.logger.WithField("collection", name),
	}, nil
}

// Collections lists the names of all collections with at least one write.
func (s *Store) Collections() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if len(name) > len(collectionPrefix) && string(name[:len(collectionPrefix)]) == collectionPrefix {
				names = append(names, string(name[len(collectionPrefix):]))
			}
			return nil
		})
	})
	return names, err
}
