// Copyright 2024 ModelStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package modeldb is a file-backed, transactional store of model records.
//
// Layout of a store root:
//
//	<root>/.lock                    database-wide shared/exclusive lock
//	<root>/.datasets/               content-addressed dataset store
//	<root>/<key>/<key><ext>         canonical model file
//	<root>/<key>/.meta/metadata.json
//	<root>/<key>/.meta/results.json
//	<root>/<key>/.meta/PENDING      present while a transaction is open or failed
//	<root>/<key>/<file>             auxiliary files, copied verbatim
//
// A record is safe to read only when its PENDING marker is absent. Writers
// hold the database lock exclusively for the whole transaction; readers hold
// it shared for the lifetime of a snapshot.
package modeldb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	logrus "github.com/sirupsen/logrus"

	"modelstore/internal/common"
	"modelstore/internal/config"
	"modelstore/internal/dataset"
	"modelstore/internal/lock"
	"modelstore/internal/logging"
	"modelstore/internal/model"
	"modelstore/internal/util"
)

const (
	MetaDir      = ".meta"
	DatasetsDir  = ".datasets"
	LockFile     = ".lock"
	PendingFile  = "PENDING"
	MetadataFile = "metadata.json"
	ResultsFile  = "results.json"
	EntryFile    = "entry.json"
)

// Key identifies one record. It is also the record's directory name.
type Key string

func (k Key) String() string { return string(k) }

// Store is a model database rooted at a directory.
type Store struct {
	root        string
	formats     model.Registry
	patterns    []string
	ignore      *ignore.GitIgnore
	lockTimeout time.Duration
	datasets    *dataset.Store
	log         *logrus.Entry
}

// Option configures a Store.
type Option func(*Store) error

// WithFormats sets the model formats, in canonical-file lookup order.
func WithFormats(reg model.Registry) Option {
	return func(s *Store) error {
		if len(reg) == 0 {
			return fmt.Errorf("no model formats")
		}
		s.formats = reg
		return nil
	}
}

// WithIgnorePatterns sets gitignore-style patterns for files that
// StoreLocalFile silently skips.
func WithIgnorePatterns(patterns []string) Option {
	return func(s *Store) error {
		s.patterns = append([]string(nil), patterns...)
		s.ignore = ignore.CompileIgnoreLines(s.patterns...)
		return nil
	}
}

// WithLockTimeout bounds how long BeginTransaction and OpenSnapshot wait on
// the database lock. Zero waits until the caller's context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) error {
		s.lockTimeout = d
		return nil
	}
}

// WithLogger sets the logger. Records are tagged component=modeldb.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithSettings applies the store-related fields of a settings file.
func WithSettings(cfg *config.Settings) Option {
	return func(s *Store) error {
		reg, err := model.DefaultRegistry().Restrict(cfg.ModelExtensions)
		if err != nil {
			return err
		}
		for _, opt := range []Option{WithFormats(reg), WithIgnorePatterns(cfg.IgnorePatterns), WithLockTimeout(cfg.LockTimeout)} {
			if err := opt(s); err != nil {
				return err
			}
		}
		return nil
	}
}

// Open opens the store rooted at root, creating the directory if needed.
func Open(root string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create model database: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	// Resolve symlinks so the inside-the-store check in StoreLocalFile
	// compares real paths.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	s := &Store{
		root:    abs,
		formats: model.DefaultRegistry(),
		log:     logging.Discard(),
	}
	if err := WithIgnorePatterns(config.Defaults().IgnorePatterns)(s); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.WithField("component", "modeldb")
	s.datasets = dataset.NewStore(filepath.Join(abs, DatasetsDir), s.log)
	return s, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string { return s.root }

// Formats returns the registered model formats.
func (s *Store) Formats() model.Registry { return s.formats }

// Datasets returns the dataset store shared by every record.
func (s *Store) Datasets() *dataset.Store { return s.datasets }

func (s *Store) lockPath() string { return filepath.Join(s.root, LockFile) }

// RecordPath returns the directory of key's record.
func (s *Store) RecordPath(key Key) string { return filepath.Join(s.root, string(key)) }

func (s *Store) metaPath(key Key, name string) string {
	return filepath.Join(s.root, string(key), MetaDir, name)
}

func (s *Store) pendingPath(key Key) string { return s.metaPath(key, PendingFile) }

// IsPending reports whether key carries a pending marker.
func (s *Store) IsPending(key Key) bool { return util.Exists(s.pendingPath(key)) }

// Exists reports whether key has a record directory.
func (s *Store) Exists(key Key) bool {
	fi, err := os.Stat(s.RecordPath(key))
	return err == nil && fi.IsDir()
}

func validateKey(key Key) error {
	if err := common.ValidateName(string(key)); err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}
	return nil
}

// acquire takes the database lock, bounded by the configured lock timeout.
// A wait cut short by the deadline is reported as a pending transaction:
// some writer holds the database and the caller should try again later.
func (s *Store) acquire(ctx context.Context, mode lock.Mode) (*lock.Guard, error) {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	g, err := lock.Acquire(ctx, s.lockPath(), mode)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: model database is locked: %w", common.ErrPendingTransaction, err)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	return g, nil
}

// ListModels returns the keys of all records, sorted.
func (s *Store) ListModels() ([]Key, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var keys []Key
	for _, e := range entries {
		if !e.IsDir() || common.ValidateName(e.Name()) != nil {
			continue
		}
		keys = append(keys, Key(e.Name()))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// PendingKeys returns the keys whose records carry a pending marker: open
// transactions, failed ones, and ones interrupted by a crash.
func (s *Store) PendingKeys() ([]Key, error) {
	keys, err := s.ListModels()
	if err != nil {
		return nil, err
	}
	var out []Key
	for _, k := range keys {
		if s.IsPending(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ClearPending removes key's pending marker under the exclusive database
// lock. It is the manual repair for a record left behind by a crash; the
// record's content is whatever the interrupted writer managed to store.
func (s *Store) ClearPending(ctx context.Context, key Key) error {
	if err := validateKey(key); err != nil {
		return err
	}
	g, err := s.acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer g.Release()

	err = os.Remove(s.pendingPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: no pending marker for %s", common.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	s.log.WithField("key", key).Warn("pending marker cleared")
	return nil
}

// Transaction runs fn inside a transaction on key. The transaction commits
// when fn returns nil; otherwise the record is left pending.
func (s *Store) Transaction(ctx context.Context, key Key, fn func(*Transaction) error) error {
	txn, err := s.BeginTransaction(ctx, key)
	if err != nil {
		return err
	}
	defer txn.Close()

	if err := fn(txn); err != nil {
		txn.abort(err)
		return err
	}
	return txn.Commit()
}

// Snapshot runs fn with a read-only snapshot of key.
func (s *Store) Snapshot(ctx context.Context, key Key, fn func(*Snapshot) error) error {
	snap, err := s.OpenSnapshot(ctx, key)
	if err != nil {
		return err
	}
	defer snap.Close()
	return fn(snap)
}
