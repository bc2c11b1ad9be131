package modeldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logrus "github.com/sirupsen/logrus"

	"modelstore/internal/common"
	"modelstore/internal/dataset"
	"modelstore/internal/lock"
	"modelstore/internal/metadata"
	"modelstore/internal/model"
	"modelstore/internal/results"
	"modelstore/internal/util"
)

// ErrClosed is returned by operations on a finished transaction or snapshot.
var ErrClosed = errors.New("already closed")

func pendingError(key Key) error {
	return fmt.Errorf("%w: %s", common.ErrPendingTransaction, key)
}

// Transaction is an exclusive write session on one record. It holds the
// database lock until Commit or Close.
type Transaction struct {
	store     *Store
	key       Key
	guard     *lock.Guard
	err       error
	committed bool
	closed    bool
	log       *logrus.Entry
}

// lineage is the on-disk form of a model entry's parent and log.
type lineage struct {
	Parent string             `json:"parent,omitempty"`
	Log    []results.LogEntry `json:"log,omitempty"`
}

// BeginTransaction opens a transaction on key.
//
// A key that already carries a pending marker fails immediately with
// ErrPendingTransaction, without waiting on the lock. Otherwise the call
// blocks until the database lock is free (bounded by ctx and the configured
// lock timeout), then creates the marker.
func (s *Store) BeginTransaction(ctx context.Context, key Key) (*Transaction, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if s.IsPending(key) {
		return nil, pendingError(key)
	}

	g, err := s.acquire(ctx, lock.Exclusive)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(s.RecordPath(key), MetaDir), 0755); err != nil {
		g.Release()
		return nil, fmt.Errorf("%w: failed to create record %s: %w", common.ErrIO, key, err)
	}
	f, err := os.OpenFile(s.pendingPath(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		g.Release()
		return nil, pendingError(key)
	}
	if err != nil {
		g.Release()
		return nil, fmt.Errorf("%w: failed to create pending marker: %w", common.ErrIO, err)
	}
	f.Close()

	log := s.log.WithField("key", key)
	log.Debug("transaction started")
	return &Transaction{store: s, key: key, guard: g, log: log}, nil
}

// Key returns the record key.
func (t *Transaction) Key() Key { return t.key }

// Path returns the record directory.
func (t *Transaction) Path() string { return t.store.RecordPath(t.key) }

// Err returns the first error recorded by the transaction, if any.
func (t *Transaction) Err() error { return t.err }

func (t *Transaction) usable() error {
	if t.closed {
		return fmt.Errorf("transaction on %s: %w", t.key, ErrClosed)
	}
	if t.err != nil {
		return fmt.Errorf("transaction on %s failed earlier: %w", t.key, t.err)
	}
	return nil
}

// abort records err as the transaction's failure. Only the first one counts.
func (t *Transaction) abort(err error) error {
	if t.err == nil {
		t.err = err
	}
	return err
}

// StoreModel writes m as the record's canonical model file, named after the
// key. A referenced dataset is first stored in the dataset store and the
// model's pointer is rewritten to the stored copy. The returned model is the
// one written.
func (t *Transaction) StoreModel(ctx context.Context, m *model.Model) (*model.Model, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if m == nil || m.Format == nil {
		return nil, t.abort(fmt.Errorf("model for %s has no format", t.key))
	}
	if _, ok := t.store.formats.Lookup(m.Format.Extension()); !ok {
		return nil, t.abort(fmt.Errorf("model format %q is not registered", m.Format.Extension()))
	}

	stored := *m
	stored.Name = string(t.key)
	if m.Dataset != nil {
		h, err := t.store.datasets.Put(ctx, *m.Dataset, string(t.key))
		if err != nil {
			return nil, t.abort(fmt.Errorf("failed to store dataset of %s: %w", t.key, err))
		}
		info, err := t.store.datasets.Describe(dataset.Handle{Hash: h.Hash, Path: h.Path})
		if err != nil {
			return nil, t.abort(err)
		}
		stored.Dataset = &dataset.Dataset{Path: h.Path, Info: info}
	}

	src, err := model.Serialize(&stored)
	if err != nil {
		return nil, t.abort(err)
	}
	stored.Source = src

	// A record has one canonical model file; drop ones left by an earlier
	// transaction in another format.
	for _, ext := range t.store.formats.Extensions() {
		if ext == stored.Format.Extension() {
			continue
		}
		stale := filepath.Join(t.Path(), string(t.key)+ext)
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, t.abort(fmt.Errorf("%w: %w", common.ErrIO, err))
		}
	}

	if err := util.WriteFileAtomic(filepath.Join(t.Path(), stored.Filename()), src, 0644); err != nil {
		return nil, t.abort(fmt.Errorf("%w: failed to write model: %w", common.ErrIO, err))
	}
	t.log.WithField("file", stored.Filename()).Debug("model stored")
	return &stored, nil
}

// StoreMetadata writes the record's metadata document, replacing any
// previous one.
func (t *Transaction) StoreMetadata(v metadata.Value) error {
	if err := t.usable(); err != nil {
		return err
	}
	data, err := metadata.Encode(v)
	if err != nil {
		return t.abort(fmt.Errorf("failed to encode metadata: %w", err))
	}
	if err := util.WriteFileAtomic(t.store.metaPath(t.key, MetadataFile), data, 0644); err != nil {
		return t.abort(fmt.Errorf("%w: failed to write metadata: %w", common.ErrIO, err))
	}
	return nil
}

// StoreResults writes the record's fit results. A nil r is a no-op.
func (t *Transaction) StoreResults(r *results.Results) error {
	if err := t.usable(); err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	data, err := results.Marshal(r)
	if err != nil {
		return t.abort(fmt.Errorf("failed to encode results: %w", err))
	}
	if err := util.WriteFileAtomic(t.store.metaPath(t.key, ResultsFile), data, 0644); err != nil {
		return t.abort(fmt.Errorf("%w: failed to write results: %w", common.ErrIO, err))
	}
	return nil
}

// StoreLocalFile copies the file at path into the record, as rename when it
// is non-empty. Files inside the store, files matching the ignore patterns,
// and anything that is not a regular file are skipped; the returned path is
// empty in that case.
func (t *Transaction) StoreLocalFile(path, rename string) (string, error) {
	if err := t.usable(); err != nil {
		return "", err
	}
	log := t.log.WithField("file", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", t.abort(err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", t.abort(fmt.Errorf("%w: local file %s", common.ErrNotFound, path))
	}
	if err != nil {
		return "", t.abort(fmt.Errorf("%w: %w", common.ErrIO, err))
	}
	if t.store.contains(resolved) {
		log.Debug("skipping file inside the model database")
		return "", nil
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", t.abort(fmt.Errorf("%w: %w", common.ErrIO, err))
	}
	if !fi.Mode().IsRegular() {
		log.Debug("skipping non-regular file")
		return "", nil
	}
	if t.store.ignore != nil && t.store.ignore.MatchesPath(filepath.Base(abs)) {
		log.Debug("skipping ignored file")
		return "", nil
	}

	name := rename
	if name == "" {
		name = filepath.Base(abs)
	}
	if err := validateFileName(name); err != nil {
		return "", t.abort(err)
	}
	dest := filepath.Join(t.Path(), name)
	if err := util.CopyFile(resolved, dest); err != nil {
		return "", t.abort(fmt.Errorf("%w: failed to copy %s: %w", common.ErrIO, path, err))
	}
	log.WithField("as", name).Debug("local file stored")
	return dest, nil
}

// StoreModelEntry stores a model with its results and lineage.
func (t *Transaction) StoreModelEntry(ctx context.Context, e *results.ModelEntry) (*model.Model, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	if e == nil || e.Model == nil {
		return nil, t.abort(fmt.Errorf("model entry for %s has no model", t.key))
	}
	m, err := t.StoreModel(ctx, e.Model)
	if err != nil {
		return nil, err
	}
	if err := t.StoreResults(e.Results); err != nil {
		return nil, err
	}
	if e.Parent == "" && len(e.Log) == 0 {
		return m, nil
	}
	data, err := json.MarshalIndent(lineage{Parent: e.Parent, Log: e.Log}, "", "  ")
	if err != nil {
		return nil, t.abort(err)
	}
	if err := util.WriteFileAtomic(t.store.metaPath(t.key, EntryFile), data, 0644); err != nil {
		return nil, t.abort(fmt.Errorf("%w: failed to write model entry: %w", common.ErrIO, err))
	}
	return m, nil
}

// Commit removes the pending marker and releases the lock. A transaction in
// which any step failed refuses to commit and stays pending.
func (t *Transaction) Commit() error {
	if t.closed {
		return fmt.Errorf("transaction on %s: %w", t.key, ErrClosed)
	}
	defer t.release()

	if t.err != nil {
		t.log.WithError(t.err).Warn("transaction failed, record left pending")
		return fmt.Errorf("refusing to commit %s: %w", t.key, t.err)
	}
	if err := os.Remove(t.store.pendingPath(t.key)); err != nil {
		return t.abort(fmt.Errorf("%w: failed to remove pending marker: %w", common.ErrIO, err))
	}
	t.committed = true
	t.log.Debug("transaction committed")
	return nil
}

// Close releases the lock. Without a prior Commit the record stays pending.
// Close is safe to call more than once.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	if !t.committed {
		t.log.Warn("transaction closed without commit, record left pending")
	}
	return t.release()
}

func (t *Transaction) release() error {
	t.closed = true
	return t.guard.Release()
}

// contains reports whether path lies inside the store root.
func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func validateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", common.ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", common.ErrInvalidName, name)
	case name == MetaDir:
		return fmt.Errorf("%w: %q is reserved", common.ErrInvalidName, name)
	}
	return nil
}
