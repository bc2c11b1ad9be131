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

// Snapshot is a read-only view of one committed record. It holds the
// database lock shared, so no transaction can run while it is open.
type Snapshot struct {
	store  *Store
	key    Key
	guard  *lock.Guard
	closed bool
	log    *logrus.Entry
}

// OpenSnapshot opens a snapshot of key.
//
// A pending key fails with ErrPendingTransaction. A wait on the lock that
// ends because ctx (or the configured lock timeout) expires also fails with
// ErrPendingTransaction, wrapping the context error.
func (s *Store) OpenSnapshot(ctx context.Context, key Key) (*Snapshot, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if !s.Exists(key) {
		return nil, fmt.Errorf("%w: model %s", common.ErrNotFound, key)
	}
	if s.IsPending(key) {
		return nil, pendingError(key)
	}

	g, err := s.acquire(ctx, lock.Shared)
	if err != nil {
		return nil, err
	}
	// A transaction may have started and failed while we waited.
	if s.IsPending(key) {
		g.Release()
		return nil, pendingError(key)
	}

	return &Snapshot{store: s, key: key, guard: g, log: s.log.WithField("key", key)}, nil
}

// Key returns the record key.
func (s *Snapshot) Key() Key { return s.key }

// Path returns the record directory.
func (s *Snapshot) Path() string { return s.store.RecordPath(s.key) }

// Close releases the lock. It is safe to call more than once.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.guard.Release()
}

func (s *Snapshot) usable() error {
	if s.closed {
		return fmt.Errorf("snapshot of %s: %w", s.key, ErrClosed)
	}
	return nil
}

// RetrieveModel reads the canonical model file, trying each registered
// format in order. The dataset description is filled in when the pointer
// refers to the dataset store.
func (s *Snapshot) RetrieveModel() (*model.Model, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	var tried []string
	for _, f := range s.store.formats {
		name := string(s.key) + f.Extension()
		src, err := os.ReadFile(filepath.Join(s.Path(), name))
		if errors.Is(err, os.ErrNotExist) {
			tried = append(tried, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		m, err := model.Deserialize(f, string(s.key), src)
		if err != nil {
			return nil, fmt.Errorf("%w: model %s: %v", common.ErrCorrupt, name, err)
		}
		if m.Dataset != nil {
			if info, err := s.store.datasets.Describe(dataset.Handle{Path: m.Dataset.Path}); err == nil {
				m.Dataset.Info = info
			} else {
				s.log.WithError(err).Debug("dataset description unavailable")
			}
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: no model file for %s (looked for %s)", common.ErrNotFound, s.key, strings.Join(tried, ", "))
}

// RetrieveResults reads the record's fit results.
func (s *Snapshot) RetrieveResults() (*results.Results, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.store.metaPath(s.key, ResultsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no results for %s", common.ErrNotFound, s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	r, err := results.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: results of %s: %v", common.ErrCorrupt, s.key, err)
	}
	return r, nil
}

// RetrieveMetadata reads the record's metadata document.
func (s *Snapshot) RetrieveMetadata() (metadata.Value, error) {
	if err := s.usable(); err != nil {
		return metadata.Null(), err
	}
	v, err := metadata.Read(s.store.metaPath(s.key, MetadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return metadata.Null(), fmt.Errorf("%w: no metadata for %s", common.ErrNotFound, s.key)
	}
	if err != nil {
		return metadata.Null(), fmt.Errorf("%w: metadata of %s: %v", common.ErrCorrupt, s.key, err)
	}
	return v, nil
}

// RetrieveModelEntry reads the model with its results and lineage. Missing
// results or lineage leave the corresponding fields empty.
func (s *Snapshot) RetrieveModelEntry() (*results.ModelEntry, error) {
	m, err := s.RetrieveModel()
	if err != nil {
		return nil, err
	}
	e := &results.ModelEntry{Model: m}
	if r, err := s.RetrieveResults(); err == nil {
		e.Results = r
	} else if !common.IsNotFound(err) {
		return nil, err
	}

	data, err := os.ReadFile(s.store.metaPath(s.key, EntryFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
	default:
		var l lineage
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("%w: model entry of %s: %v", common.ErrCorrupt, s.key, err)
		}
		e.Parent, e.Log = l.Parent, l.Log
	}
	return e, nil
}

// RetrieveFile returns the path of an auxiliary file in the record. A
// missing or empty file is ErrNotFound.
func (s *Snapshot) RetrieveFile(name string) (string, error) {
	if err := s.usable(); err != nil {
		return "", err
	}
	if err := validateFileName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.Path(), name)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && fi.Size() == 0) {
		return "", fmt.Errorf("%w: file %s in %s", common.ErrNotFound, name, s.key)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	return path, nil
}

// RetrieveLocalFiles copies every entry of the record except its metadata
// directory into dest.
func (s *Snapshot) RetrieveLocalFiles(dest string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	err := util.CopyTree(s.Path(), dest, func(rel string, d os.DirEntry) bool {
		return rel == MetaDir
	})
	if err != nil {
		return fmt.Errorf("%w: failed to copy %s: %w", common.ErrIO, s.key, err)
	}
	return nil
}
