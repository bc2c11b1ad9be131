package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	logrus "github.com/sirupsen/logrus"

	"modelstore/internal/common"
	"modelstore/internal/lock"
	"modelstore/internal/logging"
	"modelstore/internal/util"
)

// Store is a content-addressed dataset store rooted at a directory.
type Store struct {
	root string
	log  *logrus.Entry
}

// NewStore returns a store rooted at root. The directory is created lazily.
func NewStore(root string, log *logrus.Entry) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{root: root, log: log.WithField("component", "datasets")}
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) lockPath() string { return filepath.Join(s.root, ".lock") }

func (s *Store) dataPath(slot string) string { return filepath.Join(s.root, slot+DataExt) }

func (s *Store) infoPath(slot string) string { return filepath.Join(s.root, slot+InfoExt) }

// Put stores ds on behalf of owner, returning an existing entry when one with
// equal canonical content is already present. Hash equality alone never
// counts as a match; the stored content is re-read and compared.
func (s *Store) Put(ctx context.Context, ds Dataset, owner string) (Handle, error) {
	if err := common.ValidateName(owner); err != nil {
		return Handle{}, err
	}
	comma := ds.Info.Comma()
	canon, header, err := canonicalFile(ds.Path, comma)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to read dataset %s: %w", ds.Path, err)
	}
	hash := HashCanonical(canon)

	info := ds.Info
	if len(info.Columns) == 0 {
		for _, name := range header {
			info.Columns = append(info.Columns, Column{Name: name})
		}
	}

	g, err := lock.Acquire(ctx, s.lockPath(), lock.Exclusive)
	if err != nil {
		return Handle{}, err
	}
	defer g.Release()

	if h, ok, err := s.findLocked(hash, canon, info); err != nil {
		return Handle{}, err
	} else if ok {
		s.log.WithFields(logrus.Fields{"hash": hash, "owner": owner, "path": h.Path}).Debug("dataset reused")
		return h, nil
	}

	slot, err := s.freshSlot(owner)
	if err != nil {
		return Handle{}, err
	}
	dataPath := s.dataPath(slot)
	if err := util.CopyFile(ds.Path, dataPath); err != nil {
		return Handle{}, fmt.Errorf("failed to copy dataset: %w", err)
	}

	// Sidecar after data, index entry last: an index entry always points at a
	// complete slot.
	info = info.WithPath(dataPath)
	infoData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return Handle{}, err
	}
	if err := util.WriteFileAtomic(s.infoPath(slot), infoData, 0644); err != nil {
		return Handle{}, fmt.Errorf("failed to write datainfo: %w", err)
	}
	indexDir := filepath.Join(s.root, hash)
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return Handle{}, fmt.Errorf("failed to create index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(indexDir, slot), nil, 0644); err != nil {
		return Handle{}, fmt.Errorf("failed to write index entry: %w", err)
	}

	s.log.WithFields(logrus.Fields{"hash": hash, "owner": owner, "path": dataPath}).Debug("dataset stored")
	return Handle{Hash: hash, Path: dataPath}, nil
}

// findLocked scans the index bucket for hash. The caller holds the index lock.
func (s *Store) findLocked(hash string, canon []byte, info Description) (Handle, bool, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, hash))
	if errors.Is(err, os.ErrNotExist) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, err
	}

	for _, e := range entries {
		slot := e.Name()
		stored, err := ReadDescription(s.infoPath(slot))
		if err != nil {
			return Handle{}, false, fmt.Errorf("%w: index entry %s/%s: %v", common.ErrCorrupt, hash, slot, err)
		}
		if !stored.Equal(info) {
			continue
		}
		storedCanon, _, err := canonicalFile(s.dataPath(slot), stored.Comma())
		if err != nil {
			return Handle{}, false, fmt.Errorf("%w: index entry %s/%s: %v", common.ErrCorrupt, hash, slot, err)
		}
		if HashCanonical(storedCanon) != hash {
			return Handle{}, false, fmt.Errorf("%w: dataset %s no longer matches hash %s", common.ErrCorrupt, s.dataPath(slot), hash)
		}
		if bytes.Equal(storedCanon, canon) {
			return Handle{Hash: hash, Path: s.dataPath(slot), Reused: true}, true, nil
		}
	}
	return Handle{}, false, nil
}

func (s *Store) freshSlot(owner string) (string, error) {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return "", err
	}
	slot := owner
	for {
		_, dataErr := os.Lstat(s.dataPath(slot))
		_, infoErr := os.Lstat(s.infoPath(slot))
		if errors.Is(dataErr, os.ErrNotExist) && errors.Is(infoErr, os.ErrNotExist) {
			return slot, nil
		}
		slot = owner + "-" + uuid.NewString()[:8]
	}
}

// Get opens the physical file of a stored entry for reading.
func (s *Store) Get(ctx context.Context, h Handle) (*os.File, error) {
	g, err := lock.Acquire(ctx, s.lockPath(), lock.Shared)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	if !s.owns(h.Path) {
		return nil, fmt.Errorf("%w: %s is not a stored dataset", common.ErrNotFound, h.Path)
	}
	f, err := os.Open(h.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: dataset %s", common.ErrNotFound, h.Path)
	}
	return f, err
}

// Describe returns the sidecar description for a stored entry.
func (s *Store) Describe(h Handle) (Description, error) {
	if !s.owns(h.Path) {
		return Description{}, fmt.Errorf("%w: %s is not a stored dataset", common.ErrNotFound, h.Path)
	}
	slot := strings.TrimSuffix(filepath.Base(h.Path), DataExt)
	d, err := ReadDescription(s.infoPath(slot))
	if errors.Is(err, os.ErrNotExist) {
		return d, fmt.Errorf("%w: datainfo for %s", common.ErrNotFound, h.Path)
	}
	if err != nil {
		return d, fmt.Errorf("%w: %v", common.ErrCorrupt, err)
	}
	return d, nil
}

func (s *Store) owns(path string) bool {
	return filepath.Dir(filepath.Clean(path)) == filepath.Clean(s.root) && strings.HasSuffix(path, DataExt)
}

// Entry is one physical dataset with the index buckets that reference it.
type Entry struct {
	Hash string
	Slot string
	Path string
	Size int64
}

// List returns every indexed entry sorted by slot.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	g, err := lock.Acquire(ctx, s.lockPath(), lock.Shared)
	if err != nil {
		return nil, err
	}
	defer g.Release()

	buckets, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, b := range buckets {
		if !b.IsDir() {
			continue
		}
		slots, err := os.ReadDir(filepath.Join(s.root, b.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range slots {
			entry := Entry{Hash: b.Name(), Slot: e.Name(), Path: s.dataPath(e.Name())}
			if fi, err := os.Stat(entry.Path); err == nil {
				entry.Size = fi.Size()
			}
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

// Verify re-hashes every indexed entry and reports the ones that are missing
// or no longer match their bucket.
func (s *Store) Verify(ctx context.Context) ([]error, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var problems []error
	for _, e := range entries {
		d, err := ReadDescription(s.infoPath(e.Slot))
		if err != nil {
			problems = append(problems, fmt.Errorf("%w: %s: %v", common.ErrCorrupt, e.Slot, err))
			continue
		}
		canon, _, err := canonicalFile(e.Path, d.Comma())
		if err != nil {
			problems = append(problems, fmt.Errorf("%w: %s: %v", common.ErrCorrupt, e.Slot, err))
			continue
		}
		if got := HashCanonical(canon); got != e.Hash {
			problems = append(problems, fmt.Errorf("%w: %s hashes to %s, indexed as %s", common.ErrCorrupt, e.Slot, got, e.Hash))
		}
	}
	return problems, nil
}
