package runcontext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modelstore/internal/common"
	"modelstore/internal/metadata"
	"modelstore/internal/model"
	"modelstore/internal/modeldb"
	"modelstore/internal/results"
	"modelstore/internal/util"
)

// StoreMetadata writes the context's metadata document.
func (c *Context) StoreMetadata(v metadata.Value) error {
	data, err := metadata.Encode(v)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(filepath.Join(c.path, MetadataFile), data, 0644)
}

// RetrieveMetadata reads the context's metadata document.
func (c *Context) RetrieveMetadata() (metadata.Value, error) {
	return readValue(filepath.Join(c.path, MetadataFile))
}

// RetrieveCommonOptions reads the options recorded when the tree was created.
func (c *Context) RetrieveCommonOptions() (metadata.Value, error) {
	return readValue(filepath.Join(c.top, CommonOptionsFile))
}

func readValue(path string) (metadata.Value, error) {
	v, err := metadata.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return metadata.Null(), fmt.Errorf("%w: %s", common.ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return metadata.Null(), fmt.Errorf("%w: %s: %v", common.ErrCorrupt, filepath.Base(path), err)
	}
	return v, nil
}

// StoreResults writes the results of the run this context belongs to.
func (c *Context) StoreResults(r *results.Results) error {
	data, err := results.Marshal(r)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(filepath.Join(c.path, ResultsFile), data, 0644)
}

// RetrieveResults reads the context's results.
func (c *Context) RetrieveResults() (*results.Results, error) {
	r, err := results.Read(filepath.Join(c.path, ResultsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no results in %s", common.ErrNotFound, c.ContextPath())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: results of %s: %v", common.ErrCorrupt, c.ContextPath(), err)
	}
	return r, nil
}

// StoreModelEntry stores e in the model database under the model's name and
// links that name in this context.
func (c *Context) StoreModelEntry(ctx context.Context, e *results.ModelEntry) (modeldb.Key, error) {
	if e == nil || e.Model == nil {
		return "", fmt.Errorf("model entry has no model")
	}
	key := modeldb.Key(e.Model.Name)
	err := c.db.Transaction(ctx, key, func(txn *modeldb.Transaction) error {
		_, err := txn.StoreModelEntry(ctx, e)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := c.StoreNameLink(e.Model.Name, key); err != nil {
		return "", err
	}
	return key, nil
}

// RetrieveModel reads the model linked as name.
func (c *Context) RetrieveModel(ctx context.Context, name string) (*model.Model, error) {
	key, err := c.ResolveName(name)
	if err != nil {
		return nil, err
	}
	var m *model.Model
	err = c.db.Snapshot(ctx, key, func(snap *modeldb.Snapshot) error {
		m, err = snap.RetrieveModel()
		return err
	})
	return m, err
}

// RetrieveModelEntry reads the model, results and lineage linked as name.
func (c *Context) RetrieveModelEntry(ctx context.Context, name string) (*results.ModelEntry, error) {
	key, err := c.ResolveName(name)
	if err != nil {
		return nil, err
	}
	var e *results.ModelEntry
	err = c.db.Snapshot(ctx, key, func(snap *modeldb.Snapshot) error {
		e, err = snap.RetrieveModelEntry()
		return err
	})
	return e, err
}
