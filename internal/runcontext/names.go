package runcontext

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	logrus "github.com/sirupsen/logrus"

	"modelstore/internal/common"
	"modelstore/internal/modeldb"
)

func (c *Context) linkPath(name string) string {
	return filepath.Join(c.path, ModelsDir, name)
}

// ListNames returns the model names linked in this context, in natural order.
func (c *Context) ListNames() ([]string, error) {
	return listDir(filepath.Join(c.path, ModelsDir), func(os.DirEntry) bool { return true })
}

// StoreNameLink points name at the record for key. Linking a name to the key
// it already points at is a no-op; linking it to another key replaces the
// link atomically.
func (c *Context) StoreNameLink(name string, key modeldb.Key) error {
	if err := common.ValidateName(name); err != nil {
		return err
	}
	if err := common.ValidateName(string(key)); err != nil {
		return err
	}
	if !c.db.Exists(key) {
		return fmt.Errorf("%w: model %s", common.ErrNotFound, key)
	}

	link := c.linkPath(name)
	target, err := filepath.Rel(filepath.Dir(link), c.db.RecordPath(key))
	if err != nil {
		return err
	}

	fi, err := os.Lstat(link)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	case fi.Mode()&os.ModeSymlink == 0:
		return fmt.Errorf("%w: %s exists and is not a link", common.ErrConflict, link)
	default:
		if cur, err := os.Readlink(link); err == nil && cur == target {
			return nil
		}
	}

	tmp := filepath.Join(filepath.Dir(link), "."+name+".tmp-"+uuid.NewString()[:8])
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("%w: failed to link %s: %w", common.ErrIO, name, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: failed to link %s: %w", common.ErrIO, name, err)
	}
	c.log.WithFields(logrus.Fields{"name": name, "key": key}).Debug("name linked")
	return nil
}

// ResolveName returns the key name points at. Only the link is read; the
// record itself is not opened.
func (c *Context) ResolveName(name string) (modeldb.Key, error) {
	if err := common.ValidateName(name); err != nil {
		return "", err
	}
	target, err := os.Readlink(c.linkPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: no model named %q in %s", common.ErrNotFound, name, c.ContextPath())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s is not a link: %w", common.ErrConflict, name, err)
	}
	return modeldb.Key(filepath.Base(target)), nil
}

// ResolveKeyToName returns the first name, in natural order, that points at
// key.
func (c *Context) ResolveKeyToName(key modeldb.Key) (string, error) {
	names, err := c.ListNames()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		target, err := os.Readlink(c.linkPath(name))
		if err != nil {
			continue
		}
		if modeldb.Key(filepath.Base(target)) == key {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no name for model %s in %s", common.ErrNotFound, key, c.ContextPath())
}
