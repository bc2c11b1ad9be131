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

// Package runcontext implements the hierarchical naming context used by
// workflow runs.
//
// A context is a directory:
//
//	<ctx>/subcontexts/<name>/   nested contexts, same layout
//	<ctx>/models/<name>         symlink to a record in the shared model database
//	<ctx>/annotations           "<name> <text>" per line
//	<ctx>/metadata.json
//	<ctx>/results.json
//
// The top-most context additionally owns the model database (.modeldb/), the
// log shared by the whole tree (log.csv) and common_options.json. Every
// subcontext uses the top context's database and log.
package runcontext

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logrus "github.com/sirupsen/logrus"

	"modelstore/internal/common"
	"modelstore/internal/logging"
	"modelstore/internal/metadata"
	"modelstore/internal/modeldb"
	"modelstore/internal/util"
)

const (
	SubcontextsDir    = "subcontexts"
	ModelsDir         = "models"
	AnnotationsFile   = "annotations"
	MetadataFile      = "metadata.json"
	ResultsFile       = "results.json"
	LogFile           = "log.csv"
	DatabaseDir       = ".modeldb"
	CommonOptionsFile = "common_options.json"
)

// Context is one node of a context tree.
type Context struct {
	path string
	top  string
	db   *modeldb.Store
	opts *options
	log  *logrus.Entry
}

type options struct {
	commonOptions map[string]metadata.Value
	storeOptions  []modeldb.Option
	logger        *logrus.Entry
}

// Option configures New.
type Option func(*options)

// WithCommonOptions sets the options recorded in common_options.json when a
// top-level context is first created.
func WithCommonOptions(opts map[string]metadata.Value) Option {
	return func(o *options) { o.commonOptions = opts }
}

// WithStoreOptions passes options to the model database.
func WithStoreOptions(opts ...modeldb.Option) Option {
	return func(o *options) { o.storeOptions = append(o.storeOptions, opts...) }
}

// WithLogger sets the logger for the context and its database.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.logger = log }
}

// New opens the context ref/name, creating it if needed. An empty ref means
// the working directory. Opening an existing context leaves its content
// untouched.
func New(name, ref string, opts ...Option) (*Context, error) {
	if err := common.ValidateName(name); err != nil {
		return nil, err
	}
	if ref == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		ref = wd
	}
	o := &options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	path, err := filepath.Abs(filepath.Join(ref, name))
	if err != nil {
		return nil, err
	}
	return open(path, nil, o)
}

// Exists reports whether ref/name holds a context.
func Exists(name, ref string) bool {
	if ref == "" {
		ref = "."
	}
	path := filepath.Join(ref, name)
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return false
	}
	if fi, err := os.Stat(filepath.Join(path, SubcontextsDir)); err != nil || !fi.IsDir() {
		return false
	}
	fi, err := os.Stat(filepath.Join(path, AnnotationsFile))
	return err == nil && fi.Mode().IsRegular()
}

// open initializes the context at path. db is shared with the rest of the
// tree when known; otherwise it is opened at the top context.
func open(path string, db *modeldb.Store, o *options) (*Context, error) {
	for _, dir := range []string{path, filepath.Join(path, SubcontextsDir), filepath.Join(path, ModelsDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create context: %w", err)
		}
	}
	f, err := os.OpenFile(filepath.Join(path, AnnotationsFile), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotations: %w", err)
	}
	f.Close()

	top, err := topOf(path)
	if err != nil {
		return nil, err
	}
	c := &Context{path: path, top: top, opts: o}

	if db == nil {
		storeOpts := append([]modeldb.Option{modeldb.WithLogger(o.logger)}, o.storeOptions...)
		db, err = modeldb.Open(filepath.Join(top, DatabaseDir), storeOpts...)
		if err != nil {
			return nil, err
		}
	}
	c.db = db
	c.log = o.logger.WithFields(logrus.Fields{"component": "context", "context": c.ContextPath()})

	if path == top {
		if err := c.initTop(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// topOf walks up through "subcontexts" directories to the top context.
func topOf(path string) (string, error) {
	p := path
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("cannot find top level of context %s", path)
		}
		if filepath.Base(parent) != SubcontextsDir {
			return p, nil
		}
		p = filepath.Dir(parent)
	}
}

func (c *Context) initTop() error {
	f, err := os.OpenFile(c.logPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	switch {
	case errors.Is(err, os.ErrExist):
	case err != nil:
		return fmt.Errorf("failed to create log: %w", err)
	default:
		_, err = f.WriteString(strings.Join(logHeader, ",") + "\n")
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write log header: %w", err)
		}
	}

	optsPath := filepath.Join(c.top, CommonOptionsFile)
	if util.Exists(optsPath) {
		return nil
	}
	opts := c.opts.commonOptions
	if opts == nil {
		opts = map[string]metadata.Value{}
	}
	data, err := metadata.Encode(metadata.Map(opts))
	if err != nil {
		return fmt.Errorf("failed to encode common options: %w", err)
	}
	return util.WriteFileAtomic(optsPath, data, 0644)
}

// Name returns the context's own name.
func (c *Context) Name() string { return filepath.Base(c.path) }

// Path returns the context directory.
func (c *Context) Path() string { return c.path }

// IsTop reports whether c is the top-most context of its tree.
func (c *Context) IsTop() bool { return c.path == c.top }

// ContextPath returns the logical path of c, such as "run/fit/boot", made of
// the top context's name and the names of the subcontexts below it.
func (c *Context) ContextPath() string {
	rel, err := filepath.Rel(filepath.Dir(c.top), c.path)
	if err != nil {
		return c.Name()
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	var out []string
	for i := 0; i < len(parts); i += 2 {
		out = append(out, parts[i])
	}
	return common.JoinPath(out...)
}

// ModelDatabase returns the model database shared by the whole tree.
func (c *Context) ModelDatabase() *modeldb.Store { return c.db }

func (c *Context) logPath() string { return filepath.Join(c.top, LogFile) }

func (c *Context) subcontextPath(name string) string {
	return filepath.Join(c.path, SubcontextsDir, name)
}

// CreateSubcontext opens the subcontext name, creating it if needed.
func (c *Context) CreateSubcontext(name string) (*Context, error) {
	if err := common.ValidateName(name); err != nil {
		return nil, err
	}
	path := c.subcontextPath(name)
	if fi, err := os.Lstat(path); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a subcontext", common.ErrExists, path)
	}
	return open(path, c.db, c.opts)
}

// GetSubcontext opens an existing subcontext.
func (c *Context) GetSubcontext(name string) (*Context, error) {
	if err := common.ValidateName(name); err != nil {
		return nil, err
	}
	path := c.subcontextPath(name)
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: no subcontext %q in %s", common.ErrNotFound, name, c.ContextPath())
	}
	return open(path, c.db, c.opts)
}

// Parent returns the enclosing context. The top context has none.
func (c *Context) Parent() (*Context, error) {
	if c.IsTop() {
		return nil, fmt.Errorf("%w: %s", common.ErrAtRoot, c.ContextPath())
	}
	return open(filepath.Dir(filepath.Dir(c.path)), c.db, c.opts)
}

// ListSubcontexts returns subcontext names in natural order.
func (c *Context) ListSubcontexts() ([]string, error) {
	return listDir(filepath.Join(c.path, SubcontextsDir), func(e os.DirEntry) bool { return e.IsDir() })
}

func listDir(dir string, keep func(os.DirEntry) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !keep(e) {
			continue
		}
		names = append(names, e.Name())
	}
	return common.SortAlphanum(names), nil
}
