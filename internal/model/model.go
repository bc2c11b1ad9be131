// Package model defines the opaque model value stored by the model database
// and the format adapters that serialize it.
//
// The store never interprets a model beyond two things: the file extension of
// its canonical file, and the dataset pointer inside it, which is rewritten to
// the deduplicated dataset location before the model is written.
package model

import (
	"fmt"
	"strings"

	"modelstore/internal/dataset"
)

// Model is a serialized model description together with its input dataset.
type Model struct {
	Name    string
	Format  Format
	Source  []byte
	Dataset *dataset.Dataset
}

// Filename returns the canonical file name of the model inside a record.
func (m *Model) Filename() string {
	return m.Name + m.Format.Extension()
}

// WithDataset returns a copy of m pointing at ds.
func (m *Model) WithDataset(ds dataset.Dataset) *Model {
	c := *m
	c.Dataset = &ds
	return &c
}

// Format is a model format adapter.
type Format interface {
	// Name identifies the format in logs and configuration.
	Name() string
	// Extension is the canonical file extension, including the dot.
	Extension() string
	// DatasetPath extracts the dataset pointer from serialized source.
	DatasetPath(src []byte) (string, bool)
	// WithDatasetPath rewrites the dataset pointer.
	WithDatasetPath(src []byte, path string) ([]byte, error)
	// Validate reports whether src is well formed for this format.
	Validate(src []byte) error
}

// Serialize renders m in its canonical form, with the dataset pointer set to
// m.Dataset when present.
func Serialize(m *Model) ([]byte, error) {
	if m.Format == nil {
		return nil, fmt.Errorf("model %s has no format", m.Name)
	}
	src := m.Source
	if m.Dataset != nil {
		var err error
		src, err = m.Format.WithDatasetPath(src, m.Dataset.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to set dataset pointer of %s: %w", m.Name, err)
		}
	}
	return src, nil
}

// Deserialize parses src as a model named name.
func Deserialize(f Format, name string, src []byte) (*Model, error) {
	if err := f.Validate(src); err != nil {
		return nil, err
	}
	m := &Model{Name: name, Format: f, Source: src}
	if p, ok := f.DatasetPath(src); ok {
		m.Dataset = &dataset.Dataset{Path: p}
	}
	return m, nil
}

// Registry is an ordered set of formats. Lookup order matters when a record
// is searched for its canonical file.
type Registry []Format

// DefaultRegistry holds the built-in formats.
func DefaultRegistry() Registry {
	return Registry{
		ControlStream{Ext: ".mod"},
		ControlStream{Ext: ".ctl"},
		JSONFormat{},
	}
}

// Lookup returns the format registered for ext.
func (r Registry) Lookup(ext string) (Format, bool) {
	for _, f := range r {
		if f.Extension() == ext {
			return f, true
		}
	}
	return nil, false
}

// Extensions lists the registered extensions in lookup order.
func (r Registry) Extensions() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Extension()
	}
	return out
}

// Restrict returns the formats of r whose extensions appear in exts, in the
// order given by exts.
func (r Registry) Restrict(exts []string) (Registry, error) {
	if len(exts) == 0 {
		return r, nil
	}
	out := make(Registry, 0, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f, ok := r.Lookup(ext)
		if !ok {
			return nil, fmt.Errorf("unknown model extension %q", ext)
		}
		out = append(out, f)
	}
	return out, nil
}
