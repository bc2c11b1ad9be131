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

// Package dataset implements the content-addressed dataset store.
//
// Layout under the store root (normally <modeldb>/.datasets):
//
//	.lock                  lock guarding the index
//	<hash>/<slot>          index entry: empty file naming a slot with that content hash
//	<slot>.csv             physical dataset copy
//	<slot>.datainfo        sidecar Description (JSON)
//
// A slot is named after the first owner that stored it. Two datasets with equal
// canonical content always resolve to the same slot.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

const (
	DataExt = ".csv"
	InfoExt = ".datainfo"
)

// Column describes one dataset column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// Description is the sidecar "datainfo" for a dataset.
type Description struct {
	Path      string   `json:"path,omitempty"`
	Separator string   `json:"separator,omitempty"`
	Columns   []Column `json:"columns,omitempty"`
}

// Comma returns the field separator, defaulting to ','.
func (d Description) Comma() rune {
	if d.Separator == "" {
		return ','
	}
	return []rune(d.Separator)[0]
}

// Equal compares two descriptions ignoring Path and column order.
func (d Description) Equal(o Description) bool {
	if d.Comma() != o.Comma() || len(d.Columns) != len(o.Columns) {
		return false
	}
	a, b := sortedColumns(d.Columns), sortedColumns(o.Columns)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedColumns(cols []Column) []Column {
	out := append([]Column(nil), cols...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithPath returns a copy of d pointing at path.
func (d Description) WithPath(path string) Description {
	d.Path = path
	d.Columns = append([]Column(nil), d.Columns...)
	return d
}

// ReadDescription reads a sidecar file.
func ReadDescription(path string) (Description, error) {
	var d Description
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("malformed datainfo %s: %w", path, err)
	}
	return d, nil
}

// Dataset is a tabular input file together with its description.
type Dataset struct {
	Path string
	Info Description
}

// Handle identifies a stored DatasetEntry.
type Handle struct {
	Hash string
	Path string
	// Reused is set by Put when an existing entry was returned.
	Reused bool
}
