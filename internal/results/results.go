// Package results defines the fit-result document stored alongside a model.
package results

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"modelstore/internal/model"
)

// Table is a rectangular numeric table such as predictions or individual
// estimates. Missing values are encoded as null.
type Table struct {
	Columns []string     `json:"columns"`
	Index   []string     `json:"index,omitempty"`
	Rows    [][]*float64 `json:"rows"`
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]*float64, bool) {
	for i, c := range t.Columns {
		if c == name {
			out := make([]*float64, len(t.Rows))
			for r, row := range t.Rows {
				if i < len(row) {
					out[r] = row[i]
				}
			}
			return out, true
		}
	}
	return nil, false
}

// Validate checks that every row has one value per column.
func (t *Table) Validate() error {
	if t.Index != nil && len(t.Index) != len(t.Rows) {
		return fmt.Errorf("table has %d index labels for %d rows", len(t.Index), len(t.Rows))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table row %d has %d values, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// LogEntry is one estimation diagnostic.
type LogEntry struct {
	Category string    `json:"category"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
}

// Results is the outcome of fitting one model.
type Results struct {
	ParameterEstimates  map[string]float64 `json:"parameter_estimates"`
	OFV                 *float64           `json:"ofv"`
	MinimizationSuccess *bool              `json:"minimization_successful,omitempty"`
	Predictions         *Table             `json:"predictions,omitempty"`
	IndividualEstimates *Table             `json:"individual_estimates,omitempty"`
	Log                 []LogEntry         `json:"log,omitempty"`
}

// Validate rejects documents that cannot round-trip through JSON.
func (r *Results) Validate() error {
	for name, v := range r.ParameterEstimates {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter estimate %s is not finite", name)
		}
	}
	if r.OFV != nil && (math.IsNaN(*r.OFV) || math.IsInf(*r.OFV, 0)) {
		return fmt.Errorf("objective function value is not finite")
	}
	for _, t := range []*Table{r.Predictions, r.IndividualEstimates} {
		if t == nil {
			continue
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Errors returns the log entries with category "ERROR".
func (r *Results) Errors() []LogEntry {
	var out []LogEntry
	for _, e := range r.Log {
		if e.Category == "ERROR" {
			out = append(out, e)
		}
	}
	return out
}

// Marshal encodes r as indented JSON.
func Marshal(r *Results) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(r, "", "  ")
}

// Unmarshal decodes a results document.
func Unmarshal(data []byte) (*Results, error) {
	var r Results
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Write stores r at path.
func Write(path string, r *Results) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads a results document from path.
func Read(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// ModelEntry bundles a model with its fit results and lineage.
type ModelEntry struct {
	Model   *model.Model
	Results *Results
	Parent  string
	Log     []LogEntry
}
