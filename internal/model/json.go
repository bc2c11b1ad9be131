package model

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSONFormat stores models as JSON documents with the dataset pointer at a
// configurable member path (default "dataset.path").
type JSONFormat struct {
	Field string
}

func (j JSONFormat) field() string {
	if j.Field == "" {
		return "dataset.path"
	}
	return j.Field
}

func (j JSONFormat) Name() string { return "json" }

func (j JSONFormat) Extension() string { return ".json" }

func (j JSONFormat) DatasetPath(src []byte) (string, bool) {
	r := gjson.GetBytes(src, j.field())
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

func (j JSONFormat) WithDatasetPath(src []byte, path string) ([]byte, error) {
	if err := j.Validate(src); err != nil {
		return nil, err
	}
	return sjson.SetBytes(src, j.field(), path)
}

func (j JSONFormat) Validate(src []byte) error {
	if !gjson.ValidBytes(src) {
		return fmt.Errorf("malformed JSON model document")
	}
	return nil
}
