package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ControlStream is a NONMEM-style control stream. The dataset pointer is the
// first argument of the $DATA record.
type ControlStream struct {
	Ext string
}

var dataRecord = regexp.MustCompile(`(?m)^(\s*\$DATA\s+)("[^"]*"|'[^']*'|\S+)`)

func (c ControlStream) Name() string { return "nonmem" }

func (c ControlStream) Extension() string {
	if c.Ext == "" {
		return ".mod"
	}
	return c.Ext
}

func (c ControlStream) DatasetPath(src []byte) (string, bool) {
	m := dataRecord.FindSubmatch(src)
	if m == nil {
		return "", false
	}
	return strings.Trim(string(m[2]), `"'`), true
}

func (c ControlStream) WithDatasetPath(src []byte, path string) ([]byte, error) {
	loc := dataRecord.FindSubmatchIndex(src)
	if loc == nil {
		return nil, fmt.Errorf("control stream has no $DATA record")
	}
	quoted := path
	if strings.ContainsAny(path, " \t") {
		quoted = `"` + path + `"`
	}
	out := make([]byte, 0, len(src)+len(quoted))
	out = append(out, src[:loc[4]]...)
	out = append(out, quoted...)
	out = append(out, src[loc[5]:]...)
	return out, nil
}

func (c ControlStream) Validate(src []byte) error {
	if !strings.Contains(string(src), "$") {
		return fmt.Errorf("not a control stream: no records")
	}
	return nil
}
