package runcontext

import (
	"bytes"
	"errors"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modelstore/internal/common"
	"modelstore/internal/lock"
	"modelstore/internal/util"
)

func (c *Context) annotationsPath() string { return filepath.Join(c.path, AnnotationsFile) }

// PutAnnotation sets the annotation for name, replacing any previous one.
func (c *Context) PutAnnotation(ctx context.Context, name, text string) error {
	if err := common.ValidateName(name); err != nil {
		return err
	}
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("%w: annotation for %s spans lines", common.ErrInvalidName, name)
	}
	path := c.annotationsPath()
	return lock.With(ctx, path, lock.Exclusive, func() error {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}

		var out bytes.Buffer
		found := false
		for _, line := range annotationLines(data) {
			if n, _, _ := strings.Cut(line, " "); n == name {
				line = name + " " + text
				found = true
			}
			out.WriteString(line + "\n")
		}
		if !found {
			out.WriteString(name + " " + text + "\n")
		}
		return util.WriteFileAtomic(path, out.Bytes(), 0644)
	})
}

// GetAnnotation returns the annotation for name.
func (c *Context) GetAnnotation(ctx context.Context, name string) (string, error) {
	path := c.annotationsPath()
	var (
		text  string
		found bool
	)
	err := lock.With(ctx, path, lock.Shared, func() error {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		for _, line := range annotationLines(data) {
			if n, rest, _ := strings.Cut(line, " "); n == name {
				text, found = rest, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: no annotation for %s", common.ErrNotFound, name)
	}
	return text, nil
}

// Annotation is one row of the annotations file.
type Annotation struct {
	Name string
	Text string
}

// Annotations returns every annotation in file order.
func (c *Context) Annotations(ctx context.Context) ([]Annotation, error) {
	path := c.annotationsPath()
	var out []Annotation
	err := lock.With(ctx, path, lock.Shared, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		for _, line := range annotationLines(data) {
			n, rest, _ := strings.Cut(line, " ")
			out = append(out, Annotation{Name: n, Text: rest})
		}
		return nil
	})
	return out, err
}

// annotationLines splits the file into non-empty lines. Lines have no
// length limit.
func annotationLines(data []byte) []string {
	var lines []string
	for _, l := range bytes.Split(data, []byte("\n")) {
		l = bytes.TrimSuffix(l, []byte("\r"))
		if len(l) > 0 {
			lines = append(lines, string(l))
		}
	}
	return lines
}
