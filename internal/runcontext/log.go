package runcontext

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	logrus "github.com/sirupsen/logrus"

	"modelstore/internal/common"
	"modelstore/internal/lock"
)

var logHeader = []string{"path", "time", "severity", "message"}

const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// LogEntry is one row of the context log.
type LogEntry struct {
	Path     string
	Time     time.Time
	Severity string
	Message  string
}

// Scope selects which log rows ReadLog returns.
type Scope int

const (
	// ScopeEverything returns every row of the tree.
	ScopeEverything Scope = iota
	// ScopeThis returns rows written by this context only.
	ScopeThis
	// ScopeThisAndDescendants returns rows written by this context and any
	// context below it.
	ScopeThisAndDescendants
)

func (s Scope) String() string {
	switch s {
	case ScopeEverything:
		return "everything"
	case ScopeThis:
		return "this"
	case ScopeThisAndDescendants:
		return "this-and-descendants"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ParseScope accepts the scope names used by String, plus "all",
// "current" and "lower".
func ParseScope(s string) (Scope, error) {
	switch s {
	case "everything", "all", "":
		return ScopeEverything, nil
	case "this", "current":
		return ScopeThis, nil
	case "this-and-descendants", "lower":
		return ScopeThisAndDescendants, nil
	}
	return 0, fmt.Errorf("unknown log scope %q", s)
}

// AppendLog appends a row to the tree's log, tagged with this context's
// logical path.
func (c *Context) AppendLog(ctx context.Context, severity, message string) error {
	entry := LogEntry{Path: c.ContextPath(), Time: time.Now().UTC(), Severity: severity, Message: message}
	err := lock.With(ctx, c.logPath(), lock.Exclusive, func() error {
		f, err := os.OpenFile(c.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		w := csv.NewWriter(f)
		if err := w.Write([]string{entry.Path, entry.Time.Format(time.RFC3339Nano), entry.Severity, entry.Message}); err != nil {
			f.Close()
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: failed to append to log: %w", common.ErrIO, err)
	}
	c.log.WithFields(logrus.Fields{"severity": severity}).Debug(message)
	return nil
}

// LogInfo appends an INFO row.
func (c *Context) LogInfo(ctx context.Context, message string) error {
	return c.AppendLog(ctx, SeverityInfo, message)
}

// LogWarning appends a WARNING row.
func (c *Context) LogWarning(ctx context.Context, message string) error {
	return c.AppendLog(ctx, SeverityWarning, message)
}

// LogError appends an ERROR row.
func (c *Context) LogError(ctx context.Context, message string) error {
	return c.AppendLog(ctx, SeverityError, message)
}

// ReadLog returns the log rows visible from this context in write order.
func (c *Context) ReadLog(ctx context.Context, scope Scope) ([]LogEntry, error) {
	var rows [][]string
	err := lock.With(ctx, c.logPath(), lock.Shared, func() error {
		f, err := os.Open(c.logPath())
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = len(logHeader)
		for {
			rec, err := r.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", common.ErrCorrupt, err)
			}
			rows = append(rows, rec)
		}
	})
	if err != nil {
		return nil, err
	}

	here := c.ContextPath()
	var out []LogEntry
	for i, rec := range rows {
		if i == 0 && rec[0] == logHeader[0] && rec[1] == logHeader[1] {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return nil, fmt.Errorf("%w: log row %d: %v", common.ErrCorrupt, i+1, err)
		}
		e := LogEntry{Path: rec[0], Time: t, Severity: rec[2], Message: rec[3]}
		if visible(scope, e.Path, here) {
			out = append(out, e)
		}
	}
	return out, nil
}

func visible(scope Scope, path, here string) bool {
	switch scope {
	case ScopeThis:
		return common.Depth(path) == common.Depth(here) && common.IsWithin(path, here)
	case ScopeThisAndDescendants:
		return common.Depth(path) >= common.Depth(here) && common.IsWithin(path, here)
	default:
		return true
	}
}
