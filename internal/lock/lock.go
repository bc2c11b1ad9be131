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

// Package lock provides advisory, file-based shared/exclusive locks.
//
// A lock is scoped to one named resource (a model database, a log file, an
// annotation file). The lock itself lives in a sibling "<resource>.lock"
// file so that locking never interferes with reads and writes of the resource.
// Locks are tied to the lifetime of the underlying file descriptor: if the
// holding process dies, the operating system releases the lock.
//
// There is no upgrade or downgrade. A holder wanting a stronger mode must
// release and reacquire.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	logrus "github.com/sirupsen/logrus"
)

// Mode selects shared or exclusive locking.
type Mode int

const (
	// Shared locks may be held concurrently by many holders.
	Shared Mode = iota
	// Exclusive locks exclude every other holder of the same resource.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// RetryDelay is how often a blocked acquisition re-polls the lock file.
var RetryDelay = 10 * time.Millisecond

// Guard is a held lock. Release it on every exit path, usually with defer.
type Guard struct {
	path string
	mode Mode
	fl   *flock.Flock
	once sync.Once
	err  error
}

// Path returns the lock file backing the guard.
func (g *Guard) Path() string { return g.path }

// Mode returns the mode the guard was acquired in.
func (g *Guard) Mode() Mode { return g.mode }

// Release unlocks and closes the lock file. It is safe to call more than once.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		g.err = g.fl.Unlock()
		logrus.WithFields(logrus.Fields{"lock": g.path, "mode": g.mode}).Trace("lock released")
	})
	return g.err
}

// FilePath returns the lock file used for resource.
func FilePath(resource string) string {
	if strings.HasSuffix(resource, ".lock") {
		return resource
	}
	ext := filepath.Ext(resource)
	if ext != "" && !strings.HasPrefix(filepath.Base(resource), ".") {
		return strings.TrimSuffix(resource, ext) + ".lock"
	}
	return resource + ".lock"
}

// Acquire blocks until resource can be locked in the requested mode or ctx is
// done. There is no internal timeout; bound the wait through ctx.
func Acquire(ctx context.Context, resource string, mode Mode) (*Guard, error) {
	path := FilePath(resource)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	var (
		locked bool
		err    error
	)
	switch mode {
	case Shared:
		locked, err = fl.TryRLockContext(ctx, RetryDelay)
	case Exclusive:
		locked, err = fl.TryLockContext(ctx, RetryDelay)
	default:
		return nil, fmt.Errorf("unknown lock mode %v", mode)
	}
	if err != nil {
		_ = fl.Close()
		return nil, fmt.Errorf("failed to acquire %s lock on %s: %w", mode, path, err)
	}
	if !locked {
		_ = fl.Close()
		return nil, fmt.Errorf("failed to acquire %s lock on %s", mode, path)
	}

	logrus.WithFields(logrus.Fields{"lock": path, "mode": mode}).Trace("lock acquired")
	return &Guard{path: path, mode: mode, fl: fl}, nil
}

// With runs fn while holding resource in the given mode.
func With(ctx context.Context, resource string, mode Mode, fn func() error) error {
	g, err := Acquire(ctx, resource, mode)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn()
}
