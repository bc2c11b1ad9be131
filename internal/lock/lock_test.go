package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tryAcquire polls briefly for the lock and returns nil when it stays held
// elsewhere.
func tryAcquire(t *testing.T, resource string, mode Mode) (*Guard, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	g, err := Acquire(ctx, resource, mode)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	return g, err
}

func TestFilePath(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		want     string
	}{
		{"plain file", "/ctx/annotations", "/ctx/annotations.lock"},
		{"csv replaces extension", "/top/log.csv", "/top/log.lock"},
		{"already a lock file", "/db/.lock", "/db/.lock"},
		{"dot directory", "/db/.datasets", "/db/.datasets.lock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilePath(tt.resource))
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "shared", Shared.String())
	assert.Equal(t, "exclusive", Exclusive.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestSharedLocksCoexist(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	g1, err := Acquire(ctx, resource, Shared)
	require.NoError(t, err)
	defer g1.Release()

	g2, err := Acquire(ctx, resource, Shared)
	require.NoError(t, err)
	defer g2.Release()

	// A writer cannot get in while readers hold the lock
	g3, err := tryAcquire(t, resource, Exclusive)
	require.NoError(t, err)
	assert.Nil(t, g3)
}

func TestExclusiveExcludesAll(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "db")

	g, err := Acquire(context.Background(), resource, Exclusive)
	require.NoError(t, err)

	other, err := tryAcquire(t, resource, Shared)
	require.NoError(t, err)
	assert.Nil(t, other, "shared lock must not be granted while exclusive is held")

	other, err = tryAcquire(t, resource, Exclusive)
	require.NoError(t, err)
	assert.Nil(t, other, "second exclusive lock must not be granted")

	require.NoError(t, g.Release())

	other, err = tryAcquire(t, resource, Exclusive)
	require.NoError(t, err)
	require.NotNil(t, other, "lock should be free after release")
	require.NoError(t, other.Release())
}

func TestAcquireHonorsContext(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "db")

	g, err := Acquire(context.Background(), resource, Exclusive)
	require.NoError(t, err)
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = Acquire(ctx, resource, Shared)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireUnblocksAfterRelease(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "db")

	g, err := Acquire(context.Background(), resource, Exclusive)
	require.NoError(t, err)

	acquired := make(chan *Guard, 1)
	go func() {
		waiter, err := Acquire(context.Background(), resource, Exclusive)
		if err != nil {
			acquired <- nil
			return
		}
		acquired <- waiter
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired the lock while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, g.Release())

	select {
	case waiter := <-acquired:
		require.NotNil(t, waiter)
		require.NoError(t, waiter.Release())
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was never granted the lock")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g, err := Acquire(context.Background(), filepath.Join(t.TempDir(), "db"), Exclusive)
	require.NoError(t, err)
	require.NoError(t, g.Release())
	require.NoError(t, g.Release())

	var nilGuard *Guard
	assert.NoError(t, nilGuard.Release())
}

func TestWithReleasesOnError(t *testing.T) {
	resource := filepath.Join(t.TempDir(), "annotations")
	sentinel := errors.New("boom")

	err := With(context.Background(), resource, Exclusive, func() error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	g, err := tryAcquire(t, resource, Exclusive)
	require.NoError(t, err)
	require.NotNil(t, g, "lock must be released after With returns an error")
	require.NoError(t, g.Release())
}

func TestLocksAreScopedPerResource(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(context.Background(), filepath.Join(dir, "log.csv"), Exclusive)
	require.NoError(t, err)
	defer g.Release()

	other, err := tryAcquire(t, filepath.Join(dir, "annotations"), Exclusive)
	require.NoError(t, err)
	require.NotNil(t, other, "locking one resource must not block another")
	require.NoError(t, other.Release())
}
