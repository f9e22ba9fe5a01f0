package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MbeleckBerle/ssl-server/index"
	"github.com/stretchr/testify/assert"
)

func buildRef(t *testing.T, lines int) *index.LineIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.txt")
	f, err := os.Create(path)
	assert.NoError(t, err)
	for i := 0; i < lines; i++ {
		fmt.Fprintf(f, "line-%d\n", i)
	}
	assert.NoError(t, f.Close())

	idx, err := index.Build(path)
	assert.NoError(t, err)
	return idx
}

func TestExecuteFound(t *testing.T) {
	idx := buildRef(t, 100)
	e := NewExecutor(time.Second, Hashed, 0)

	out := e.Execute(context.Background(), idx, "line-42")
	assert.Equal(t, Found, out.Result)
	assert.Equal(t, int32(43), out.Line)
}

func TestExecuteNotFound(t *testing.T) {
	idx := buildRef(t, 100)
	e := NewExecutor(time.Second, Linear, 0)

	out := e.Execute(context.Background(), idx, "nope")
	assert.Equal(t, NotFound, out.Result)
	assert.Equal(t, int32(0), out.Line)
}

func TestStrategiesAgree(t *testing.T) {
	idx := buildRef(t, 1000)
	hashed := NewExecutor(time.Second, Hashed, 0)
	linear := NewExecutor(time.Second, Linear, 0)

	for _, q := range []string{"line-0", "line-999", " line-500 ", "line-1000", ""} {
		h := hashed.Execute(context.Background(), idx, q)
		l := linear.Execute(context.Background(), idx, q)
		assert.Equal(t, h, l, "query %q", q)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	idx := buildRef(t, 100)
	e := NewExecutor(time.Second, Hashed, 0)

	first := e.Execute(context.Background(), idx, "line-7")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Execute(context.Background(), idx, "line-7"))
	}
}

func TestExecuteTimeout(t *testing.T) {
	idx := buildRef(t, 500000)
	e := NewExecutor(time.Nanosecond, Linear, 0)

	// The deadline has effectively elapsed before the linear scan can
	// cover half a million lines; the session gets an answer instead of
	// blocking.
	out := e.Execute(context.Background(), idx, "line-499999")
	assert.Equal(t, Timeout, out.Result)
}

func TestExecuteTimeoutWhenScansExhausted(t *testing.T) {
	idx := buildRef(t, 10)
	e := NewExecutor(10*time.Millisecond, Hashed, 1)

	// Occupy the only scan slot.
	assert.True(t, e.scans.TryAcquire(1))
	defer e.scans.Release(1)

	start := time.Now()
	out := e.Execute(context.Background(), idx, "line-1")
	assert.Equal(t, Timeout, out.Result)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteHonorsCallerContext(t *testing.T) {
	idx := buildRef(t, 10)
	e := NewExecutor(time.Minute, Hashed, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.Execute(ctx, idx, "line-1")
	assert.Equal(t, Timeout, out.Result)
}
