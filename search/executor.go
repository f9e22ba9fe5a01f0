// Package search runs membership queries against a snapshot under a
// hard wall-clock budget.
package search

import (
	"context"
	"time"

	"github.com/MbeleckBerle/ssl-server/index"
	"golang.org/x/sync/semaphore"
)

type Result byte

const (
	Found Result = iota
	NotFound
	Timeout
)

func (r Result) String() string {
	switch r {
	case Found:
		return "FOUND"
	case NotFound:
		return "NOT_FOUND"
	case Timeout:
		return "TIMEOUT"
	}
	return "UNKNOWN"
}

// Outcome of a single query. Line is the 1-based number of the first
// matching line and is only meaningful when Result == Found.
type Outcome struct {
	Result Result
	Line   int32
}

// Strategy selects how a snapshot is probed. Hashed and Linear return
// identical answers for identical inputs; Linear matches the original
// per-line scan and its cost grows with the file, Hashed is a
// constant-time set probe.
type Strategy byte

const (
	Hashed Strategy = iota
	Linear
)

// Executor runs each scan in its own goroutine racing the deadline.
// The scan is not cooperatively cancellable: when the deadline wins the
// result is abandoned and the goroutine runs to completion in the
// background. To keep sustained timeouts from piling up leaked scans,
// a weighted semaphore caps how many may be in flight; when no slot
// frees within the budget the query times out without scanning at all.
type Executor struct {
	budget   time.Duration
	strategy Strategy
	scans    *semaphore.Weighted
}

const DefaultMaxScans = 128

func NewExecutor(budget time.Duration, strategy Strategy, maxScans int64) *Executor {
	if maxScans <= 0 {
		maxScans = DefaultMaxScans
	}
	return &Executor{
		budget:   budget,
		strategy: strategy,
		scans:    semaphore.NewWeighted(maxScans),
	}
}

// Execute searches idx for an exact whole-line match of query (both
// sides trimmed of surrounding whitespace, never substring). The
// budget covers slot acquisition and the scan together.
func (e *Executor) Execute(ctx context.Context, idx *index.LineIndex, query string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	if err := e.scans.Acquire(ctx, 1); err != nil {
		return Outcome{Result: Timeout}
	}

	done := make(chan Outcome, 1)
	go func() {
		defer e.scans.Release(1)
		var num int32
		var ok bool
		if e.strategy == Linear {
			num, ok = idx.Scan(query)
		} else {
			num, ok = idx.Lookup(query)
		}
		if ok {
			done <- Outcome{Result: Found, Line: num}
		} else {
			done <- Outcome{Result: NotFound}
		}
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return Outcome{Result: Timeout}
	}
}
