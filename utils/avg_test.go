package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunningAvg(t *testing.T) {
	var a RunningAvg
	assert.Equal(t, 0.0, a.Val())

	a.Observe(2)
	a.Observe(4)
	a.Observe(6)
	assert.InDelta(t, 4.0, a.Val(), 1e-9)
	assert.Equal(t, int64(3), a.Count())
}

func TestRunningAvgConcurrent(t *testing.T) {
	var a RunningAvg
	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				a.Observe(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8000), a.Count())
	assert.InDelta(t, 10.0, a.Val(), 1e-9)
}
