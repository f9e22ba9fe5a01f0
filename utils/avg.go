package utils

import "sync"

// RunningAvg keeps a cumulative average of observed values, e.g. query
// latencies in milliseconds. Zero value is ready to use.
type RunningAvg struct {
	v     float64
	count int64
	lock  sync.Mutex
}

func (a *RunningAvg) Observe(val float64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.v = (float64(a.count)*a.v + val) / float64(a.count+1)
	a.count++
}

func (a *RunningAvg) Val() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.v
}

func (a *RunningAvg) Count() int64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.count
}
