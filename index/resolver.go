package index

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/MbeleckBerle/ssl-server/utils"
	"golang.org/x/sync/singleflight"
)

// Resolver supplies the snapshot a query should run against, applying
// the configured refresh policy.
//
// Reread mode rebuilds from disk on every call: freshness over latency,
// the cost is O(file size) per query on the calling session.
//
// Cache mode builds lazily on first use and then serves the cached
// snapshot until Invalidate. Concurrent first calls collapse into a
// single build through singleflight; the waiters block for the
// in-flight build rather than racing redundant builds, so nobody can
// observe a partially-built snapshot.
type Resolver struct {
	path   string
	reread bool
	log    utils.Logger

	group singleflight.Group
	cache *lru.Cache[string, *LineIndex]

	builds func() // optional hook, counts completed builds
}

func NewResolver(path string, reread bool, log utils.Logger) *Resolver {
	// The service watches a single reference file; the small LRU keeps
	// the door open for serving several paths without growing unbounded.
	cache, _ := lru.New[string, *LineIndex](4)
	return &Resolver{
		path:   path,
		reread: reread,
		log:    log,
		cache:  cache,
	}
}

// OnBuild registers a callback fired after every completed build. Used
// by the server to count index rebuilds.
func (r *Resolver) OnBuild(fn func()) {
	r.builds = fn
}

func (r *Resolver) Resolve(ctx context.Context) (*LineIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.reread {
		return r.build()
	}

	if idx, ok := r.cache.Get(r.path); ok {
		return idx, nil
	}

	v, err, _ := r.group.Do(r.path, func() (any, error) {
		// Recheck under the flight: a racing caller may have finished
		// the build while we queued.
		if idx, ok := r.cache.Get(r.path); ok {
			return idx, nil
		}
		idx, err := r.build()
		if err != nil {
			return nil, err
		}
		r.cache.Add(r.path, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*LineIndex), nil
}

// Invalidate drops the cached snapshot so the next query rebuilds it.
func (r *Resolver) Invalidate() {
	r.cache.Remove(r.path)
}

func (r *Resolver) build() (*LineIndex, error) {
	idx, err := Build(r.path)
	if err != nil {
		return nil, err
	}
	if r.builds != nil {
		r.builds()
	}
	r.log.Debug("index: built snapshot",
		"path", idx.Path, "lines", idx.Len(), "bytes", idx.ByteSize,
		"fingerprint", idx.Fingerprint)
	return idx, nil
}

// Cached returns the current cached snapshot without triggering a
// build. Stats collection peeks at it.
func (r *Resolver) Cached() (*LineIndex, bool) {
	return r.cache.Get(r.path)
}
