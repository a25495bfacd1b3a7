package dwarf

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/strobehq/strobe/internal/telemetry"
)

// Cache serves parsed Indexes keyed by binary fingerprint, parsing at
// most once per binary even when several callers request the same
// binary concurrently (e.g. two sessions launched back to back against
// the same build). In-flight requests are coalesced: the first caller
// parses, later callers for the same key wait on the same result instead
// of redoing the work.
type Cache struct {
	lru *lru.Cache[string, *Index]

	inflightMu sync.Mutex
	inflight   map[string]*pendingParse

	demangler Demangler
}

type pendingParse struct {
	done  chan struct{}
	index *Index
	err   error
}

// NewCache returns a Cache holding parsed indexes for up to size
// distinct binaries before evicting the least recently used.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[string, *Index](size)
	if err != nil {
		return nil, fmt.Errorf("create dwarf index cache: %w", err)
	}
	return &Cache{
		lru:       l,
		inflight:  make(map[string]*pendingParse),
		demangler: NewDemangler(),
	}, nil
}

// Get returns the parsed Index for path, parsing and caching it under
// its content fingerprint if this is the first request for that
// fingerprint, or joining an in-flight parse for the same binary.
func (c *Cache) Get(path string) (*Index, error) {
	fp, err := Fingerprint(path)
	if err != nil {
		return nil, err
	}

	if idx, ok := c.lru.Get(fp); ok {
		telemetry.RecordDWARFCacheHit(context.Background())
		return idx, nil
	}

	c.inflightMu.Lock()
	if p, ok := c.inflight[fp]; ok {
		c.inflightMu.Unlock()
		<-p.done
		return p.index, p.err
	}
	telemetry.RecordDWARFCacheMiss(context.Background())
	p := &pendingParse{done: make(chan struct{})}
	c.inflight[fp] = p
	c.inflightMu.Unlock()

	idx, err := Parse(path, c.demangler)
	p.index, p.err = idx, err
	close(p.done)

	c.inflightMu.Lock()
	delete(c.inflight, fp)
	c.inflightMu.Unlock()

	if err == nil {
		c.lru.Add(fp, idx)
	}
	return idx, err
}

// Invalidate drops any cached index for path's current content, so the
// next Get reparses it. Used when a binary is rebuilt under the same
// path between sessions.
func (c *Cache) Invalidate(path string) {
	fp, err := Fingerprint(path)
	if err != nil {
		return
	}
	c.lru.Remove(fp)
}
