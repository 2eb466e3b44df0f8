// Package storecache memoizes one *store.Store per domain for a project
// root, so every subsystem touching the same domain's state.json shares a
// single in-memory copy instead of racing independent snapshots against
// each other's writes. The coordinator's mutation lock only serializes
// mutations that flow through the same Store instance — the internal/api
// handlers (which hand the resolved Store to internal/upload,
// internal/frontier and internal/probe) and internal/streaming all resolve a
// domain's Store through one Cache so a single request path never sees two
// diverging copies of the same domain's state.
package storecache

import (
	"sync"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
)

// Cache lazily opens and memoizes a *store.Store per domain key.
type Cache struct {
	projectRoot string

	mu     sync.Mutex
	stores map[string]*store.Store
}

// New constructs a Cache rooted at projectRoot. No stores are opened until
// first use.
func New(projectRoot string) *Cache {
	return &Cache{projectRoot: projectRoot, stores: map[string]*store.Store{}}
}

// Get returns the memoized Store for domain, opening (and materializing)
// it on first request.
func (c *Cache) Get(domain string) (*store.Store, error) {
	key := domainkey.FromHost(domain)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stores[key]; ok {
		return s, nil
	}
	s, err := store.Open(c.projectRoot, key)
	if err != nil {
		return nil, err
	}
	c.stores[key] = s
	return s, nil
}

// Domains returns every domain key opened so far, unordered.
func (c *Cache) Domains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.stores))
	for k := range c.stores {
		out = append(out, k)
	}
	return out
}
