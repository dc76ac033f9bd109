package extract

import (
	"context"
	"sync"

	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
)

// Child is the extracted data of one nested entry. The textual fields are
// safe to reuse for the rest of the session; the node handle is weak and
// must be re-validated against the tree before use.
type Child struct {
	Token       string
	Description string
	Points      float64

	// Node is the backing tree node, nil after invalidation.
	Node dom.Node
}

// Entry caches one group's extraction so a later pass performs no
// expand/collapse interaction at all.
type Entry struct {
	GroupID  string
	Children []Child

	// Node is the group's own tree node, nil after invalidation.
	Node dom.Node
}

// Cache stores extracted group data keyed by group id. Invalidation is
// lazy: when a cached node is found detached, only the handle is dropped;
// the extracted text stays valid as the last known content. The cache is
// written by the pipeline's thread of control only.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Get returns the cached entry for groupID. Stale node handles are dropped
// before the entry is handed out; the textual data always survives.
func (c *Cache) Get(ctx context.Context, groupID string) (*Entry, bool) {
	c.mu.Lock()
	entry, ok := c.entries[groupID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	if entry.Node != nil {
		attached, err := entry.Node.Attached(ctx)
		if err != nil || !attached {
			logging.ExtractDebug("cache: group %s node went stale, dropping handles", groupID)
			entry.Node = nil
			for i := range entry.Children {
				entry.Children[i].Node = nil
			}
		}
	}
	return entry, true
}

// Put stores an entry, replacing any previous extraction of the group.
func (c *Cache) Put(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.GroupID] = entry
}

// Rebind restores the weak handles of a cached group after re-resolution.
func (c *Cache) Rebind(groupID string, node dom.Node, children map[string]dom.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[groupID]
	if !ok {
		return
	}
	entry.Node = node
	for i := range entry.Children {
		if n, ok := children[entry.Children[i].Token]; ok {
			entry.Children[i].Node = n
		}
	}
}

// Clear drops everything; called at the start of each grading run.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len reports the number of cached groups.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
