// Package cache implements the in-memory node cache sitting between the
// tree and layout: refcount/pin/dirty bookkeeping, read-through loads,
// and a background writeback/eviction goroutine honoring the
// cache_dirty_*/cache_writeback_*/cache_evict_* watermarks (spec.md
// §4.8).
//
// Eviction order is tracked with an explicit LRU list rather than a
// general-purpose cache library such as ristretto: the engine must
// never evict a node that is pinned, dirty, or mid-flush, and must be
// able to name exactly which node a cascade/split/merge holds a
// reference to at any moment. That precision doesn't compose well with
// a library that evicts by its own probabilistic admission/eviction
// policy, so the cache keeps one source of truth (container/list) and
// the node's own refcount/pincount/dirty fields.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/weicao/cascadb/cascadblog"
	"github.com/weicao/cascadb/invariant"
	"github.com/weicao/cascadb/layout"
	"github.com/weicao/cascadb/node"
	"github.com/weicao/cascadb/options"
)

// Cache is the node table plus its LRU eviction order and writeback
// scheduling. One Cache backs one open database.
type Cache struct {
	layout *layout.Layout
	o      options.Options
	log    cascadblog.Logger

	mu      sync.Mutex
	table   map[node.ID]*node.Node
	lru     *list.List // of node.ID, most-recently-used at Front
	lruElem map[node.ID]*list.Element
	size    int64 // observed bytes across every resident node

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a cache bound to layout, using o for its watermarks.
func New(l *layout.Layout, o options.Options, log cascadblog.Logger) *Cache {
	return &Cache{
		layout:  l,
		o:       o,
		log:     cascadblog.Of(log),
		table:   make(map[node.ID]*node.Node),
		lru:     list.New(),
		lruElem: make(map[node.ID]*list.Element),
		stopCh:  make(chan struct{}),
	}
}

// Register adds a freshly created node (refcount already accounted by
// the caller) to the table.
func (c *Cache) Register(n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[n.ID] = n
	c.touchLocked(n.ID)
	c.size += int64(n.Size())
}

// Get returns the node for id, loading its skeleton from layout on a
// cold miss, and increments its refcount for the caller.
func (c *Cache) Get(id node.ID, cmp options.Comparator) (*node.Node, error) {
	c.mu.Lock()
	if n, ok := c.table[id]; ok {
		invariant.Assert(!n.IsDead(), "cache: re-entered dead node %d", id)
		n.IncRef()
		n.Touch()
		c.touchLocked(id)
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	n, err := c.layout.ReadSkeleton(id, cmp)
	if err != nil {
		return nil, fmt.Errorf("cache: load node %d: %w", id, err)
	}
	n.IncRef()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.table[id]; ok {
		// Lost a race with a concurrent loader; keep the winner.
		invariant.Assert(!existing.IsDead(), "cache: re-entered dead node %d", id)
		existing.IncRef()
		existing.Touch()
		c.touchLocked(id)
		return existing, nil
	}
	c.table[id] = n
	c.touchLocked(id)
	c.size += int64(n.Size())
	return n, nil
}

// Release drops the caller's reference to n.
func (c *Cache) Release(n *node.Node) {
	n.DecRef()
}

func (c *Cache) touchLocked(id node.ID) {
	if e, ok := c.lruElem[id]; ok {
		c.lru.MoveToFront(e)
		return
	}
	c.lruElem[id] = c.lru.PushFront(id)
}

// ReadRange and LoadBody pass through to the backing layout; they serve
// a node's lazy buffer/bucket loads once its skeleton is resident.
func (c *Cache) ReadRange(id node.ID, relOffset int64, length int) ([]byte, error) {
	return c.layout.ReadRange(id, relOffset, length)
}

func (c *Cache) LoadBody(id node.ID) ([]byte, error) {
	return c.layout.LoadBody(id)
}

// Remove evicts id from the table outright and deletes its block from
// the layout (used when a node dies, e.g. a merged-away leaf or a
// collapsed root).
func (c *Cache) Remove(id node.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.table[id]; ok {
		c.size -= int64(n.Size())
		delete(c.table, id)
	}
	if e, ok := c.lruElem[id]; ok {
		c.lru.Remove(e)
		delete(c.lruElem, id)
	}
	c.layout.DeleteNode(id)
}

// Size returns the cache's current observed footprint in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// FlushNode encodes n (if dirty) and writes it through layout,
// clearing its dirty flag on success.
func (c *Cache) FlushNode(n *node.Node) error {
	if !n.IsDirty() {
		return nil
	}
	n.SetFlushing(true)
	defer n.SetFlushing(false)

	enc, err := n.Encode(c.o)
	if err != nil {
		return fmt.Errorf("cache: encode node %d: %w", n.ID, err)
	}
	if err := c.layout.WriteNode(n.ID, enc.Skeleton, enc.Body); err != nil {
		return err
	}
	n.SetDirty(false)
	return nil
}

// FlushAll flushes every dirty node and durably records the resulting
// index (spec.md §6's Flush operation).
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	dead := 0
	var dirty []*node.Node
	for _, n := range c.table {
		if n.IsDead() {
			dead++
			continue
		}
		if n.IsDirty() {
			dirty = append(dirty, n)
		}
	}
	c.mu.Unlock()

	for _, n := range dirty {
		if err := c.FlushNode(n); err != nil {
			return err
		}
	}
	for id, n := range c.deadSnapshot() {
		_ = n
		c.Remove(id)
	}
	if err := c.layout.FlushMeta(); err != nil {
		return err
	}
	c.log.Debugf("cache: flushed %d dirty nodes, reclaimed %d dead (%s resident)", len(dirty), dead, humanize.Bytes(uint64(c.Size())))
	return nil
}

func (c *Cache) deadSnapshot() map[node.ID]*node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[node.ID]*node.Node)
	for id, n := range c.table {
		if n.IsDead() {
			out[id] = n
		}
	}
	return out
}

// StartWriteback launches the background goroutine that periodically
// flushes dirty nodes past the configured watermarks and evicts cold,
// unreferenced nodes once the cache exceeds its size limit.
func (c *Cache) StartWriteback() {
	c.wg.Add(1)
	go c.writebackLoop()
}

func (c *Cache) writebackLoop() {
	defer c.wg.Done()
	interval := time.Duration(c.o.CacheWritebackInterval) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.writebackTick()
			c.evictTick()
		}
	}
}

// writebackTick flushes dirty nodes oldest-dirty-first: up to
// cache_writeback_ratio percent of cache_limit, plus anything that has
// been dirty longer than cache_dirty_expire, plus as many more as it
// takes to bring the remaining dirty bytes down to
// cache_dirty_high_watermark percent of cache_limit.
func (c *Cache) writebackTick() {
	candidates := c.dirtyCandidatesLocked()
	budget := c.o.CacheLimit * int64(c.o.CacheWritebackRatio) / 100
	dirtyHigh := c.o.CacheLimit * int64(c.o.CacheDirtyHighWatermark) / 100
	var dirtyBytes int64
	for _, n := range candidates {
		dirtyBytes += int64(n.Size())
	}
	var flushed int64
	for _, n := range candidates {
		if flushed >= budget && dirtyBytes-flushed <= dirtyHigh && time.Since(n.FirstWriteTS()) < time.Duration(c.o.CacheDirtyExpire)*time.Millisecond {
			break
		}
		sz := int64(n.Size())
		if err := c.FlushNode(n); err != nil {
			c.log.Warnf("cache: writeback node %d: %v", n.ID, err)
			continue
		}
		flushed += sz
	}
}

func (c *Cache) dirtyCandidatesLocked() []*node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*node.Node
	for _, n := range c.table {
		if n.IsDirty() && !n.IsFlushing() {
			out = append(out, n)
		}
	}
	sortByFirstWrite(out)
	return out
}

func sortByFirstWrite(ns []*node.Node) {
	for i := 1; i < len(ns); i++ {
		for j := i; j > 0 && ns[j-1].FirstWriteTS().After(ns[j].FirstWriteTS()); j-- {
			ns[j-1], ns[j] = ns[j], ns[j-1]
		}
	}
}

// evictTick drops cold, unpinned, unreferenced, clean nodes from the
// LRU tail once the cache exceeds its high watermark.
func (c *Cache) evictTick() {
	high := c.o.CacheLimit * int64(c.o.CacheEvictHighWatermark) / 100
	if c.Size() <= high {
		return
	}
	budget := c.o.CacheLimit * int64(c.o.CacheEvictRatio) / 100
	var reclaimed int64
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.lru.Back(); e != nil && reclaimed < budget; {
		prev := e.Prev()
		id := e.Value.(node.ID)
		n := c.table[id]
		if n != nil && n.RefCount() == 0 && n.PinCount() == 0 && !n.IsDirty() && !n.IsFlushing() && n.Kind != node.KindSchema {
			reclaimed += int64(n.Size())
			c.size -= int64(n.Size())
			delete(c.table, id)
			c.lru.Remove(e)
			delete(c.lruElem, id)
		}
		e = prev
	}
}

// Close stops the writeback goroutine and flushes everything durably.
func (c *Cache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	if err := c.FlushAll(); err != nil {
		return err
	}
	return c.layout.Close()
}
