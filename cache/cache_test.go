package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/weicao/cascadb/cascadblog"
	"github.com/weicao/cascadb/iofile"
	"github.com/weicao/cascadb/layout"
	"github.com/weicao/cascadb/node"
	"github.com/weicao/cascadb/options"
)

func tempCachePath(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "cascadb_cache_test")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, name)
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })
	return path
}

func newTestCache(t *testing.T, name string) (*Cache, *layout.Layout) {
	t.Helper()
	l, err := layout.Open(iofile.OSDirectory{}, tempCachePath(t, name))
	if err != nil {
		t.Fatalf("layout.Open: %v", err)
	}
	o := options.Default()
	c := New(l, o, cascadblog.Nop)
	t.Cleanup(func() { l.Close() })
	return c, l
}

// TestRegisterGetRelease covers the basic refcounted resident-node path:
// a freshly registered node is returned by Get without touching layout.
func TestRegisterGetRelease(t *testing.T) {
	c, _ := newTestCache(t, "basic.casc")

	n := node.NewLeaf(node.LeafStart+1, options.BytewiseComparator, options.Default().LeafNodeBucketSize)
	n.IncRef()
	c.Register(n)

	got, err := c.Get(n.ID, options.BytewiseComparator)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != n {
		t.Fatalf("Get returned a different node than was registered")
	}
	if got.RefCount() != 2 {
		t.Fatalf("RefCount = %d, want 2 (Register's caller + Get's caller)", got.RefCount())
	}
	c.Release(got)
	c.Release(n)
	if n.RefCount() != 0 {
		t.Fatalf("RefCount after two Releases = %d, want 0", n.RefCount())
	}
}

// TestFlushNodeThenReload covers the dirty-flush-then-cold-load path:
// flushing a dirty node and removing it from the table, then fetching it
// again, must read back the same skeleton through layout.
func TestFlushNodeThenReload(t *testing.T) {
	c, _ := newTestCache(t, "flush.casc")
	o := options.Default()

	n := node.NewLeaf(node.LeafStart+1, options.BytewiseComparator, o.LeafNodeBucketSize)
	n.IncRef()
	c.Register(n)
	n.SetDirty(true)

	if err := c.FlushNode(n); err != nil {
		t.Fatalf("FlushNode: %v", err)
	}
	if n.IsDirty() {
		t.Fatalf("node should be clean after FlushNode")
	}

	// Evict it through the LRU path: that drops the clean, unreferenced
	// node from the table but keeps its block (Remove would delete it).
	c.Release(n)
	c.o.CacheLimit = 1
	c.o.CacheEvictHighWatermark = 0
	c.o.CacheEvictRatio = 100
	c.evictTick()
	if _, err := c.Get(n.ID, options.BytewiseComparator); err != nil {
		t.Fatalf("Get after evict+reload: %v", err)
	}
}

// TestEvictTickSparesPinnedAndDirty covers cache/cache.go's eviction
// rule: a node with an outstanding reference, or one that is dirty, must
// survive an eviction pass even when the cache is over its watermark.
func TestEvictTickSparesPinnedAndDirty(t *testing.T) {
	c, _ := newTestCache(t, "evict.casc")
	c.o.CacheLimit = 1
	c.o.CacheEvictHighWatermark = 0
	c.o.CacheEvictRatio = 100

	pinned := node.NewLeaf(node.LeafStart+1, options.BytewiseComparator, c.o.LeafNodeBucketSize)
	pinned.IncRef()
	c.Register(pinned) // refcount 1: the caller still holds it

	dirty := node.NewLeaf(node.LeafStart+2, options.BytewiseComparator, c.o.LeafNodeBucketSize)
	c.Register(dirty) // refcount 0, but dirty
	dirty.SetDirty(true)

	cold := node.NewLeaf(node.LeafStart+3, options.BytewiseComparator, c.o.LeafNodeBucketSize)
	c.Register(cold) // refcount 0: the caller didn't keep a reference

	c.evictTick()

	if _, ok := c.table[pinned.ID]; !ok {
		t.Fatalf("a referenced node must not be evicted")
	}
	if _, ok := c.table[dirty.ID]; !ok {
		t.Fatalf("a dirty node must not be evicted")
	}
	if _, ok := c.table[cold.ID]; ok {
		t.Fatalf("an unreferenced, clean node should have been evicted")
	}
}
