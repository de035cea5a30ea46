// Package tree owns the schema node, implements node.Ctx so the node
// package never needs a back-reference, and exposes the buffered
// B-tree's three public operations: Put, Del, and Get (spec.md §4.5
// and §4.6).
package tree

import (
	"sync"

	"github.com/weicao/cascadb/cache"
	"github.com/weicao/cascadb/invariant"
	"github.com/weicao/cascadb/message"
	"github.com/weicao/cascadb/node"
	"github.com/weicao/cascadb/options"
)

// Tree is the buffered B-tree proper: a schema node (holding the root
// id and id counters) plus the cache it reads and writes nodes through.
type Tree struct {
	cache *cache.Cache
	o     options.Options

	mu     sync.RWMutex // guards schema swaps during pileup/collapse
	schema *node.Node
}

// Open loads (or, on a fresh file, creates) the schema node and the
// tree's root, returning a Tree ready for Put/Del/Get.
func Open(c *cache.Cache, o options.Options) (*Tree, error) {
	t := &Tree{cache: c, o: o}

	schema, err := c.Get(node.SchemaID, o.Comparator)
	if err != nil {
		schema = node.NewSchema(o.Comparator)
		c.Register(schema)
		t.schema = schema
		root, err := t.newInnerLocked(true)
		if err != nil {
			return nil, err
		}
		schema.Schema().SetRoot(root.ID, false)
		t.cache.Release(root)
	}
	t.schema = schema
	return t, nil
}

func (t *Tree) newLeafLocked() (*node.Node, error) {
	t.schema.Lock()
	id := t.schema.Schema().NextLeafID()
	t.schema.Unlock()
	n := node.NewLeaf(id, t.o.Comparator, t.o.LeafNodeBucketSize)
	t.cache.Register(n)
	n.IncRef()
	return n, nil
}

func (t *Tree) newInnerLocked(bottom bool) (*node.Node, error) {
	t.schema.Lock()
	id := t.schema.Schema().NextInnerID()
	t.schema.Unlock()
	n := node.NewInner(id, t.o.Comparator, bottom)
	t.cache.Register(n)
	n.IncRef()
	return n, nil
}

// --- node.Ctx ---

func (t *Tree) NewInnerNode() (*node.Node, error) { return t.newInnerLocked(false) }
func (t *Tree) NewLeafNode() (*node.Node, error)  { return t.newLeafLocked() }

func (t *Tree) LoadNode(id node.ID, _ bool) (*node.Node, error) {
	return t.cache.Get(id, t.o.Comparator)
}

func (t *Tree) ReadRange(id node.ID, relOffset int64, length int) ([]byte, error) {
	return t.layoutReadRange(id, relOffset, length)
}

func (t *Tree) LoadBody(id node.ID) ([]byte, error) {
	return t.layoutLoadBody(id)
}

func (t *Tree) DecRef(n *node.Node) { t.cache.Release(n) }

func (t *Tree) RootID() node.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.schema.Schema().RootID()
}

func (t *Tree) Pileup(newRoot *node.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schema.Lock()
	t.schema.Schema().SetRoot(newRoot.ID, true)
	t.schema.Unlock()
}

func (t *Tree) Collapse() (*node.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.newInnerLocked(true)
	if err != nil {
		return nil, err
	}
	t.schema.Lock()
	t.schema.Schema().SetRoot(n.ID, false)
	t.schema.Unlock()
	return n, nil
}

func (t *Tree) Comparator() options.Comparator { return t.o.Comparator }
func (t *Tree) Options() options.Options       { return t.o }

var _ node.Ctx = (*Tree)(nil)

// root fetches the current root for a read. It does not retry; the
// stale-root retry for writes lives in apply.
func (t *Tree) root() (*node.Node, error) {
	id := t.RootID()
	return t.LoadNode(id, false)
}

// Put inserts or overwrites key with value.
func (t *Tree) Put(key, value []byte) error {
	return t.apply(message.Message{Kind: message.Put, Key: key, Value: value})
}

// Del removes key, if present.
func (t *Tree) Del(key []byte) error {
	return t.apply(message.Message{Kind: message.Del, Key: key})
}

func (t *Tree) apply(m message.Message) error {
	for {
		rootID := t.RootID()
		root, err := t.LoadNode(rootID, false)
		if err != nil {
			return err
		}
		if root.ID != rootID || t.RootID() != rootID {
			t.cache.Release(root)
			continue
		}

		if err := root.WriteMsg(t, m); err != nil {
			t.cache.Release(root)
			return err
		}
		emptied, err := node.MaybeCascade(t, root, t.o)
		if err != nil {
			t.cache.Release(root)
			return err
		}
		if emptied {
			// The root's own subtree drained down to nothing (spec.md
			// §4.5.6's collapse: the FirstChild died with no pivots left
			// to absorb its place). Retire this root and install a fresh
			// empty one rather than ever promoting a surviving child.
			invariant.Assert(root.IsEmptyInner(), "tree: root %d reported emptied but still has pivots or a first child", root.ID)
			root.SetDead()
			newRoot, err := t.Collapse()
			if err != nil {
				t.cache.Release(root)
				return err
			}
			t.cache.Release(newRoot)
		} else if err := node.PileupIfNeeded(t, root, t.o); err != nil {
			t.cache.Release(root)
			return err
		}
		t.cache.Release(root)
		return nil
	}
}

// Get looks up key, checking every inner node's buffer along the
// descent path before trusting what is stored deeper (spec.md §4.5.3:
// a buffered write shadows whatever is currently on disk below it).
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	n, err := t.root()
	if err != nil {
		return nil, false, err
	}
	defer t.cache.Release(n)

	for n.Kind == node.KindInner {
		if m, ok, err := n.LookupBuffered(t, key); err != nil {
			return nil, false, err
		} else if ok {
			if m.Kind == message.Del {
				return nil, false, nil
			}
			return m.Value, true, nil
		}
		childID := n.ChildID(key)
		if childID == node.NilID {
			// Bottom root with nothing under it yet (spec.md §4.6's
			// init_empty_root): the subtree is empty, not missing.
			return nil, false, nil
		}
		child, err := t.LoadNode(childID, false)
		if err != nil {
			return nil, false, err
		}
		t.cache.Release(n)
		n = child
	}
	v, ok, err := n.Find(t, key)
	if err != nil {
		return nil, false, err
	}
	return v, ok, nil
}

// layoutReadRange/layoutLoadBody are indirected through the cache's
// backing layout so Tree doesn't need its own reference to it.
func (t *Tree) layoutReadRange(id node.ID, relOffset int64, length int) ([]byte, error) {
	return t.cache.ReadRange(id, relOffset, length)
}

func (t *Tree) layoutLoadBody(id node.ID) ([]byte, error) {
	return t.cache.LoadBody(id)
}

// Flush durably writes every dirty node and the current index.
func (t *Tree) Flush() error { return t.cache.FlushAll() }

// Close stops background writeback and flushes everything durably.
func (t *Tree) Close() error { return t.cache.Close() }
