package node

import "github.com/weicao/cascadb/options"

// Ctx is the opaque context handle every node operation takes instead of
// a back-pointer to the owning tree (spec.md §9, Design Note 1: "cyclic
// references between tree and nodes"). It is implemented by the tree
// package so that node never imports tree/cache/layout directly.
type Ctx interface {
	// NewInnerNode allocates a fresh inner node id, registers it with
	// the cache (refcount 1), and returns it.
	NewInnerNode() (*Node, error)
	// NewLeafNode allocates a fresh leaf node id, registers it with the
	// cache (refcount 1), and returns it.
	NewLeafNode() (*Node, error)

	// LoadNode fetches a node by id (read-through the cache into the
	// layout), incrementing its refcount for the caller.
	LoadNode(id ID, skeletonOnly bool) (*Node, error)

	// ReadRange performs a page-aligned sub-range read of node id's
	// on-disk body, offset relative to the start of id's payload (after
	// its skeleton prefix). Used to lazily load one buffer or bucket.
	ReadRange(id ID, relOffset int64, length int) ([]byte, error)

	// LoadBody fetches the full on-disk body (every buffer/bucket blob)
	// for id in one read. The node package does not call it: both the
	// SkeletonLoaded->FullLoaded upgrade and bloom-gated lookups load
	// buffers and buckets through ReadRange.
	LoadBody(id ID) ([]byte, error)

	// DecRef releases the caller's reference to n.
	DecRef(n *Node)

	// RootID returns the tree's current root id, for the stale-root
	// retry check in inner-node writes (spec.md §4.5.2 step 2).
	RootID() ID

	// Pileup installs newRoot as the tree's root after a root split.
	Pileup(newRoot *Node)

	// Collapse installs a fresh empty root after the tree's root dies.
	Collapse() (*Node, error)

	Comparator() options.Comparator
	Options() options.Options
}
