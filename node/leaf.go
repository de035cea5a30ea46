package node

import (
	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/cascaerr"
	"github.com/weicao/cascadb/message"
	"github.com/weicao/cascadb/record"
)

// EnsureFullLoaded upgrades a SkeletonLoaded node to FullLoaded,
// fetching each buffer/bucket that is not yet resident with its own
// ctx.ReadRange call. Mutations and leaf Find use it; inner-node
// lookups (LookupBuffered) load only the one buffer they need.
func (n *Node) EnsureFullLoaded(ctx Ctx) error {
	n.RLock()
	done := n.status == StatusFullLoaded
	n.RUnlock()
	if done {
		return nil
	}
	n.Lock()
	defer n.Unlock()
	if n.status == StatusFullLoaded {
		return nil
	}
	switch n.Kind {
	case KindLeaf:
		return n.ensureLeafFullLoadedLocked(ctx)
	case KindInner:
		return n.ensureInnerFullLoadedLocked(ctx)
	default:
		n.setStatus(StatusFullLoaded)
		return nil
	}
}

func (n *Node) ensureLeafFullLoadedLocked(ctx Ctx) error {
	if n.leaf.recordBuckets == nil {
		n.leaf.recordBuckets = record.NewBuckets(ctx.Options().LeafNodeBucketSize, n.cmp)
	}
	for i := range n.leaf.descriptors {
		if err := n.loadBucketLocked(ctx, i); err != nil {
			return err
		}
	}
	n.setStatus(StatusFullLoaded)
	return nil
}

// loadBucketLocked fetches bucket i's records if not already resident.
// Caller holds the write latch. ReadRange returns the bucket's stored
// bytes; decodeSegment CRC-checks and decompresses them before the
// record list is decoded.
func (n *Node) loadBucketLocked(ctx Ctx, i int) error {
	bi := &n.leaf.descriptors[i]
	if bi.Bucket != nil {
		return nil
	}
	stored, err := ctx.ReadRange(n.ID, int64(bi.Offset), int(bi.Length))
	if err != nil {
		return err
	}
	raw, err := decodeSegment(stored, bi.Uncompressed, bi.CRC, ctx.Options())
	if err != nil {
		return err
	}
	b := &record.Bucket{}
	r := block.Wrap(raw, len(raw)).Reader()
	if !b.ReadFrom(r) {
		return cascaerr.ErrCorruptBlock
	}
	bi.Bucket = b
	list := n.leaf.recordBuckets.List()
	for len(list) <= i {
		list = append(list, nil)
	}
	list[i] = b
	n.leaf.recordBuckets.SetList(list)
	return nil
}

// Find looks up key in a leaf. The leaf is always upgraded to
// FullLoaded first (a no-op when it already is), since record.Buckets'
// sorted search needs every bucket's FirstKey resident; buckets are not
// loaded one at a time for lookups.
func (n *Node) Find(ctx Ctx, key []byte) ([]byte, bool, error) {
	if err := n.EnsureFullLoaded(ctx); err != nil {
		return nil, false, err
	}
	n.RLock()
	defer n.RUnlock()
	rec, ok := n.leaf.recordBuckets.Get(key)
	if !ok {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// ApplyMessages merges a cascaded, sorted batch of messages into the
// leaf's records: Put overwrites or inserts, Del removes an existing
// record or is dropped if absent (spec.md §4.5.9).
func (n *Node) ApplyMessages(ctx Ctx, msgs []message.Message) error {
	if err := n.EnsureFullLoaded(ctx); err != nil {
		return err
	}
	n.Lock()
	defer n.Unlock()
	for _, m := range msgs {
		switch m.Kind {
		case message.Put:
			rec := record.Record{Key: m.Key, Value: m.Value}
			if _, ok := n.leaf.recordBuckets.Get(m.Key); ok {
				n.leaf.recordBuckets.Replace(m.Key, rec)
			} else {
				n.leaf.recordBuckets.Insert(rec)
			}
		case message.Del:
			n.leaf.recordBuckets.Delete(m.Key)
		}
	}
	n.resyncLeafDescriptorsLocked()
	n.SetDirty(true)
	return nil
}

// resyncLeafDescriptorsLocked rebuilds the descriptor list from the
// authoritative recordBuckets after a mutation. Caller holds the write
// latch.
func (n *Node) resyncLeafDescriptorsLocked() {
	list := n.leaf.recordBuckets.List()
	out := make([]BucketInfo, 0, len(list))
	for _, b := range list {
		out = append(out, BucketInfo{FirstKey: append([]byte(nil), b.FirstKey()...), Bucket: b})
	}
	n.leaf.descriptors = out
}

// NeedsLeafSplit reports whether the leaf has grown past its configured
// page size or record-count threshold.
func (n *Node) NeedsLeafSplit(leafPage int, leafRecordCount int) bool {
	n.RLock()
	defer n.RUnlock()
	if leafRecordCount > 0 && n.leaf.recordBuckets.RecordCount() > leafRecordCount {
		return true
	}
	return n.leafSize() > leafPage
}

// NeedsMerge reports whether the leaf has become empty and should be
// merged away (spec.md §4.5.5).
func (n *Node) NeedsMerge() bool {
	n.RLock()
	defer n.RUnlock()
	return n.leaf.recordBuckets.Empty()
}

// Sibling returns the left and right sibling ids (NilID if absent).
func (n *Node) Sibling() (left, right ID) {
	n.RLock()
	defer n.RUnlock()
	return n.leaf.LeftSibling, n.leaf.RightSibling
}

// SetLeftSibling installs id as the leaf's left-sibling link (used to
// relink the doubly-linked sibling chain around a split or merged-away
// leaf; spec.md §3, §8).
func (n *Node) SetLeftSibling(id ID) {
	n.Lock()
	defer n.Unlock()
	n.leaf.LeftSibling = id
	n.SetDirty(true)
}

// SetRightSibling installs id as the leaf's right-sibling link.
func (n *Node) SetRightSibling(id ID) {
	n.Lock()
	defer n.Unlock()
	n.leaf.RightSibling = id
	n.SetDirty(true)
}

// SetBalancing toggles the single-concurrent-rebalance guard, returning
// false if a rebalance is already in progress (spec.md §4.5.5).
func (n *Node) SetBalancing(v bool) bool {
	n.Lock()
	defer n.Unlock()
	if v && n.leaf.balancing {
		return false
	}
	n.leaf.balancing = v
	return true
}

// Keys returns every record key currently resident in the leaf, in
// ascending order. Callers must have ensured the leaf is FullLoaded.
func (n *Node) Keys() [][]byte {
	n.RLock()
	defer n.RUnlock()
	var out [][]byte
	for _, b := range n.leaf.recordBuckets.List() {
		for _, rec := range b.Records {
			out = append(out, append([]byte(nil), rec.Key...))
		}
	}
	return out
}

// Split dispatches to the leaf or inner split implementation based on
// the node's Kind.
func (n *Node) Split(ctx Ctx) (right *Node, separator []byte, err error) {
	switch n.Kind {
	case KindLeaf:
		return n.splitLeaf(ctx)
	case KindInner:
		return n.splitInner(ctx)
	default:
		return nil, nil, nil
	}
}

// splitLeaf allocates a new right-sibling leaf, moves the upper half of
// records into it, relinks the sibling chain (including the old right
// neighbor's back-pointer, so the list stays consistent in both
// directions), and returns the promoted separator key for the parent's
// add_pivot. If a rebalance is already in progress on this leaf
// (spec.md §4.5.5's single-concurrent-rebalance guard), it returns
// immediately with a nil right.
func (n *Node) splitLeaf(ctx Ctx) (right *Node, separator []byte, err error) {
	if !n.SetBalancing(true) {
		return nil, nil, nil
	}
	defer n.SetBalancing(false)

	n.Lock()
	defer n.Unlock()

	r, err := ctx.NewLeafNode()
	if err != nil {
		return nil, nil, err
	}
	r.Lock()
	defer r.Unlock()

	separator = n.leaf.recordBuckets.Split(r.leaf.recordBuckets)

	oldRight := n.leaf.RightSibling
	r.leaf.RightSibling = oldRight
	r.leaf.LeftSibling = n.ID
	n.leaf.RightSibling = r.ID

	n.resyncLeafDescriptorsLocked()
	r.resyncLeafDescriptorsLocked()
	n.SetDirty(true)
	r.SetDirty(true)

	if oldRight != NilID {
		neighbor, err := ctx.LoadNode(oldRight, false)
		if err != nil {
			return nil, nil, err
		}
		neighbor.SetLeftSibling(r.ID)
		ctx.DecRef(neighbor)
	}

	return r, separator, nil
}
