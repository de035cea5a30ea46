package node

import (
	"sort"

	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/bloom"
	"github.com/weicao/cascadb/cascaerr"
	"github.com/weicao/cascadb/invariant"
	"github.com/weicao/cascadb/message"
)

func (n *Node) ensureInnerFullLoadedLocked(ctx Ctx) error {
	if err := n.loadPivotBufferLocked(ctx, -1); err != nil {
		return err
	}
	for i := range n.inner.Pivots {
		if err := n.loadPivotBufferLocked(ctx, i); err != nil {
			return err
		}
	}
	n.setStatus(StatusFullLoaded)
	return nil
}

// loadPivotBufferLocked fetches the buffer for pivot i (-1 means the
// node's FirstBuffer) if not already resident. Caller holds the write
// latch.
func (n *Node) loadPivotBufferLocked(ctx Ctx, i int) error {
	var offset, length, uncompressed uint32
	var crc uint16
	var loaded **message.Buffer
	if i < 0 {
		if n.inner.FirstBuffer != nil {
			return nil
		}
		offset, length, uncompressed, crc = n.inner.FirstOffset, n.inner.FirstLength, n.inner.FirstUncomp, n.inner.FirstCRC
		loaded = &n.inner.FirstBuffer
	} else {
		p := n.inner.Pivots[i]
		if p.Buffer != nil {
			return nil
		}
		offset, length, uncompressed, crc = p.Offset, p.Length, p.Uncompressed, p.CRC
		loaded = &n.inner.Pivots[i].Buffer
	}
	if length == 0 {
		*loaded = message.New(n.cmp)
		return nil
	}
	stored, err := ctx.ReadRange(n.ID, int64(offset), int(length))
	if err != nil {
		return err
	}
	raw, err := decodeSegment(stored, uncompressed, crc, ctx.Options())
	if err != nil {
		return err
	}
	buf := message.New(n.cmp)
	r := block.Wrap(raw, len(raw)).Reader()
	if !buf.ReadFrom(r) {
		return cascaerr.ErrCorruptBlock
	}
	*loaded = buf
	return nil
}

// childIndex returns -1 for the FirstChild slot, or the pivot index i
// meaning "the slot whose left boundary is Pivots[i].Key", for the
// child that should hold key. Pivots are kept sorted by Key.
func (n *Node) childIndex(key []byte) int {
	ps := n.inner.Pivots
	idx := sort.Search(len(ps), func(i int) bool {
		return n.cmp.Compare(ps[i].Key, key) > 0
	})
	return idx - 1
}

// ChildID returns the id of the child that should hold key.
func (n *Node) ChildID(key []byte) ID {
	n.RLock()
	defer n.RUnlock()
	i := n.childIndex(key)
	if i < 0 {
		return n.inner.FirstChild
	}
	return n.inner.Pivots[i].Child
}

// WriteMsg inserts msg into the buffer of the child subtree that owns
// its key (spec.md §4.5.2 step 3: "the message is appended to the
// buffer of the target pivot"). Unlike LookupBuffered, a write upgrades
// the whole node to FullLoaded rather than loading only the target
// buffer: spec.md §4.5.2 step 3 says a SkeletonLoaded node is upgraded
// to FullLoaded before the write, not just the one pivot being written
// to — the bloom-gated single-buffer load spec.md §4.5.7 describes is a
// read-path (lookup) optimization only.
func (n *Node) WriteMsg(ctx Ctx, msg message.Message) error {
	if err := n.EnsureFullLoaded(ctx); err != nil {
		return err
	}
	n.Lock()
	defer n.Unlock()
	i := n.childIndex(msg.Key)
	if i < 0 {
		n.inner.FirstBuffer.Write(msg)
	} else {
		n.inner.Pivots[i].Buffer.Write(msg)
	}
	n.SetDirty(true)
	return nil
}

// LookupBuffered checks the buffer that would own key for a pending
// message, without descending further. A hit here is always more
// recent than anything stored deeper in the tree (spec.md §4.5.3). When
// the node is still SkeletonLoaded this loads at most the one target
// pivot's buffer, gated by that pivot's bloom filter, rather than
// upgrading the whole node (spec.md §4.5.7 step 2).
func (n *Node) LookupBuffered(ctx Ctx, key []byte) (message.Message, bool, error) {
	n.RLock()
	full := n.status == StatusFullLoaded
	n.RUnlock()
	if full {
		n.RLock()
		defer n.RUnlock()
		return n.findBufferedLocked(key)
	}

	n.Lock()
	defer n.Unlock()
	if n.status == StatusFullLoaded {
		return n.findBufferedLocked(key)
	}
	i := n.childIndex(key)
	var filter []byte
	if i < 0 {
		filter = n.inner.FirstBloom
	} else {
		filter = n.inner.Pivots[i].Bloom
	}
	if !bloom.Matches(key, filter) {
		return message.Message{}, false, nil
	}
	if err := n.loadPivotBufferLocked(ctx, i); err != nil {
		return message.Message{}, false, err
	}
	return n.findBufferedLocked(key)
}

// findBufferedLocked looks key up in whichever buffer owns it. Caller
// holds at least the read latch and must already have ensured that
// buffer is loaded.
func (n *Node) findBufferedLocked(key []byte) (message.Message, bool, error) {
	i := n.childIndex(key)
	if i < 0 {
		m, ok := n.inner.FirstBuffer.Find(key)
		return m, ok, nil
	}
	m, ok := n.inner.Pivots[i].Buffer.Find(key)
	return m, ok, nil
}

// heaviestBuffer returns (slotIndex, count) for the slot with the most
// buffered messages, -1 meaning FirstChild.
func (n *Node) heaviestBuffer() (int, int) {
	best, bestCount := -1, n.inner.FirstBuffer.Count()
	for i, p := range n.inner.Pivots {
		if c := p.Buffer.Count(); c > bestCount {
			best, bestCount = i, c
		}
	}
	return best, bestCount
}

// heaviestBufferBySize returns (slotIndex, bytes) for the slot whose
// buffer occupies the most bytes, -1 meaning FirstChild. Used when a
// cascade is provoked by the byte-size threshold rather than the
// message-count threshold (spec.md §4.5.3): draining by count there
// could keep picking a slot full of many small messages while a
// different slot holding a few large values never gets relieved.
func (n *Node) heaviestBufferBySize() (int, int) {
	best, bestBytes := -1, n.inner.FirstBuffer.SizeBytes()
	for i, p := range n.inner.Pivots {
		if s := p.Buffer.SizeBytes(); s > bestBytes {
			best, bestBytes = i, s
		}
	}
	return best, bestBytes
}

// CascadeTrigger identifies which of NeedsCascade's two thresholds, if
// any, is currently exceeded.
type CascadeTrigger int

const (
	TriggerNone CascadeTrigger = iota
	TriggerCount
	TriggerSize
)

// cascadeTrigger reports whether this inner node has accumulated enough
// buffered messages to push work down to a child, and which threshold
// fired (spec.md §4.5.2 step "maybe_cascade", §4.5.3's two-branch
// selection).
func (n *Node) cascadeTrigger(msgCountLimit int, pageSize int) CascadeTrigger {
	n.RLock()
	defer n.RUnlock()
	if msgCountLimit > 0 && n.MsgCount() >= msgCountLimit {
		return TriggerCount
	}
	if n.innerSize() >= pageSize {
		return TriggerSize
	}
	return TriggerNone
}

// NeedsCascade reports whether this inner node has accumulated enough
// buffered messages (by page size or message count, either threshold)
// to push work down to a child (spec.md §4.5.2 step "maybe_cascade").
func (n *Node) NeedsCascade(msgCountLimit int, pageSize int) bool {
	return n.cascadeTrigger(msgCountLimit, pageSize) != TriggerNone
}

// NeedsInnerSplit reports whether the inner node has accumulated more
// children than the configured fanout allows.
func (n *Node) NeedsInnerSplit(childrenLimit int) bool {
	n.RLock()
	defer n.RUnlock()
	return childrenLimit > 0 && len(n.inner.Pivots)+1 > childrenLimit
}

// DrainHeaviest removes and returns every message buffered for the
// most heavily loaded child slot, plus that child's id, so the caller
// can cascade them into the child (spec.md §4.5.2 step 4-5). trigger
// selects which notion of "heaviest" applies: TriggerCount picks the
// slot with the most buffered messages, TriggerSize picks the slot
// occupying the most bytes (spec.md §4.5.3).
func (n *Node) DrainHeaviest(ctx Ctx, trigger CascadeTrigger) (childID ID, msgs []message.Message, err error) {
	if err := n.EnsureFullLoaded(ctx); err != nil {
		return NilID, nil, err
	}
	n.Lock()
	defer n.Unlock()
	var i, count int
	if trigger == TriggerSize {
		i, count = n.heaviestBufferBySize()
	} else {
		i, count = n.heaviestBuffer()
	}
	if count == 0 {
		return NilID, nil, nil
	}
	if i < 0 {
		msgs = n.inner.FirstBuffer.Messages()
		n.inner.FirstBuffer.Clear()
		childID = n.inner.FirstChild
	} else {
		p := n.inner.Pivots[i]
		msgs = p.Buffer.Messages()
		p.Buffer.Clear()
		childID = p.Child
	}
	n.SetDirty(true)
	return childID, msgs, nil
}

// IsBottom reports whether this inner node's children are leaves.
func (n *Node) IsBottom() bool {
	n.RLock()
	defer n.RUnlock()
	return n.inner.Bottom
}

// FirstChildID returns the id stored in the FirstChild slot.
func (n *Node) FirstChildID() ID {
	n.RLock()
	defer n.RUnlock()
	return n.inner.FirstChild
}

// SetFirstChild installs id as the FirstChild slot (used when building
// a fresh root over two children after a split/pileup).
func (n *Node) SetFirstChild(id ID) {
	n.Lock()
	defer n.Unlock()
	n.inner.FirstChild = id
	n.SetDirty(true)
}

// AddPivot inserts a new pivot (separator key, child id) in sorted
// position, with a fresh empty buffer and nil bloom filter (spec.md
// §4.5.6's add_pivot, invoked after a child split).
func (n *Node) AddPivot(key []byte, child ID) {
	n.Lock()
	defer n.Unlock()
	idx := sort.Search(len(n.inner.Pivots), func(i int) bool {
		return n.cmp.Compare(n.inner.Pivots[i].Key, key) >= 0
	})
	p := &Pivot{Key: append([]byte(nil), key...), Child: child, Buffer: message.New(n.cmp)}
	n.inner.Pivots = append(n.inner.Pivots, nil)
	copy(n.inner.Pivots[idx+1:], n.inner.Pivots[idx:len(n.inner.Pivots)-1])
	n.inner.Pivots[idx] = p
	if idx > 0 {
		invariant.Assert(n.cmp.Compare(n.inner.Pivots[idx-1].Key, key) < 0,
			"node %d: pivot %q inserted out of order after %q", n.ID, key, n.inner.Pivots[idx-1].Key)
	}
	if idx+1 < len(n.inner.Pivots) {
		invariant.Assert(n.cmp.Compare(key, n.inner.Pivots[idx+1].Key) < 0,
			"node %d: pivot %q inserted out of order before %q", n.ID, key, n.inner.Pivots[idx+1].Key)
	}
	n.SetDirty(true)
}

// PivotKeys returns every pivot's separator key, in ascending order.
func (n *Node) PivotKeys() [][]byte {
	n.RLock()
	defer n.RUnlock()
	out := make([][]byte, len(n.inner.Pivots))
	for i, p := range n.inner.Pivots {
		out[i] = append([]byte(nil), p.Key...)
	}
	return out
}

// IsEmptyInner reports whether this inner node has no pivots and no
// FirstChild, the state reaching the root only when the entire tree has
// drained empty (spec.md §4.5.6's collapse condition).
func (n *Node) IsEmptyInner() bool {
	n.RLock()
	defer n.RUnlock()
	return len(n.inner.Pivots) == 0 && n.inner.FirstChild == NilID
}

// RemoveFirstChild drops the dead FirstChild slot, matching spec.md
// §4.5.6's rm_pivot when the dying child is first_child_ rather than a
// regular pivot: if a pivot remains, pivots_[0] (and its buffer) shifts
// into the FirstChild slot and is erased; otherwise the node itself is
// now empty and emptied is reported so the caller can propagate the
// death upward (or collapse, if the caller is the root).
func (n *Node) RemoveFirstChild() (emptied bool) {
	n.Lock()
	defer n.Unlock()
	if len(n.inner.Pivots) == 0 {
		n.inner.FirstChild = NilID
		n.SetDirty(true)
		return true
	}
	p := n.inner.Pivots[0]
	n.inner.FirstChild = p.Child
	n.inner.FirstBuffer = p.Buffer
	n.inner.FirstBloom = p.Bloom
	n.inner.Pivots = n.inner.Pivots[1:]
	n.SetDirty(true)
	return false
}

// RemovePivot drops the pivot at key and merges its buffered messages
// back into the slot immediately to its left (spec.md §4.5.6's
// rm_pivot, invoked after a child merge).
func (n *Node) RemovePivot(key []byte) {
	n.Lock()
	defer n.Unlock()
	idx := -1
	for i, p := range n.inner.Pivots {
		if n.cmp.Compare(p.Key, key) == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	orphaned := n.inner.Pivots[idx].Buffer.Messages()
	n.inner.Pivots = append(n.inner.Pivots[:idx], n.inner.Pivots[idx+1:]...)
	if idx == 0 {
		n.inner.FirstBuffer.AppendRange(orphaned)
	} else {
		n.inner.Pivots[idx-1].Buffer.AppendRange(orphaned)
	}
	n.SetDirty(true)
}

// splitInner halves the pivot list between the receiver (left) and a
// fresh right sibling, returning the promoted separator (the first
// surviving right pivot's key, which becomes the right node's FirstChild
// boundary) (spec.md §4.5.6's inner split).
func (n *Node) splitInner(ctx Ctx) (right *Node, separator []byte, err error) {
	n.Lock()
	defer n.Unlock()

	r, err := ctx.NewInnerNode()
	if err != nil {
		return nil, nil, err
	}
	r.Lock()
	defer r.Unlock()
	r.inner.Bottom = n.inner.Bottom

	mid := len(n.inner.Pivots) / 2
	sep := n.inner.Pivots[mid]
	separator = sep.Key

	r.inner.FirstChild = sep.Child
	r.inner.FirstBuffer = sep.Buffer
	r.inner.Pivots = append([]*Pivot(nil), n.inner.Pivots[mid+1:]...)
	n.inner.Pivots = n.inner.Pivots[:mid]

	n.SetDirty(true)
	r.SetDirty(true)
	return r, separator, nil
}
