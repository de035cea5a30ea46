package node

import (
	"github.com/weicao/cascadb/options"
)

// MaybeCascade checks n's cascade threshold and, if exceeded, drains its
// heaviest buffer into the corresponding child, recursing into that
// child so pressure can propagate arbitrarily deep in one call (spec.md
// §4.5.2's maybe_cascade / §4.5.3's recursive cascade). It also performs
// any split/merge the drain provokes in the child, reporting back to
// the caller (n) via AddPivot/RemovePivot so the tree stays balanced
// bottom-up. The returned emptied reports whether n's own FirstChild
// died with no pivots left to absorb its place, meaning n itself is now
// an empty inner node and the death must propagate to n's caller
// (spec.md §4.5.6's rm_pivot propagation).
func MaybeCascade(ctx Ctx, n *Node, o options.Options) (emptied bool, err error) {
	for {
		if n.Kind != KindInner {
			return false, nil
		}
		trigger := n.cascadeTrigger(o.InnerNodeMsgCount, o.InnerNodePageSize)
		if trigger == TriggerNone {
			return false, nil
		}
		emptied, err = cascadeOnce(ctx, n, o, trigger)
		if err != nil || emptied {
			return emptied, err
		}
	}
}

func cascadeOnce(ctx Ctx, n *Node, o options.Options, trigger CascadeTrigger) (emptied bool, err error) {
	childID, msgs, err := n.DrainHeaviest(ctx, trigger)
	if err != nil || len(msgs) == 0 {
		return false, err
	}

	if childID == NilID {
		// The bottom root's FirstChild slot is still unset (spec.md
		// §4.5.3: permissible only when the root is bottom? and empty).
		// Allocate the tree's first leaf and cascade into it.
		leaf, err := ctx.NewLeafNode()
		if err != nil {
			return false, err
		}
		n.SetFirstChild(leaf.ID)
		childID = leaf.ID
		ctx.DecRef(leaf)
	}

	child, err := ctx.LoadNode(childID, false)
	if err != nil {
		return false, err
	}
	defer ctx.DecRef(child)

	switch child.Kind {
	case KindLeaf:
		if err := child.ApplyMessages(ctx, msgs); err != nil {
			return false, err
		}
		if child.NeedsLeafSplit(o.LeafNodePageSize, o.LeafNodeRecordCount) {
			if err := splitLeafChild(ctx, n, child); err != nil {
				return false, err
			}
			return false, nil
		}
		if child.NeedsMerge() {
			return mergeLeafChild(ctx, n, child)
		}
		return false, nil
	case KindInner:
		if err := child.EnsureFullLoaded(ctx); err != nil {
			return false, err
		}
		for _, m := range msgs {
			if err := child.WriteMsg(ctx, m); err != nil {
				return false, err
			}
		}
		childEmptied, err := MaybeCascade(ctx, child, o)
		if err != nil {
			return false, err
		}
		if childEmptied {
			return mergeInnerChild(ctx, n, child)
		}
		if child.NeedsInnerSplit(o.InnerNodeChildrenNumber) {
			if err := splitInnerChild(ctx, n, child); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	return false, nil
}

// splitLeafChild splits an overgrown leaf and registers the new
// separator with its parent. A nil right means the leaf's balancing
// guard was already held by a concurrent split; nothing to register.
func splitLeafChild(ctx Ctx, parent, child *Node) error {
	right, sep, err := child.Split(ctx)
	if err != nil || right == nil {
		return err
	}
	defer ctx.DecRef(right)
	parent.AddPivot(sep, right.ID)
	return nil
}

// mergeLeafChild reclaims an emptied leaf: it relinks the sibling chain
// around it, removes it from the parent (spec.md §4.5.6's rm_pivot), and
// marks it dead so the cache reaps it on the next flush. The single-
// concurrent-rebalance guard (spec.md §4.5.5) also covers subtree merge
// (§5), so a leaf already mid-split is left alone.
func mergeLeafChild(ctx Ctx, parent, child *Node) (emptied bool, err error) {
	if !child.SetBalancing(true) {
		return false, nil
	}
	defer child.SetBalancing(false)

	left, right := child.Sibling()
	if left != NilID {
		l, err := ctx.LoadNode(left, false)
		if err != nil {
			return false, err
		}
		l.SetRightSibling(right)
		ctx.DecRef(l)
	}
	if right != NilID {
		r, err := ctx.LoadNode(right, false)
		if err != nil {
			return false, err
		}
		r.SetLeftSibling(left)
		ctx.DecRef(r)
	}

	emptied = removeDeadChild(parent, child)
	child.SetDead()
	return emptied, nil
}

// mergeInnerChild reclaims an inner child that MaybeCascade has emptied.
// Inner nodes carry no sibling links to relink, so this only removes
// child from parent and marks it dead (spec.md §4.5.6's rm_pivot).
func mergeInnerChild(ctx Ctx, parent, child *Node) (emptied bool, err error) {
	emptied = removeDeadChild(parent, child)
	child.SetDead()
	return emptied, nil
}

// removeDeadChild drops child's slot from parent, matching spec.md
// §4.5.6's rm_pivot: a child referenced by a regular pivot is simply
// erased (no propagation); a child in the FirstChild slot shifts the
// leftmost pivot into FirstChild if one exists, or leaves parent itself
// empty (reported via emptied) if it was the last child standing.
func removeDeadChild(parent, child *Node) (emptied bool) {
	if child.ID == parent.FirstChildID() {
		return parent.RemoveFirstChild()
	}
	for _, p := range parentPivotsSnapshot(parent) {
		if p.Child == child.ID {
			parent.RemovePivot(p.Key)
			return false
		}
	}
	return false
}

func splitInnerChild(ctx Ctx, parent, child *Node) error {
	right, sep, err := child.Split(ctx)
	if err != nil {
		return err
	}
	defer ctx.DecRef(right)
	parent.AddPivot(sep, right.ID)
	return nil
}

func parentPivotsSnapshot(n *Node) []*Pivot {
	n.RLock()
	defer n.RUnlock()
	out := make([]*Pivot, len(n.inner.Pivots))
	copy(out, n.inner.Pivots)
	return out
}

// PileupIfNeeded checks the root for the fanout-exceeded condition and,
// if so, splits it and installs a fresh root over the two halves via
// ctx.Pileup (spec.md §4.5.6's pileup).
func PileupIfNeeded(ctx Ctx, root *Node, o options.Options) error {
	if root.Kind != KindInner || !root.NeedsInnerSplit(o.InnerNodeChildrenNumber) {
		return nil
	}
	right, sep, err := root.Split(ctx)
	if err != nil {
		return err
	}
	newRoot, err := ctx.NewInnerNode()
	if err != nil {
		ctx.DecRef(right)
		return err
	}
	newRoot.SetFirstChild(root.ID)
	newRoot.AddPivot(sep, right.ID)
	ctx.DecRef(right)
	ctx.Pileup(newRoot)
	return nil
}
