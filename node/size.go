package node

// Size estimates the node's in-memory footprint, used by the cache for
// its observed-size accounting and by the tree for page-size thresholds.
// It does not require any lock beyond what the caller already holds.
func (n *Node) Size() int {
	switch n.Kind {
	case KindSchema:
		return 32
	case KindInner:
		return n.innerSize()
	case KindLeaf:
		return n.leafSize()
	default:
		return 0
	}
}

func (n *Node) innerSize() int {
	s := 1 + 4 + 24 + len(n.inner.FirstBloom)
	if n.inner.FirstBuffer != nil {
		s += n.inner.FirstBuffer.SizeBytes()
	}
	for _, p := range n.inner.Pivots {
		s += 4 + len(p.Key) + 24 + len(p.Bloom)
		if p.Buffer != nil {
			s += p.Buffer.SizeBytes()
		}
	}
	return s
}

func (n *Node) leafSize() int {
	s := 16 + 4
	for _, bi := range n.leaf.descriptors {
		s += 4 + len(bi.FirstKey) + 14
		if bi.Bucket != nil {
			s += bi.Bucket.SizeBytes()
		}
	}
	return s
}

// MsgCount returns the total buffered message count across every
// loaded buffer of an inner node (used by maybe_cascade's threshold
// check). Unloaded buffers contribute 0, matching the spec's intent
// that cascade pressure is driven by what is actually resident.
func (n *Node) MsgCount() int {
	if n.Kind != KindInner {
		return 0
	}
	c := 0
	if n.inner.FirstBuffer != nil {
		c += n.inner.FirstBuffer.Count()
	}
	for _, p := range n.inner.Pivots {
		if p.Buffer != nil {
			c += p.Buffer.Count()
		}
	}
	return c
}
