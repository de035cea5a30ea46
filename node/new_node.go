package node

import (
	"github.com/weicao/cascadb/message"
	"github.com/weicao/cascadb/options"
	"github.com/weicao/cascadb/record"
)

// NewSchema creates the singleton schema node (id == SchemaID).
func NewSchema(cmp options.Comparator) *Node {
	n := newBase(SchemaID, KindSchema, cmp, StatusFullLoaded)
	n.schema = &schemaData{RootID: NilID, NextInnerID: InnerStart, NextLeafID: LeafStart}
	return n
}

// NewInner creates a fresh, empty inner node. bottom indicates whether
// its children will be leaves.
func NewInner(id ID, cmp options.Comparator, bottom bool) *Node {
	n := newBase(id, KindInner, cmp, StatusFullLoaded)
	n.inner = &innerData{
		Bottom:      bottom,
		FirstChild:  NilID,
		FirstBuffer: message.New(cmp),
	}
	return n
}

// NewLeaf creates a fresh, empty leaf node. bucketSize bounds each
// record.Bucket's on-disk size (options.LeafNodeBucketSize).
func NewLeaf(id ID, cmp options.Comparator, bucketSize int) *Node {
	n := newBase(id, KindLeaf, cmp, StatusFullLoaded)
	n.leaf = &leafData{recordBuckets: record.NewBuckets(bucketSize, cmp)}
	return n
}

// Schema returns the schema payload; nil if n is not a schema node.
func (n *Node) Schema() *SchemaView {
	if n.Kind != KindSchema {
		return nil
	}
	return &SchemaView{n: n}
}

// SchemaView exposes the schema node's fields under its latch.
type SchemaView struct{ n *Node }

func (s *SchemaView) RootID() ID {
	s.n.RLock()
	defer s.n.RUnlock()
	return s.n.schema.RootID
}

func (s *SchemaView) TreeDepth() uint32 {
	s.n.RLock()
	defer s.n.RUnlock()
	return s.n.schema.TreeDepth
}

// SetRoot installs id as the root and, if bump is true, increments the
// recorded tree depth. Caller must already hold the write latch
// (tree.pileup/collapse take it).
func (s *SchemaView) SetRoot(id ID, bump bool) {
	s.n.schema.RootID = id
	if bump {
		s.n.schema.TreeDepth++
	} else {
		s.n.schema.TreeDepth = 0
	}
	s.n.SetDirty(true)
}

// NextInnerID returns the next inner id and advances the counter.
// Caller must hold the schema node's write latch.
func (s *SchemaView) NextInnerID() ID {
	id := s.n.schema.NextInnerID
	s.n.schema.NextInnerID++
	s.n.SetDirty(true)
	return id
}

// NextLeafID returns the next leaf id and advances the counter. Caller
// must hold the schema node's write latch.
func (s *SchemaView) NextLeafID() ID {
	id := s.n.schema.NextLeafID
	s.n.schema.NextLeafID++
	s.n.SetDirty(true)
	return id
}
