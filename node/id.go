// Package node implements the buffered-tree nodes: the schema
// singleton, inner nodes with per-child message buffers, and leaf nodes
// with bucketed records. Cascade, split, merge, and lookup all live here
// (spec.md §4.5).
package node

// ID identifies a node. 0 is reserved (nil). 1 is the schema node.
// Ids in [2, 2^48] identify inner nodes. Ids in (2^48, 2^64) identify
// leaf nodes.
type ID uint64

const (
	NilID    ID = 0
	SchemaID ID = 1

	InnerStart ID = 2
	// LeafStart is the first id reserved for leaves: 2^48 + 1, so that
	// id == 2^48 is still the last legal inner id (IsLeaf is defined as
	// id > 2^48, equivalently id >= LeafStart).
	LeafStart ID = (ID(1) << 48) + 1
)

// IsLeaf reports whether id addresses a leaf node.
func IsLeaf(id ID) bool { return id >= LeafStart }

// IsInner reports whether id addresses an inner node (excludes the
// schema node and nil).
func IsInner(id ID) bool { return id >= InnerStart && id < LeafStart }
