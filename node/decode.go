package node

import (
	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/cascaerr"
	"github.com/weicao/cascadb/options"
)

// DecodeSkeleton parses a node's skeleton bytes (as written by Encode)
// into a Node in StatusSkeletonLoaded, with every buffer/bucket body
// left unloaded (Buffer/Bucket nil) so lazy loading can fetch only what
// a given operation touches (spec.md §4.5.1).
func DecodeSkeleton(id ID, skeleton []byte, cmp options.Comparator) (*Node, error) {
	r := block.Wrap(skeleton, len(skeleton)).Reader()
	switch {
	case id == SchemaID:
		return decodeSchema(r, cmp)
	case IsInner(id):
		return decodeInnerSkeleton(id, r, cmp)
	default:
		return decodeLeafSkeleton(id, r, cmp)
	}
}

func decodeSchema(r *block.Reader, cmp options.Comparator) (*Node, error) {
	rootID, ok1 := r.U64()
	nextInner, ok2 := r.U64()
	nextLeaf, ok3 := r.U64()
	depth, ok4 := r.U32()
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil, cascaerr.ErrCorruptBlock
	}
	n := newBase(SchemaID, KindSchema, cmp, StatusFullLoaded)
	n.schema = &schemaData{RootID: ID(rootID), NextInnerID: ID(nextInner), NextLeafID: ID(nextLeaf), TreeDepth: depth}
	return n, nil
}

func decodeInnerSkeleton(id ID, r *block.Reader, cmp options.Comparator) (*Node, error) {
	bottom, ok1 := r.Bool()
	firstChild, ok2 := r.U64()
	firstOffset, ok3 := r.U32()
	firstLength, ok4 := r.U32()
	firstUncomp, ok5 := r.U32()
	firstCRC, ok6 := r.U16()
	firstBloom, ok7 := r.Bytes()
	pivotCount, ok8 := r.U32()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return nil, cascaerr.ErrCorruptBlock
	}
	n := newBase(id, KindInner, cmp, StatusSkeletonLoaded)
	n.inner = &innerData{
		Bottom:      bottom,
		FirstChild:  ID(firstChild),
		FirstOffset: firstOffset,
		FirstLength: firstLength,
		FirstUncomp: firstUncomp,
		FirstCRC:    firstCRC,
		FirstBloom:  firstBloom,
	}
	for i := uint32(0); i < pivotCount; i++ {
		key, ok1 := r.Bytes()
		child, ok2 := r.U64()
		offset, ok3 := r.U32()
		length, ok4 := r.U32()
		uncomp, ok5 := r.U32()
		crc, ok6 := r.U16()
		bloom, ok7 := r.Bytes()
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
			return nil, cascaerr.ErrCorruptBlock
		}
		n.inner.Pivots = append(n.inner.Pivots, &Pivot{
			Key: key, Child: ID(child),
			Offset: offset, Length: length, Uncompressed: uncomp, CRC: crc, Bloom: bloom,
		})
	}
	return n, nil
}

func decodeLeafSkeleton(id ID, r *block.Reader, cmp options.Comparator) (*Node, error) {
	left, ok1 := r.U64()
	right, ok2 := r.U64()
	descCount, ok3 := r.U32()
	if !(ok1 && ok2 && ok3) {
		return nil, cascaerr.ErrCorruptBlock
	}
	n := newBase(id, KindLeaf, cmp, StatusSkeletonLoaded)
	n.leaf = &leafData{LeftSibling: ID(left), RightSibling: ID(right)}
	for i := uint32(0); i < descCount; i++ {
		key, ok1 := r.Bytes()
		offset, ok2 := r.U32()
		length, ok3 := r.U32()
		uncomp, ok4 := r.U32()
		crc, ok5 := r.U16()
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			return nil, cascaerr.ErrCorruptBlock
		}
		n.leaf.descriptors = append(n.leaf.descriptors, BucketInfo{
			FirstKey: key, Offset: offset, Length: length, Uncompressed: uncomp, CRC: crc,
		})
	}
	return n, nil
}
