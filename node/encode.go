package node

import (
	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/options"
	"github.com/weicao/cascadb/record"
)

// Encoded is the on-disk representation of one node: a small skeleton
// (pivots/descriptors plus their body offsets, always resident once a
// node is touched) and a body (the concatenated, per-segment compressed
// buffer/bucket payloads the skeleton's offsets point into). Layout
// stores the two contiguously and serves ReadRange/LoadBody requests
// against the body half (spec.md §4.5.1, §4.5.8, §4.5.9).
type Encoded struct {
	Skeleton []byte
	Body     []byte
}

// Encode serializes n for a flush. The node must be FullLoaded; the
// cache upgrades dirty nodes before handing them to the writeback path.
func (n *Node) Encode(o options.Options) (Encoded, error) {
	n.RLock()
	defer n.RUnlock()
	switch n.Kind {
	case KindSchema:
		return n.encodeSchemaLocked(), nil
	case KindInner:
		return n.encodeInnerLocked(o)
	case KindLeaf:
		return n.encodeLeafLocked(o)
	default:
		return Encoded{}, nil
	}
}

// writeAll runs fn against a growing Block/Writer pair, doubling
// capacity on overflow, and returns the written bytes. Skeletons and
// segment payloads are small enough that this never loops more than a
// couple of times in practice.
func writeAll(initial int, fn func(w *block.Writer) bool) []byte {
	size := initial
	for {
		blk := block.New(size)
		w := blk.Writer()
		if fn(w) {
			return append([]byte(nil), blk.Data()...)
		}
		size *= 2
	}
}

func (n *Node) encodeSchemaLocked() Encoded {
	skeleton := writeAll(block.PageSize, func(w *block.Writer) bool {
		return w.U64(uint64(n.schema.RootID)) &&
			w.U64(uint64(n.schema.NextInnerID)) &&
			w.U64(uint64(n.schema.NextLeafID)) &&
			w.U32(n.schema.TreeDepth)
	})
	return Encoded{Skeleton: skeleton}
}

func (n *Node) encodeInnerLocked(o options.Options) (Encoded, error) {
	var body []byte

	firstStored, firstLen, firstUncomp, firstCRC, err := encodeBuffer(n.inner.FirstBuffer, o)
	if err != nil {
		return Encoded{}, err
	}
	n.inner.FirstOffset = uint32(len(body))
	n.inner.FirstLength = firstLen
	n.inner.FirstUncomp = firstUncomp
	n.inner.FirstCRC = firstCRC
	n.inner.FirstBloom = n.inner.FirstBuffer.Filter()
	body = append(body, firstStored...)

	for _, p := range n.inner.Pivots {
		stored, length, uncomp, crc, err := encodeBuffer(p.Buffer, o)
		if err != nil {
			return Encoded{}, err
		}
		p.Offset = uint32(len(body))
		p.Length = length
		p.Uncompressed = uncomp
		p.CRC = crc
		p.Bloom = p.Buffer.Filter()
		body = append(body, stored...)
	}

	skeleton := writeAll(block.PageSize, func(w *block.Writer) bool {
		if !(w.Bool(n.inner.Bottom) &&
			w.U64(uint64(n.inner.FirstChild)) &&
			w.U32(n.inner.FirstOffset) &&
			w.U32(n.inner.FirstLength) &&
			w.U32(n.inner.FirstUncomp) &&
			w.U16(n.inner.FirstCRC) &&
			w.Bytes(n.inner.FirstBloom) &&
			w.U32(uint32(len(n.inner.Pivots)))) {
			return false
		}
		for _, p := range n.inner.Pivots {
			if !(w.Bytes(p.Key) &&
				w.U64(uint64(p.Child)) &&
				w.U32(p.Offset) &&
				w.U32(p.Length) &&
				w.U32(p.Uncompressed) &&
				w.U16(p.CRC) &&
				w.Bytes(p.Bloom)) {
				return false
			}
		}
		return true
	})
	return Encoded{Skeleton: skeleton, Body: body}, nil
}

func encodeBuffer(buf interface {
	WriteTo(w *block.Writer) bool
}, o options.Options) (stored []byte, length, uncompressed uint32, crc uint16, err error) {
	raw := writeAll(block.PageSize, buf.WriteTo)
	return encodeSegment(raw, o)
}

func (n *Node) encodeLeafLocked(o options.Options) (Encoded, error) {
	var body []byte
	descs := make([]BucketInfo, len(n.leaf.recordBuckets.List()))
	for i, b := range n.leaf.recordBuckets.List() {
		stored, length, uncomp, crc, err := encodeBucket(b, o)
		if err != nil {
			return Encoded{}, err
		}
		descs[i] = BucketInfo{
			FirstKey:     append([]byte(nil), b.FirstKey()...),
			Bucket:       b,
			Offset:       uint32(len(body)),
			Length:       length,
			Uncompressed: uncomp,
			CRC:          crc,
		}
		body = append(body, stored...)
	}
	n.leaf.descriptors = descs

	skeleton := writeAll(block.PageSize, func(w *block.Writer) bool {
		if !(w.U64(uint64(n.leaf.LeftSibling)) &&
			w.U64(uint64(n.leaf.RightSibling)) &&
			w.U32(uint32(len(descs)))) {
			return false
		}
		for _, d := range descs {
			if !(w.Bytes(d.FirstKey) &&
				w.U32(d.Offset) &&
				w.U32(d.Length) &&
				w.U32(d.Uncompressed) &&
				w.U16(d.CRC)) {
				return false
			}
		}
		return true
	})
	return Encoded{Skeleton: skeleton, Body: body}, nil
}

func encodeBucket(b *record.Bucket, o options.Options) (stored []byte, length, uncompressed uint32, crc uint16, err error) {
	raw := writeAll(block.PageSize, b.WriteTo)
	return encodeSegment(raw, o)
}
