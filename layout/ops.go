package layout

import (
	"fmt"

	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/crcutil"
	"github.com/weicao/cascadb/node"
	"github.com/weicao/cascadb/options"
)

// WriteNode persists one node's skeleton+body as a single page-aligned
// record, allocating from the hole list (first-fit) or extending the
// file if nothing fits. A prior allocation for id, if any, is retired
// into flyHoles rather than holes: the spec's crash-safety rule is that
// space freed by a generation isn't reused until a FlushMeta durably
// records that the old generation is gone (spec.md §4.7's fly-hole-list).
func (l *Layout) WriteNode(id node.ID, skeleton, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := make([]byte, 0, len(skeleton)+len(body))
	record = append(record, skeleton...)
	record = append(record, body...)
	crc := crcutil.CRC16(record)

	total := int64(block.RoundUpToPage(len(record)))
	offset := l.allocateLocked(total)

	padded := make([]byte, total)
	copy(padded, record)
	if _, err := l.file.Write(offset, padded); err != nil {
		return fmt.Errorf("layout: write node %d: %w", id, err)
	}

	if old, ok := l.primary[id]; ok {
		l.flyHoles = append(l.flyHoles, extent{Offset: old.Offset, Length: block.RoundUpToPage64(old.TotalLen)})
	}
	l.primary[id] = entry{Offset: offset, SkeletonLen: uint32(len(skeleton)), TotalLen: int64(len(record)), CRC: crc}
	return nil
}

// allocateLocked returns an offset of at least size bytes, reusing a
// hole if one fits or else extending the file tail. Caller holds mu.
func (l *Layout) allocateLocked(size int64) int64 {
	for i, h := range l.holes {
		if h.Length >= size {
			offset := h.Offset
			if h.Length == size {
				l.holes = append(l.holes[:i], l.holes[i+1:]...)
			} else {
				l.holes[i] = extent{Offset: h.Offset + size, Length: h.Length - size}
			}
			return offset
		}
	}
	offset := l.nextOffset
	l.nextOffset += size
	return offset
}

// ReadSkeleton fetches and decodes node id's skeleton.
func (l *Layout) ReadSkeleton(id node.ID, cmp options.Comparator) (*node.Node, error) {
	l.mu.Lock()
	e, ok := l.primary[id]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("layout: no such node %d", id)
	}
	buf := l.readAligned(e.Offset, int64(e.SkeletonLen))
	return node.DecodeSkeleton(id, buf, cmp)
}

// ReadRange fetches length bytes starting relOffset into id's body
// (i.e. after its skeleton prefix).
func (l *Layout) ReadRange(id node.ID, relOffset int64, length int) ([]byte, error) {
	l.mu.Lock()
	e, ok := l.primary[id]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("layout: no such node %d", id)
	}
	absolute := e.Offset + int64(e.SkeletonLen) + relOffset
	return l.readAligned(absolute, int64(length)), nil
}

// LoadBody fetches every byte of id's body in one read.
func (l *Layout) LoadBody(id node.ID) ([]byte, error) {
	l.mu.Lock()
	e, ok := l.primary[id]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("layout: no such node %d", id)
	}
	bodyLen := e.TotalLen - int64(e.SkeletonLen)
	return l.readAligned(e.Offset+int64(e.SkeletonLen), bodyLen), nil
}

// readAligned performs a page-aligned blocking read covering [offset,
// offset+length) and returns exactly that sub-slice.
func (l *Layout) readAligned(offset, length int64) []byte {
	if length <= 0 {
		return nil
	}
	start := block.RoundDownToPage(offset)
	end := block.RoundUpToPage64(offset + length)
	buf := make([]byte, end-start)
	if _, err := l.file.Read(start, buf); err != nil {
		return nil
	}
	lo := offset - start
	return buf[lo : lo+length]
}

// DeleteNode removes id from the index, retiring its extent into
// flyHoles.
func (l *Layout) DeleteNode(id node.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.primary[id]; ok {
		l.flyHoles = append(l.flyHoles, extent{Offset: e.Offset, Length: block.RoundUpToPage64(e.TotalLen)})
		delete(l.primary, id)
	}
}

// FlushMeta durably records the current index: fly-holes graduate into
// reusable holes, the index is written to the inactive meta slot, and a
// fresh superblock generation is written to both copies pointing at it
// (spec.md §4.7).
func (l *Layout) FlushMeta() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushMetaLocked()
}

func (l *Layout) flushMetaLocked() error {
	l.holes = append(l.holes, l.flyHoles...)
	l.flyHoles = nil
	l.holes = coalesce(l.holes)
	l.reclaimTailLocked()

	raw := l.encodeIndex()
	nextSlot := 1 - l.activeSlot
	slotOffset := int64(metaSlot0)
	if nextSlot == 1 {
		slotOffset = metaSlot1
	}
	padded := make([]byte, metaSlotSize)
	copy(padded, raw)
	if _, err := l.file.Write(slotOffset, padded); err != nil {
		return fmt.Errorf("layout: write index: %w", err)
	}

	l.generation++
	l.activeSlot = nextSlot
	if err := l.writeSuperblocks(superblock{
		Magic:      superblockMagic,
		Major:      1,
		Minor:      0,
		ActiveSlot: uint8(l.activeSlot),
		IndexLen:   uint32(len(raw)),
		IndexCRC:   crcutil.CRC16(raw),
		Generation: l.generation,
		NextOffset: l.nextOffset,
	}); err != nil {
		return err
	}
	// Shrink the file only after the generation recording the smaller
	// NextOffset is durable: a crash between the two leaves a file
	// that's larger than NextOffset, which is harmless (reclaimed by
	// the next flush) rather than a file shorter than what the
	// recovered index expects.
	return l.file.Truncate(l.nextOffset)
}

// reclaimTailLocked pops any hole(s) abutting the end of the allocated
// region and shrinks nextOffset to cover them, so that deleting and
// flushing a batch of nodes can actually shrink the backing file
// instead of leaving a monotonically growing high-water mark (spec.md
// §8 scenario 6). Holes are already coalesced, so there is at most one
// hole touching the tail.
func (l *Layout) reclaimTailLocked() {
	for len(l.holes) > 0 {
		last := len(l.holes) - 1
		h := l.holes[last]
		if h.Offset+h.Length != l.nextOffset {
			break
		}
		l.nextOffset = h.Offset
		l.holes = l.holes[:last]
	}
}

func coalesce(holes []extent) []extent {
	if len(holes) < 2 {
		return holes
	}
	sortExtents(holes)
	out := holes[:1]
	for _, h := range holes[1:] {
		last := &out[len(out)-1]
		if last.Offset+last.Length == h.Offset {
			last.Length += h.Length
		} else {
			out = append(out, h)
		}
	}
	return out
}

func sortExtents(holes []extent) {
	for i := 1; i < len(holes); i++ {
		for j := i; j > 0 && holes[j-1].Offset > holes[j].Offset; j-- {
			holes[j-1], holes[j] = holes[j], holes[j-1]
		}
	}
}

// Stats summarizes a Layout's current index for diagnostic tooling
// (cmd/cascactl inspect).
type Stats struct {
	NodeCount    int
	HoleCount    int
	FlyHoleCount int
	HoleBytes    int64
	Generation   uint64
	ActiveSlot   int
	NextOffset   int64
}

// Inspect returns a snapshot of the layout's index, without mutating it.
func (l *Layout) Inspect() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	var holeBytes int64
	for _, h := range l.holes {
		holeBytes += h.Length
	}
	return Stats{
		NodeCount:    len(l.primary),
		HoleCount:    len(l.holes),
		FlyHoleCount: len(l.flyHoles),
		HoleBytes:    holeBytes,
		Generation:   l.generation,
		ActiveSlot:   l.activeSlot,
		NextOffset:   l.nextOffset,
	}
}

// Truncate shrinks the file to the tail allocator's high-water mark.
// Nothing in the engine calls it; FlushMeta performs the same truncate
// after writing each generation.
func (l *Layout) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Truncate(l.nextOffset)
}

// Close flushes metadata and closes the backing file.
func (l *Layout) Close() error {
	if err := l.FlushMeta(); err != nil {
		return err
	}
	return l.file.Close()
}
