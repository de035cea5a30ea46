// Package layout implements the single-file, page-aligned physical
// storage layer beneath the node cache: double-written superblocks, a
// node-id-keyed index, and a hole list for crash-safe space reuse
// (spec.md §4.7).
package layout

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/cascaerr"
	"github.com/weicao/cascadb/crcutil"
	"github.com/weicao/cascadb/iofile"
	"github.com/weicao/cascadb/node"
)

const (
	superblockMagic = 0x63617363 // "casc"

	superblockSlotSize = block.PageSize
	superblockSlot0     = 0
	superblockSlot1     = superblockSlotSize

	// metaSlotSize bounds the serialized index (primary entries + hole
	// list). Each primary entry takes 30 bytes, so a slot holds roughly
	// 140,000 nodes (fewer when the hole list is long).
	metaSlotSize = 4 << 20
	metaSlot0    = 2 * superblockSlotSize
	metaSlot1    = metaSlot0 + metaSlotSize

	dataStart = metaSlot1 + metaSlotSize
)

// entry is one node's location on disk.
type entry struct {
	Offset      int64
	SkeletonLen uint32
	TotalLen    int64 // skeleton+body bytes; the extent is its page round-up
	CRC         uint16
}

// extent is a free byte range, always page-aligned on both ends.
type extent struct {
	Offset int64
	Length int64
}

// Layout owns the single backing file: allocation, the node index, and
// the superblock/metadata double-buffering that makes a crash leave
// behind either the old or the new generation, never a torn mix.
type Layout struct {
	dir  iofile.Directory
	file iofile.AsyncFile
	name string

	mu         sync.Mutex
	primary    map[node.ID]entry
	holes      []extent
	flyHoles   []extent
	nextOffset int64
	generation uint64
	activeSlot int
}

// Open opens (creating if absent) the database file at name and
// recovers the most recent valid superblock generation, if any.
func Open(dir iofile.Directory, name string) (*Layout, error) {
	f, err := dir.OpenAIOFile(name)
	if err != nil {
		return nil, err
	}
	l := &Layout{
		dir:        dir,
		file:       f,
		name:       name,
		primary:    make(map[node.ID]entry),
		nextOffset: dataStart,
	}
	length, err := dir.FileLength(name)
	if err != nil {
		return nil, err
	}
	if length < dataStart {
		if err := f.Truncate(dataStart); err != nil {
			return nil, err
		}
		if err := l.writeInitialSuperblocks(); err != nil {
			return nil, err
		}
		return l, nil
	}
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) writeInitialSuperblocks() error {
	return l.flushMetaLocked()
}

type superblock struct {
	Magic      uint32
	Major      uint16
	Minor      uint16
	ActiveSlot uint8
	IndexLen   uint32
	IndexCRC   uint16
	Generation uint64
	NextOffset int64
}

func (l *Layout) writeSuperblocks(sb superblock) error {
	blk := block.New(superblockSlotSize)
	w := blk.Writer()
	w.U32(sb.Magic)
	w.U16(sb.Major)
	w.U16(sb.Minor)
	w.U8(sb.ActiveSlot)
	w.U32(sb.IndexLen)
	w.U16(sb.IndexCRC)
	w.U64(sb.Generation)
	w.U64(uint64(sb.NextOffset))
	payload := append([]byte(nil), blk.Data()...)
	crc := crcutil.CRC16(payload)
	w.U16(crc)
	buf := blk.Bytes()
	if _, err := l.file.Write(superblockSlot0, buf); err != nil {
		return fmt.Errorf("layout: write superblock 0: %w", err)
	}
	if _, err := l.file.Write(superblockSlot1, buf); err != nil {
		return fmt.Errorf("layout: write superblock 1: %w", err)
	}
	return nil
}

func (l *Layout) readSuperblock(offset int64) (superblock, bool) {
	buf := make([]byte, superblockSlotSize)
	if _, err := l.file.Read(offset, buf); err != nil {
		return superblock{}, false
	}
	r := block.Wrap(buf, len(buf)).Reader()
	magic, ok1 := r.U32()
	major, ok2 := r.U16()
	minor, ok3 := r.U16()
	active, ok4 := r.U8()
	indexLen, ok5 := r.U32()
	indexCRC, ok6 := r.U16()
	generation, ok7 := r.U64()
	nextOffset, ok8 := r.U64()
	bodyEnd := r.Cursor()
	storedCRC, ok9 := r.U16()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) || magic != superblockMagic {
		return superblock{}, false
	}
	if crcutil.CRC16(buf[:bodyEnd]) != storedCRC {
		return superblock{}, false
	}
	return superblock{
		Magic: magic, Major: major, Minor: minor, ActiveSlot: active,
		IndexLen: indexLen, IndexCRC: indexCRC, Generation: generation,
		NextOffset: int64(nextOffset),
	}, true
}

func (l *Layout) recover() error {
	sb0, ok0 := l.readSuperblock(superblockSlot0)
	sb1, ok1 := l.readSuperblock(superblockSlot1)
	var sb superblock
	switch {
	case ok0 && ok1:
		sb = sb0
		if sb1.Generation > sb0.Generation {
			sb = sb1
		}
	case ok0:
		sb = sb0
	case ok1:
		sb = sb1
	default:
		return cascaerr.ErrInvalidSuperblock
	}
	l.generation = sb.Generation
	l.nextOffset = sb.NextOffset
	l.activeSlot = int(sb.ActiveSlot)

	slotOffset := int64(metaSlot0)
	if l.activeSlot == 1 {
		slotOffset = metaSlot1
	}
	raw := make([]byte, sb.IndexLen)
	if sb.IndexLen > 0 {
		if _, err := l.file.Read(slotOffset, raw); err != nil {
			return fmt.Errorf("layout: read index: %w", err)
		}
		if crcutil.CRC16(raw) != sb.IndexCRC {
			return cascaerr.ErrCorruptBlock
		}
	}
	return l.decodeIndex(raw)
}

func (l *Layout) decodeIndex(raw []byte) error {
	l.primary = make(map[node.ID]entry)
	if len(raw) == 0 {
		return nil
	}
	r := block.Wrap(raw, len(raw)).Reader()
	count, ok := r.U32()
	if !ok {
		return cascaerr.ErrCorruptBlock
	}
	for i := uint32(0); i < count; i++ {
		id, ok1 := r.U64()
		off, ok2 := r.U64()
		skel, ok3 := r.U32()
		total, ok4 := r.U64()
		crc, ok5 := r.U16()
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			return cascaerr.ErrCorruptBlock
		}
		l.primary[node.ID(id)] = entry{Offset: int64(off), SkeletonLen: skel, TotalLen: int64(total), CRC: crc}
	}
	holeCount, ok := r.U32()
	if !ok {
		return cascaerr.ErrCorruptBlock
	}
	for i := uint32(0); i < holeCount; i++ {
		off, ok1 := r.U64()
		length, ok2 := r.U64()
		if !(ok1 && ok2) {
			return cascaerr.ErrCorruptBlock
		}
		l.holes = append(l.holes, extent{Offset: int64(off), Length: int64(length)})
	}
	return nil
}

func (l *Layout) encodeIndex() []byte {
	ids := make([]node.ID, 0, len(l.primary))
	for id := range l.primary {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	blk := block.New(metaSlotSize)
	w := blk.Writer()
	w.U32(uint32(len(ids)))
	for _, id := range ids {
		e := l.primary[id]
		w.U64(uint64(id))
		w.U64(uint64(e.Offset))
		w.U32(e.SkeletonLen)
		w.U64(uint64(e.TotalLen))
		w.U16(e.CRC)
	}
	w.U32(uint32(len(l.holes)))
	for _, h := range l.holes {
		w.U64(uint64(h.Offset))
		w.U64(uint64(h.Length))
	}
	return append([]byte(nil), blk.Data()...)
}
