// Package block implements the sized, page-aligned byte buffer and the
// typed cursor readers/writers every serialized node and superblock is
// built from (spec.md §4.1).
package block

// PageSize is the alignment unit for every on-disk I/O buffer.
const PageSize = 4096

// RoundUpToPage rounds x up to the next multiple of PageSize.
func RoundUpToPage(x int) int {
	return (x + PageSize - 1) &^ (PageSize - 1)
}

// RoundDownToPage rounds x down to the previous multiple of PageSize.
func RoundDownToPage(x int64) int64 {
	return x &^ (PageSize - 1)
}

// RoundUpToPage64 is the int64 counterpart of RoundUpToPage, used for
// file offsets and lengths.
func RoundUpToPage64(x int64) int64 {
	return (x + PageSize - 1) &^ (PageSize - 1)
}

// Block owns a page-aligned byte buffer with a logical used size that
// may be smaller than its capacity. Every I/O buffer in the engine is a
// Block so that layout, cache, and node code share one ownership model.
type Block struct {
	buf      []byte
	used     int
	capacity int
}

// New allocates a Block whose capacity is the page-rounded-up value of
// capacity bytes. The buffer is zero-filled.
func New(capacity int) *Block {
	cap := RoundUpToPage(capacity)
	if cap == 0 {
		cap = PageSize
	}
	return &Block{
		buf:      make([]byte, cap),
		used:     0,
		capacity: cap,
	}
}

// Wrap adapts an existing page-aligned buffer (e.g. one just filled by a
// read) into a Block with the given used size.
func Wrap(buf []byte, used int) *Block {
	return &Block{buf: buf, used: used, capacity: len(buf)}
}

// Bytes returns the full backing buffer (length == Capacity()).
func (b *Block) Bytes() []byte { return b.buf }

// Used returns the logical number of bytes written into the block.
func (b *Block) Used() int { return b.used }

// SetUsed sets the logical size directly; callers use this after a raw
// read fills the backing buffer.
func (b *Block) SetUsed(n int) { b.used = n }

// Capacity returns the page-aligned backing buffer length.
func (b *Block) Capacity() int { return b.capacity }

// Data returns the logical slice [0, Used()) of the backing buffer.
func (b *Block) Data() []byte { return b.buf[:b.used] }

// Reader returns a fresh Reader over this block's used bytes.
func (b *Block) Reader() *Reader { return &Reader{block: b} }

// Writer returns a fresh Writer over this block's capacity.
func (b *Block) Writer() *Writer { return &Writer{block: b} }
