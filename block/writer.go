package block

import "encoding/binary"

// Writer walks a Block's capacity with a cursor, growing Used() as it
// goes. Every method reports success; on overflow against Capacity() it
// fails without mutating the cursor or the block's used size.
type Writer struct {
	block  *Block
	cursor int
}

// Cursor returns the current write position.
func (w *Writer) Cursor() int { return w.cursor }

// Seek moves the cursor to an absolute position within [0, Capacity()].
// Unlike Reader.Seek this does not require the position to already be
// "used", so a caller can skip ahead and reserve space (see Skip).
func (w *Writer) Seek(pos int) bool {
	if pos < 0 || pos > w.block.capacity {
		return false
	}
	w.cursor = pos
	return true
}

// Skip advances the cursor by n bytes without writing anything, growing
// Used() as if n zero bytes were written.
func (w *Writer) Skip(n int) bool {
	if !w.Seek(w.cursor + n) {
		return false
	}
	w.growUsed()
	return true
}

func (w *Writer) fits(n int) bool {
	return w.cursor+n <= w.block.capacity
}

func (w *Writer) growUsed() {
	if w.cursor > w.block.used {
		w.block.used = w.cursor
	}
}

// Bool writes a boolean as one byte.
func (w *Writer) Bool(v bool) bool {
	if v {
		return w.U8(1)
	}
	return w.U8(0)
}

// U8 writes one byte.
func (w *Writer) U8(v uint8) bool {
	if !w.fits(1) {
		return false
	}
	w.block.buf[w.cursor] = v
	w.cursor++
	w.growUsed()
	return true
}

// U16 writes a little-endian uint16.
func (w *Writer) U16(v uint16) bool {
	if !w.fits(2) {
		return false
	}
	binary.LittleEndian.PutUint16(w.block.buf[w.cursor:], v)
	w.cursor += 2
	w.growUsed()
	return true
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) bool {
	if !w.fits(4) {
		return false
	}
	binary.LittleEndian.PutUint32(w.block.buf[w.cursor:], v)
	w.cursor += 4
	w.growUsed()
	return true
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) bool {
	if !w.fits(8) {
		return false
	}
	binary.LittleEndian.PutUint64(w.block.buf[w.cursor:], v)
	w.cursor += 8
	w.growUsed()
	return true
}

// Bytes writes a length-prefixed (u32) byte string.
func (w *Writer) Bytes(v []byte) bool {
	if !w.fits(4 + len(v)) {
		return false
	}
	binary.LittleEndian.PutUint32(w.block.buf[w.cursor:], uint32(len(v)))
	w.cursor += 4
	copy(w.block.buf[w.cursor:], v)
	w.cursor += len(v)
	w.growUsed()
	return true
}

// RawBytes writes n raw bytes without a length prefix.
func (w *Writer) RawBytes(v []byte) bool {
	if !w.fits(len(v)) {
		return false
	}
	copy(w.block.buf[w.cursor:], v)
	w.cursor += len(v)
	w.growUsed()
	return true
}

// LPSize returns the on-wire size of a length-prefixed byte string of
// length n: the 4-byte length plus n.
func LPSize(n int) int { return 4 + n }
