package message

import (
	"sort"
	"sync"

	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/bloom"
	"github.com/weicao/cascadb/options"
)

// chunkCap bounds each vector in the chain; kept small so insertion and
// split are cheap memmoves, matching the "~32" the spec calls for.
const chunkCap = 32

// Buffer is a sorted, per-key-deduplicating container of pending
// messages for one child subtree. It is internally a chain of small
// sorted vectors (spec.md §4.2) rather than one large vector, so
// insertion does a binary search over chunks followed by a binary
// search within the chosen chunk, amortizing memmove cost as the
// buffer grows.
type Buffer struct {
	mu    sync.RWMutex
	chain [][]Message
	cmp   options.Comparator
	bytes int
}

// New creates an empty buffer ordered by cmp.
func New(cmp options.Comparator) *Buffer {
	return &Buffer{cmp: cmp}
}

// Count returns the number of distinct messages currently buffered.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count()
}

func (b *Buffer) count() int {
	n := 0
	for _, c := range b.chain {
		n += len(c)
	}
	return n
}

// SizeBytes returns the accounted on-wire size of all buffered messages
// plus the 4-byte count prefix.
func (b *Buffer) SizeBytes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return 4 + b.bytes
}

// chunkIndex returns the chain index whose vector may contain key: the
// first chunk whose last key is >= key, or len(chain)-1 if key sorts
// past every chunk (new chunk created lazily on insert).
func (b *Buffer) chunkIndex(key []byte) int {
	if len(b.chain) == 0 {
		return -1
	}
	lo, hi := 0, len(b.chain)-1
	for lo < hi {
		mid := (lo + hi) / 2
		last := b.chain[mid][len(b.chain[mid])-1]
		if b.cmp.Compare(last.Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Write inserts msg, replacing (and destroying) any existing entry with
// the same key. Accounts the size delta.
func (b *Buffer) Write(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.write(msg)
}

func (b *Buffer) write(msg Message) {
	if len(b.chain) == 0 {
		b.chain = append(b.chain, []Message{msg})
		b.bytes += msg.Size()
		return
	}
	ci := b.chunkIndex(msg.Key)
	chunk := b.chain[ci]
	idx := sort.Search(len(chunk), func(i int) bool {
		return b.cmp.Compare(chunk[i].Key, msg.Key) >= 0
	})
	if idx < len(chunk) && b.cmp.Compare(chunk[idx].Key, msg.Key) == 0 {
		b.bytes -= chunk[idx].Size()
		chunk[idx] = msg
		b.bytes += msg.Size()
		return
	}
	// insert at idx
	chunk = append(chunk, Message{})
	copy(chunk[idx+1:], chunk[idx:len(chunk)-1])
	chunk[idx] = msg
	b.chain[ci] = chunk
	b.bytes += msg.Size()

	if len(chunk) > chunkCap {
		b.splitChunk(ci)
	}
}

func (b *Buffer) splitChunk(ci int) {
	chunk := b.chain[ci]
	mid := len(chunk) / 2
	left := append([]Message(nil), chunk[:mid]...)
	right := append([]Message(nil), chunk[mid:]...)
	b.chain = append(b.chain, nil)
	copy(b.chain[ci+2:], b.chain[ci+1:len(b.chain)-1])
	b.chain[ci] = left
	b.chain[ci+1] = right
}

// AppendRange merges a sorted range of messages (e.g. drained from a
// sibling) with the same write semantics as Write, applied in order.
func (b *Buffer) AppendRange(msgs []Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.write(m)
	}
}

// Messages returns a snapshot of all buffered messages in sorted order.
// The caller owns the returned slice; mutating it does not affect the
// buffer.
func (b *Buffer) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, 0, b.count())
	for _, c := range b.chain {
		out = append(out, c...)
	}
	return out
}

// Find returns the message with the given key and whether it was
// present, without removing it.
func (b *Buffer) Find(key []byte) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ci := b.chunkIndex(key)
	if ci < 0 {
		return Message{}, false
	}
	chunk := b.chain[ci]
	idx := sort.Search(len(chunk), func(i int) bool {
		return b.cmp.Compare(chunk[i].Key, key) >= 0
	})
	if idx < len(chunk) && b.cmp.Compare(chunk[idx].Key, key) == 0 {
		return chunk[idx], true
	}
	return Message{}, false
}

// Clear empties the buffer without destroying values (the caller has
// already taken ownership downstream, e.g. via Messages()).
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chain = nil
	b.bytes = 0
}

// WriteTo serializes "u32 count" followed by each message (kind:1,
// key: length-prefixed, value: length-prefixed if Put) into w.
func (b *Buffer) WriteTo(w *block.Writer) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !w.U32(uint32(b.count())) {
		return false
	}
	for _, c := range b.chain {
		for _, m := range c {
			if !w.U8(uint8(m.Kind)) {
				return false
			}
			if !w.Bytes(m.Key) {
				return false
			}
			if m.Kind == Put {
				if !w.Bytes(m.Value) {
					return false
				}
			}
		}
	}
	return true
}

// ReadFrom deserializes a buffer previously written by WriteTo, replacing
// the receiver's contents.
func (b *Buffer) ReadFrom(r *block.Reader) bool {
	count, ok := r.U32()
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chain = nil
	b.bytes = 0
	for i := uint32(0); i < count; i++ {
		kind, ok := r.U8()
		if !ok {
			return false
		}
		key, ok := r.Bytes()
		if !ok {
			return false
		}
		m := Message{Kind: Kind(kind), Key: key}
		if m.Kind == Put {
			val, ok := r.Bytes()
			if !ok {
				return false
			}
			m.Value = val
		}
		b.write(m)
	}
	return true
}

// Filter rebuilds a bloom filter over the buffer's current key set, for
// attachment to the parent's pivot descriptor.
func (b *Buffer) Filter() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([][]byte, 0, b.count())
	for _, c := range b.chain {
		for _, m := range c {
			keys = append(keys, m.Key)
		}
	}
	return bloom.Build(keys)
}
