// Package record implements the sorted key→value records inside a leaf
// and the size-bounded buckets that group them into independent I/O
// units (spec.md §4.3).
package record

import (
	"sort"

	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/options"
)

// Record is one key→value pair stored in a leaf.
type Record struct {
	Key   []byte
	Value []byte
}

// Size is the on-wire accounting size: 4 (key length) + len(Key) +
// 4 (value length) + len(Value).
func (r Record) Size() int {
	return 4 + len(r.Key) + 4 + len(r.Value)
}

// Bucket is a sorted vector of records, independently readable as one
// I/O unit, kept below the configured leaf_node_bucket_size.
type Bucket struct {
	Records []Record
}

// SizeBytes is the bucket's on-wire payload size: "nrecords:4" plus the
// size of every record.
func (b *Bucket) SizeBytes() int {
	s := 4
	for _, r := range b.Records {
		s += r.Size()
	}
	return s
}

// FirstKey returns the bucket's first key, or nil if empty.
func (b *Bucket) FirstKey() []byte {
	if len(b.Records) == 0 {
		return nil
	}
	return b.Records[0].Key
}

// LastKey returns the bucket's last key, or nil if empty.
func (b *Bucket) LastKey() []byte {
	if len(b.Records) == 0 {
		return nil
	}
	return b.Records[len(b.Records)-1].Key
}

// find returns the index of the first record with key >= k under cmp.
func (b *Bucket) find(k []byte, cmp options.Comparator) int {
	return sort.Search(len(b.Records), func(i int) bool {
		return cmp.Compare(b.Records[i].Key, k) >= 0
	})
}

// Get returns the record with the given key, if present.
func (b *Bucket) Get(k []byte, cmp options.Comparator) (Record, bool) {
	i := b.find(k, cmp)
	if i < len(b.Records) && cmp.Compare(b.Records[i].Key, k) == 0 {
		return b.Records[i], true
	}
	return Record{}, false
}

// WriteTo serializes "nrecords:4" then each record as
// (key length-prefixed, value length-prefixed).
func (b *Bucket) WriteTo(w *block.Writer) bool {
	if !w.U32(uint32(len(b.Records))) {
		return false
	}
	for _, r := range b.Records {
		if !w.Bytes(r.Key) || !w.Bytes(r.Value) {
			return false
		}
	}
	return true
}

// ReadFrom deserializes a bucket payload previously written by WriteTo.
func (b *Bucket) ReadFrom(r *block.Reader) bool {
	n, ok := r.U32()
	if !ok {
		return false
	}
	recs := make([]Record, 0, n)
	for i := uint32(0); i < n; i++ {
		key, ok := r.Bytes()
		if !ok {
			return false
		}
		val, ok := r.Bytes()
		if !ok {
			return false
		}
		recs = append(recs, Record{Key: key, Value: val})
	}
	b.Records = recs
	return true
}
