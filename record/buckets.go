package record

import (
	"sort"

	"github.com/weicao/cascadb/options"
)

// Buckets is the ordered sequence of Bucket that makes up one leaf's
// records.
type Buckets struct {
	list       []*Bucket
	bucketSize int // leaf_node_bucket_size
	cmp        options.Comparator
}

// NewBuckets creates an empty bucket sequence.
func NewBuckets(bucketSize int, cmp options.Comparator) *Buckets {
	return &Buckets{bucketSize: bucketSize, cmp: cmp}
}

// List exposes the underlying buckets for serialization.
func (bs *Buckets) List() []*Bucket { return bs.list }

// SetList installs buckets directly (used by deserialization).
func (bs *Buckets) SetList(list []*Bucket) { bs.list = list }

// Len returns the number of buckets.
func (bs *Buckets) Len() int { return len(bs.list) }

// Empty reports whether there are zero records across all buckets.
func (bs *Buckets) Empty() bool {
	return bs.RecordCount() == 0
}

// RecordCount returns the total number of records across all buckets.
func (bs *Buckets) RecordCount() int {
	n := 0
	for _, b := range bs.list {
		n += len(b.Records)
	}
	return n
}

// SizeBytes returns the total on-wire payload size of every bucket.
func (bs *Buckets) SizeBytes() int {
	s := 0
	for _, b := range bs.list {
		s += b.SizeBytes()
	}
	return s
}

// PushBack extends the last bucket with rec if that keeps it within
// bucketSize, else opens a new bucket. rec must sort after every
// existing record (callers append in key order during cascade/merge).
func (bs *Buckets) PushBack(rec Record) {
	if len(bs.list) > 0 {
		last := bs.list[len(bs.list)-1]
		if last.SizeBytes()+rec.Size() <= bs.bucketSize || len(last.Records) == 0 {
			last.Records = append(last.Records, rec)
			return
		}
	}
	bs.list = append(bs.list, &Bucket{Records: []Record{rec}})
}

// locate returns the index of the bucket whose key range may contain k:
// the last bucket whose first key is <= k, or 0 if k sorts before
// everything.
func (bs *Buckets) locate(k []byte) int {
	if len(bs.list) == 0 {
		return -1
	}
	idx := sort.Search(len(bs.list), func(i int) bool {
		return bs.cmp.Compare(bs.list[i].FirstKey(), k) > 0
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// Get returns the record with key k, if present.
func (bs *Buckets) Get(k []byte) (Record, bool) {
	idx := bs.locate(k)
	if idx < 0 {
		return Record{}, false
	}
	return bs.list[idx].Get(k, bs.cmp)
}

// Insert adds a new record in sorted position, splicing it into the
// bucket whose range it falls into (a new bucket when there are none)
// and splitting that bucket in half if it grows past bucketSize.
func (bs *Buckets) Insert(rec Record) {
	idx := bs.locate(rec.Key)
	if idx < 0 {
		bs.list = append(bs.list, &Bucket{Records: []Record{rec}})
		return
	}
	b := bs.list[idx]
	pos := b.find(rec.Key, bs.cmp)
	b.Records = append(b.Records, Record{})
	copy(b.Records[pos+1:], b.Records[pos:len(b.Records)-1])
	b.Records[pos] = rec

	if b.SizeBytes() > bs.bucketSize && len(b.Records) > 1 {
		bs.splitBucket(idx)
	}
}

func (bs *Buckets) splitBucket(idx int) {
	b := bs.list[idx]
	mid := len(b.Records) / 2
	left := &Bucket{Records: append([]Record(nil), b.Records[:mid]...)}
	right := &Bucket{Records: append([]Record(nil), b.Records[mid:]...)}
	bs.list = append(bs.list, nil)
	copy(bs.list[idx+2:], bs.list[idx+1:len(bs.list)-1])
	bs.list[idx] = left
	bs.list[idx+1] = right
}

// Replace overwrites the record at key k with rec (caller has already
// confirmed k is present).
func (bs *Buckets) Replace(k []byte, rec Record) {
	idx := bs.locate(k)
	if idx < 0 {
		return
	}
	b := bs.list[idx]
	pos := b.find(k, bs.cmp)
	if pos < len(b.Records) && bs.cmp.Compare(b.Records[pos].Key, k) == 0 {
		b.Records[pos] = rec
	}
}

// Delete removes the record with key k, if present, compacting empty
// buckets away.
func (bs *Buckets) Delete(k []byte) {
	idx := bs.locate(k)
	if idx < 0 {
		return
	}
	b := bs.list[idx]
	pos := b.find(k, bs.cmp)
	if pos >= len(b.Records) || bs.cmp.Compare(b.Records[pos].Key, k) != 0 {
		return
	}
	b.Records = append(b.Records[:pos], b.Records[pos+1:]...)
	if len(b.Records) == 0 {
		bs.list = append(bs.list[:idx], bs.list[idx+1:]...)
	}
}

// Split halves the leaf's records into the receiver (left) and other
// (right, assumed empty), returning the first key of the right side (the
// promoted separator). If there is a single bucket it is split in half
// record-wise; otherwise the split is bucket-wise.
func (bs *Buckets) Split(other *Buckets) []byte {
	if len(bs.list) <= 1 {
		var recs []Record
		if len(bs.list) == 1 {
			recs = bs.list[0].Records
		}
		mid := len(recs) / 2
		bs.list = nil
		if mid > 0 {
			bs.list = []*Bucket{{Records: append([]Record(nil), recs[:mid]...)}}
		}
		other.list = []*Bucket{{Records: append([]Record(nil), recs[mid:]...)}}
		return other.list[0].FirstKey()
	}

	mid := len(bs.list) / 2
	right := bs.list[mid:]
	bs.list = bs.list[:mid]
	other.list = right
	return other.list[0].FirstKey()
}
