package record

import (
	"bytes"
	"testing"

	"github.com/weicao/cascadb/options"
)

func TestBucketsInsertGetDelete(t *testing.T) {
	bs := NewBuckets(256, options.BytewiseComparator)
	bs.Insert(Record{Key: []byte("b"), Value: []byte("2")})
	bs.Insert(Record{Key: []byte("a"), Value: []byte("1")})
	bs.Insert(Record{Key: []byte("c"), Value: []byte("3")})

	if r, ok := bs.Get([]byte("b")); !ok || string(r.Value) != "2" {
		t.Fatalf("Get(b) = %+v, %v", r, ok)
	}
	bs.Delete([]byte("b"))
	if _, ok := bs.Get([]byte("b")); ok {
		t.Fatal("expected b to be deleted")
	}
	if bs.RecordCount() != 2 {
		t.Fatalf("expected 2 records left, got %d", bs.RecordCount())
	}
}

func TestBucketsSplitSingleBucketRecordWise(t *testing.T) {
	bs := NewBuckets(4096, options.BytewiseComparator)
	for _, k := range []string{"a", "b", "c", "d"} {
		bs.Insert(Record{Key: []byte(k), Value: []byte("v")})
	}
	if bs.Len() != 1 {
		t.Fatalf("expected single bucket before split, got %d", bs.Len())
	}
	right := NewBuckets(4096, options.BytewiseComparator)
	sep := bs.Split(right)
	if bs.RecordCount()+right.RecordCount() != 4 {
		t.Fatalf("split lost records: left=%d right=%d", bs.RecordCount(), right.RecordCount())
	}
	if !bytes.Equal(sep, right.list[0].FirstKey()) {
		t.Fatalf("promoted separator mismatch: %q vs %q", sep, right.list[0].FirstKey())
	}
}

func TestBucketsPushBackOpensNewBucketWhenFull(t *testing.T) {
	small := Record{Key: []byte("k"), Value: []byte("v")}.Size()
	bs := NewBuckets(small, options.BytewiseComparator)
	bs.PushBack(Record{Key: []byte("a"), Value: []byte("v")})
	bs.PushBack(Record{Key: []byte("b"), Value: []byte("v")})
	if bs.Len() != 2 {
		t.Fatalf("expected 2 buckets once the first is full, got %d", bs.Len())
	}
}

func TestBucketRoundTrip(t *testing.T) {
	b := &Bucket{Records: []Record{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("22")},
	}}
	blk := newTestBlock(b.SizeBytes())
	w := blk.Writer()
	if !b.WriteTo(w) {
		t.Fatal("WriteTo failed")
	}
	var b2 Bucket
	r := blk.Reader()
	if !b2.ReadFrom(r) {
		t.Fatal("ReadFrom failed")
	}
	if len(b2.Records) != 2 || string(b2.Records[1].Value) != "22" {
		t.Fatalf("round trip mismatch: %+v", b2.Records)
	}
}
