package message

import (
	"bytes"
	"testing"

	"github.com/weicao/cascadb/block"
	"github.com/weicao/cascadb/options"
)

func TestBufferWriteDedupAndOrder(t *testing.T) {
	b := New(options.BytewiseComparator)
	b.Write(Message{Kind: Put, Key: []byte("c"), Value: []byte("1")})
	b.Write(Message{Kind: Put, Key: []byte("a"), Value: []byte("1")})
	b.Write(Message{Kind: Put, Key: []byte("b"), Value: []byte("1")})
	b.Write(Message{Kind: Put, Key: []byte("a"), Value: []byte("2")}) // replaces

	msgs := b.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", len(msgs))
	}
	wantKeys := []string{"a", "b", "c"}
	for i, w := range wantKeys {
		if string(msgs[i].Key) != w {
			t.Fatalf("messages[%d].Key = %q, want %q", i, msgs[i].Key, w)
		}
	}
	if string(msgs[0].Value) != "2" {
		t.Fatalf("expected replaced value %q, got %q", "2", msgs[0].Value)
	}
}

func TestBufferFindAndClear(t *testing.T) {
	b := New(options.BytewiseComparator)
	b.Write(Message{Kind: Put, Key: []byte("k"), Value: []byte("v")})
	if m, ok := b.Find([]byte("k")); !ok || string(m.Value) != "v" {
		t.Fatalf("Find failed: %v %v", m, ok)
	}
	b.Clear()
	if b.Count() != 0 {
		t.Fatalf("expected empty buffer after Clear, got count %d", b.Count())
	}
	if _, ok := b.Find([]byte("k")); ok {
		t.Fatal("expected Find to miss after Clear")
	}
}

func TestBufferSplitAcrossManyInserts(t *testing.T) {
	b := New(options.BytewiseComparator)
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte{byte(i >> 8), byte(i)}
		b.Write(Message{Kind: Put, Key: key, Value: []byte("v")})
	}
	msgs := b.Messages()
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if bytes.Compare(msgs[i-1].Key, msgs[i].Key) >= 0 {
			t.Fatalf("messages not strictly increasing at %d", i)
		}
	}
}

func TestBufferSerializeRoundTrip(t *testing.T) {
	b := New(options.BytewiseComparator)
	b.Write(Message{Kind: Put, Key: []byte("a"), Value: []byte("1")})
	b.Write(Message{Kind: Del, Key: []byte("b")})
	b.Write(Message{Kind: Put, Key: []byte("c"), Value: []byte("333")})

	blk := block.New(b.SizeBytes())
	w := blk.Writer()
	if !b.WriteTo(w) {
		t.Fatal("WriteTo failed")
	}

	b2 := New(options.BytewiseComparator)
	r := blk.Reader()
	if !b2.ReadFrom(r) {
		t.Fatal("ReadFrom failed")
	}
	got := b2.Messages()
	want := b.Messages()
	if len(got) != len(want) {
		t.Fatalf("round trip count mismatch: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i].Kind || !bytes.Equal(got[i].Key, want[i].Key) || !bytes.Equal(got[i].Value, want[i].Value) {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestBufferAppendRangeMergesSortedRange(t *testing.T) {
	b := New(options.BytewiseComparator)
	b.Write(Message{Kind: Put, Key: []byte("a"), Value: []byte("1")})
	b.Write(Message{Kind: Put, Key: []byte("z"), Value: []byte("1")})
	b.AppendRange([]Message{
		{Kind: Put, Key: []byte("m"), Value: []byte("1")},
		{Kind: Del, Key: []byte("z")},
	})
	msgs := b.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after merge, got %d", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if string(last.Key) != "z" || last.Kind != Del {
		t.Fatalf("expected z to be a Del after merge, got %+v", last)
	}
}
