package cascadb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/weicao/cascadb/options"
)

func tempDBPath(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "cascadb_test")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, name)
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })
	return path
}

// TestPutGetBasic covers spec.md §8's basic round-trip scenario: put a
// handful of keys, read them back before any flush.
func TestPutGetBasic(t *testing.T) {
	db, err := Open(tempDBPath(t, "basic.casc"), options.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		val := []byte(fmt.Sprintf("v%03d", i))
		if err := db.Put(key, val); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		want := fmt.Sprintf("v%03d", i)
		v, ok, err := db.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !ok || string(v) != want {
			t.Fatalf("Get(%s) = %q,%v want %q,true", key, v, ok, want)
		}
	}
}

// TestDeleteSemantics covers delete-then-get and overwrite semantics.
func TestDeleteSemantics(t *testing.T) {
	db, err := Open(tempDBPath(t, "delete.casc"), options.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("a"), []byte("2")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get([]byte("a"))
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("got %q,%v,%v want 2,true,nil", v, ok, err)
	}

	if err := db.Del([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := db.Get([]byte("a")); err != nil || ok {
		t.Fatalf("expected a to be gone, got ok=%v err=%v", ok, err)
	}
	if err := db.Del([]byte("does-not-exist")); err != nil {
		t.Fatalf("deleting an absent key should not error: %v", err)
	}
}

// TestCascadeAndSplit forces small thresholds so that a moderate insert
// volume drives buffer cascades and node splits (spec.md §8's
// cascade-under-pressure scenario).
func TestCascadeAndSplit(t *testing.T) {
	o := options.Default()
	o.InnerNodeMsgCount = 4
	o.LeafNodeRecordCount = 4

	db, err := Open(tempDBPath(t, "cascade.casc"), o)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))
		if err := db.Put(key, val); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("val-%05d", i)
		v, ok, err := db.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !ok || string(v) != want {
			t.Fatalf("Get(%s) = %q,%v want %q,true", key, v, ok, want)
		}
	}
}

// TestFlushAndReopen covers durable readback: a batch of writes, an
// explicit Flush and Close, then a fresh Open against the same file must
// see everything written before the flush.
func TestFlushAndReopen(t *testing.T) {
	path := tempDBPath(t, "reopen.casc")
	o := options.Default()
	o.InnerNodeMsgCount = 8
	o.LeafNodeRecordCount = 8

	db, err := Open(path, o)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const n = 300
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("rk-%05d", i))
		val := []byte(fmt.Sprintf("rv-%05d", i))
		if err := db.Put(key, val); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, o)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("rk-%05d", i))
		want := fmt.Sprintf("rv-%05d", i)
		v, ok, err := db2.Get(key)
		if err != nil {
			t.Fatalf("Get(%s) after reopen: %v", key, err)
		}
		if !ok || string(v) != want {
			t.Fatalf("Get(%s) after reopen = %q,%v want %q,true", key, v, ok, want)
		}
	}

	s := db2.Stats()
	if s.NodeCount == 0 {
		t.Fatalf("expected a nonzero recovered node count after reopen")
	}
}

// TestBatchDeleteShrinksFileOnFlush covers spec.md §8 scenario 6: insert
// a batch, flush, delete all of it, flush again, and confirm the
// on-disk file length actually dropped (not just that the in-memory
// hole list grew) — the deleted nodes' extents must be reclaimed all
// the way down to a smaller high-water mark, not just tracked as holes
// that never shrink the file.
func TestBatchDeleteShrinksFileOnFlush(t *testing.T) {
	o := options.Default()
	o.InnerNodeMsgCount = 4
	o.LeafNodeRecordCount = 4

	path := tempDBPath(t, "shrink.casc")
	db, err := Open(path, o)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("hk-%05d", i))
		if err := db.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat before delete: %v", err)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("hk-%05d", i))
		if err := db.Del(key); err != nil {
			t.Fatalf("Del(%s): %v", key, err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat after delete: %v", err)
	}

	if after.Size() >= before.Size() {
		t.Fatalf("file size after deleting everything and flushing = %d, want it below the pre-delete size %d", after.Size(), before.Size())
	}

	s := db.Stats()
	if s.HoleCount == 0 && s.HoleBytes == 0 {
		t.Fatalf("expected deleted nodes to leave reclaimable holes")
	}
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	db, err := Open(tempDBPath(t, "closed.casc"), options.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if err := db.Put([]byte("a"), []byte("1")); err == nil {
		t.Fatal("expected Put after Close to fail")
	}
	if _, _, err := db.Get([]byte("a")); err == nil {
		t.Fatal("expected Get after Close to fail")
	}
}
