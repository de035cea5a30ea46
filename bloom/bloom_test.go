package bloom

import "testing"

func TestBuildAndMatch(t *testing.T) {
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma"), []byte("delta")}
	f := Build(keys)
	if f == nil {
		t.Fatal("expected non-nil filter for >= 2 keys")
	}
	for _, k := range keys {
		if !Matches(k, f) {
			t.Errorf("expected filter to match key %q", k)
		}
	}
}

func TestEmptyFilterMatchesNothingSingleKeyFilterMatches(t *testing.T) {
	if f := Build(nil); f != nil {
		t.Errorf("expected nil filter for 0 keys, got %v", f)
	}
	if f := Build([][]byte{[]byte("only")}); len(f) != Size(1) || !Matches([]byte("only"), f) {
		t.Errorf("expected a %d-byte filter matching its 1 key, got %v", Size(1), f)
	}
	if Matches([]byte("x"), nil) {
		t.Error("expected no match against nil filter")
	}
	if Matches([]byte("x"), []byte{0x01}) {
		t.Error("expected no match against a filter shorter than 2 bytes")
	}
}

func TestSizeIsPureFunctionOfKeyCount(t *testing.T) {
	if Size(0) != 0 {
		t.Errorf("Size(0) = %d, want 0", Size(0))
	}
	n := 1000
	want := Size(n)
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte{byte(i), byte(i >> 8)}
	}
	got := len(Build(keys))
	if got != want {
		t.Errorf("Build produced %d bytes, Size predicted %d", got, want)
	}
}
