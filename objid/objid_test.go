package objid

import "testing"

func TestFromHexRoundTrip(t *testing.T) {
	const s = "ce013625030ba8dba906f756967f9e9ca394464a"
	id, err := FromHex(s)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if got := id.String(); got != s {
		t.Fatalf("String() = %q, want %q", got, s)
	}
}

func TestSumMatchesKnownBlob(t *testing.T) {
	// "blob 6\0hello\n" hashes to the well-known blob id used throughout
	// the test suite and in spec.md's loose-object round-trip scenario.
	header := append([]byte("blob 6\x00"), []byte("hello\n")...)
	id := Sum(header)
	want := "ce013625030ba8dba906f756967f9e9ca394464a"
	if got := id.String(); got != want {
		t.Fatalf("Sum() = %s, want %s", got, want)
	}
}

func TestCompareOrdering(t *testing.T) {
	a, _ := FromHex("000000000000000000000000000000000000000a")
	b, _ := FromHex("000000000000000000000000000000000000000b")
	if !a.Less(b) {
		t.Fatalf("expected a < b")
	}
	if b.Less(a) {
		t.Fatalf("expected !(b < a)")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected a == a")
	}
}

func TestHasHexPrefix(t *testing.T) {
	id, _ := FromHex("ce013625030ba8dba906f756967f9e9ca394464a")
	if !id.HasHexPrefix("ce01") {
		t.Fatalf("expected prefix match")
	}
	if id.HasHexPrefix("ce02") {
		t.Fatalf("expected prefix mismatch")
	}
}

func TestFromBytesWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 19)); err == nil {
		t.Fatalf("expected error for short input")
	}
}
