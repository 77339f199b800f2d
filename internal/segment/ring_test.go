package segment

import "testing"

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	want := []int{3, 4, 5}
	got := r.Items()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items = %v, want %v", got, want)
		}
	}
}

func TestRingPartialFill(t *testing.T) {
	r := NewRing[string](4)
	r.Push("a")
	r.Push("b")
	got := r.Items()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("items = %v, want [a b]", got)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("len = %d after reset, want 0", r.Len())
	}
}
