package interval

import (
	"reflect"
	"testing"
)

func intOrd(a, b Point) int {
	ai, bi := a.(int), b.(int)
	if ai < bi {
		return -1
	}
	if ai > bi {
		return 1
	}
	return 0
}

func TestDefinitelyEmpty(t *testing.T) {
	if New(1, 1, true, true).DefinitelyEmpty(intOrd) {
		t.Fatal("[1, 1] contains 1")
	}
	if !New(1, 1, true, false).DefinitelyEmpty(intOrd) {
		t.Fatal("[1, 1) is empty")
	}
	if !New(1, 1, false, false).DefinitelyEmpty(intOrd) {
		t.Fatal("(1, 1) is empty")
	}
	if New(1, 2, false, false).DefinitelyEmpty(intOrd) {
		t.Fatal("(1, 2) is not provably empty")
	}
}

func TestContains(t *testing.T) {
	iv := New(10, 20, true, false)
	for p, want := range map[int]bool{9: false, 10: true, 15: true, 19: true, 20: false} {
		if iv.Contains(intOrd, p) != want {
			t.Fatalf("contains(%d) != %v", p, want)
		}
	}
}

func TestMayOverlap(t *testing.T) {
	a := New(1, 5, true, false)
	cases := []struct {
		b    Interval
		want bool
	}{
		{New(5, 10, true, true), false}, // a excludes 5
		{New(4, 10, true, true), true},
		{New(0, 1, true, true), true},   // shares 1
		{New(0, 1, true, false), false}, // ends before 1
		{New(6, 7, true, true), false},
	}
	for i, c := range cases {
		if a.MayOverlap(intOrd, c.b) != c.want {
			t.Fatalf("case %d: overlap != %v", i, c.want)
		}
	}
}

func partitionBounds() []Interval {
	// adjacent bounds in the partitioner style: (prev, end]
	return []Interval{
		New(0, 10, true, true),
		New(10, 20, false, true),
		New(20, 30, false, true),
		New(30, 40, false, true),
	}
}

func TestTreeContainingIndex(t *testing.T) {
	tree := NewTree(intOrd, partitionBounds())
	cases := map[int]int{0: 0, 5: 0, 10: 0, 11: 1, 20: 1, 25: 2, 40: 3}
	for p, want := range cases {
		got, ok := tree.ContainingIndex(p)
		if !ok || got != want {
			t.Fatalf("containing(%d) = %d, %v; want %d", p, got, ok, want)
		}
	}
	if _, ok := tree.ContainingIndex(41); ok {
		t.Fatal("41 is outside every bound")
	}
	if _, ok := tree.ContainingIndex(-1); ok {
		t.Fatal("-1 is outside every bound")
	}
}

func TestTreeQueryOverlapping(t *testing.T) {
	tree := NewTree(intOrd, partitionBounds())
	got := tree.QueryOverlapping(New(15, 25, true, true))
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("expected partitions [1 2], got %v", got)
	}
	got = tree.QueryOverlapping(New(-5, 100, true, true))
	if !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("expected every partition, got %v", got)
	}
	got = tree.QueryOverlapping(New(50, 60, true, true))
	if len(got) != 0 {
		t.Fatalf("expected no partitions, got %v", got)
	}
}

func TestTreeQueryPoint(t *testing.T) {
	// overlapping intervals: point queries may return several
	ivs := []Interval{
		New(0, 10, true, true),
		New(5, 15, true, true),
		New(12, 20, true, true),
	}
	tree := NewTree(intOrd, ivs)
	got := tree.QueryPoint(7)
	if !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("expected [0 1], got %v", got)
	}
}
