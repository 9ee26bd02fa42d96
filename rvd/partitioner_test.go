package rvd

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danthegoodman1/strata/interval"
	"github.com/danthegoodman1/strata/types"
)

func intPK() *types.TStruct {
	return types.TStructOf(types.Field{Name: "k", Typ: types.TInt32{Req: true}})
}

func pkRow(k int32) types.Row {
	return types.Row{k}
}

func intBounds(cuts ...int32) []interval.Interval {
	// [cuts[0], cuts[1]], (cuts[1], cuts[2]], ...
	bounds := make([]interval.Interval, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		bounds[i] = interval.New(pkRow(cuts[i]), pkRow(cuts[i+1]), i == 0, true)
	}
	return bounds
}

func TestPartitionerInvariants(t *testing.T) {
	if _, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20, 30)); err != nil {
		t.Fatalf("valid bounds rejected: %s", err)
	}

	// gap between bounds
	bad := []interval.Interval{
		interval.New(pkRow(0), pkRow(10), true, true),
		interval.New(pkRow(11), pkRow(20), false, true),
	}
	if _, err := NewOrderedPartitioner(intPK(), bad); err == nil {
		t.Fatal("non-adjacent bounds must be rejected")
	}

	// both endpoints inclusive at the adjacency
	bad = []interval.Interval{
		interval.New(pkRow(0), pkRow(10), true, true),
		interval.New(pkRow(10), pkRow(20), true, true),
	}
	if _, err := NewOrderedPartitioner(intPK(), bad); err == nil {
		t.Fatal("doubly-inclusive adjacency must be rejected")
	}

	// definitely empty bound
	bad = []interval.Interval{
		interval.New(pkRow(0), pkRow(10), true, false),
		interval.New(pkRow(10), pkRow(10), true, false),
	}
	if _, err := NewOrderedPartitioner(intPK(), bad); err == nil {
		t.Fatal("definitely-empty bound must be rejected")
	}
}

func TestGetPartition(t *testing.T) {
	p, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20, 30))
	if err != nil {
		t.Fatal(err)
	}
	cases := map[int32]int{0: 0, 5: 0, 10: 0, 11: 1, 20: 1, 30: 2}
	for k, want := range cases {
		if got := p.GetPartition(pkRow(k)); got != want {
			t.Fatalf("getPartition(%d) = %d, want %d", k, got, want)
		}
	}
	// out-of-range keys clamp
	if p.GetPartition(pkRow(-5)) != 0 {
		t.Fatal("keys below the range must clamp to 0")
	}
	if p.GetPartition(pkRow(99)) != p.NumPartitions()-1 {
		t.Fatal("keys above the range must clamp to N-1")
	}
	// a full key projects to its PK prefix
	if p.GetPartition(types.Row{int32(15), "suffix"}) != 1 {
		t.Fatal("prefix keys must be honored")
	}
}

func TestGetPartitionRange(t *testing.T) {
	p, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20, 30))
	if err != nil {
		t.Fatal(err)
	}
	got := p.GetPartitionRange(interval.New(pkRow(5), pkRow(15), true, true))
	if !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("partition range = %v", got)
	}
}

func TestEnlargeToRange(t *testing.T) {
	p, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20, 30))
	if err != nil {
		t.Fatal(err)
	}
	bigger, err := p.EnlargeToRange(intPK(), interval.New(pkRow(-100), pkRow(100), true, true))
	if err != nil {
		t.Fatal(err)
	}
	r := bigger.Range()
	if bigger.ord(r.Start, pkRow(-100)) != 0 || bigger.ord(r.End, pkRow(100)) != 0 {
		t.Fatal("range was not enlarged")
	}
	if !r.IncludesStart || !r.IncludesEnd {
		t.Fatal("enlarged endpoints must be inclusive")
	}

	// a different point type is an error, not a guess
	otherPK := types.TStructOf(types.Field{Name: "k", Typ: types.TString{Req: true}})
	_, err = p.EnlargeToRange(otherPK, interval.New(types.Row{"a"}, types.Row{"z"}, true, true))
	if !errors.Is(err, ErrPointTypeMismatch) {
		t.Fatalf("expected ErrPointTypeMismatch, got %v", err)
	}
}

func TestCoalesceRangeBounds(t *testing.T) {
	p, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20, 30, 40))
	if err != nil {
		t.Fatal(err)
	}
	merged, err := p.CoalesceRangeBounds([]int{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if merged.NumPartitions() != 2 {
		t.Fatalf("expected 2 partitions, got %d", merged.NumPartitions())
	}
	// group 0 spans old bounds 0-1, group 1 spans 2-3
	if merged.ord(merged.RangeBounds[0].End, pkRow(20)) != 0 {
		t.Fatal("group 0 must end at 20")
	}
	if merged.ord(merged.RangeBounds[1].Start, pkRow(20)) != 0 {
		t.Fatal("group 1 must start at 20")
	}
	if merged.GetPartition(pkRow(35)) != 1 {
		t.Fatal("coalesced lookup broken")
	}
}

func TestSubsetStretchesBounds(t *testing.T) {
	p, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20, 30, 40))
	if err != nil {
		t.Fatal(err)
	}
	sub, err := p.Subset([]int{0, 3})
	if err != nil {
		t.Fatal(err)
	}
	if sub.NumPartitions() != 2 {
		t.Fatal("wrong subset size")
	}
	// the second kept bound stretches back over the dropped range
	if sub.ord(sub.RangeBounds[1].Start, pkRow(10)) != 0 {
		t.Fatal("subset bound must stretch to the previous kept end")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	p, err := NewOrderedPartitioner(intPK(), intBounds(0, 10, 20))
	if err != nil {
		t.Fatal(err)
	}
	c := p.Copy()
	if !p.Same(c) {
		t.Fatal("copy must equal the source")
	}
	c.RangeBounds[0] = interval.New(pkRow(-1), pkRow(10), true, true)
	if p.ord(p.RangeBounds[0].Start, pkRow(0)) != 0 {
		t.Fatal("copy shares bounds with source")
	}
}
