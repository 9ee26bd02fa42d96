package agg

import (
	"math"
	"reflect"
	"testing"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

func TestSumFloat(t *testing.T) {
	a := &SumFloat64Aggregator{}
	a.Seq(nil, math.Float64bits(1.5), false)
	a.Seq(nil, 0, true)
	a.Seq(nil, math.Float64bits(2.5), false)

	b := a.NewInstance()
	b.Seq(nil, math.Float64bits(10), false)
	if err := a.Comb(b); err != nil {
		t.Fatal(err)
	}

	r := region.New()
	rvb := types.NewBuilder(r)
	st := types.TStructOf(types.Field{Name: "v", Typ: a.ResultType()})
	rvb.Start(st)
	rvb.StartStruct(true)
	a.Result(rvb)
	rvb.EndStruct()
	got := types.Load(st, r, rvb.End()).(types.Row)[0]
	if got.(float64) != 14 {
		t.Fatalf("sum = %v", got)
	}
}

func TestCombMismatch(t *testing.T) {
	a := &SumInt64Aggregator{}
	b := &CountAggregator{}
	if err := a.Comb(b); err == nil {
		t.Fatal("combining different aggregator kinds must fail")
	}
}

func TestCollectCopiesOutOfRegion(t *testing.T) {
	r := region.New()
	c := NewCollect(types.TString{})
	b := types.NewBuilder(r)
	b.Start(types.TString{})
	b.AddString("hello")
	off := b.End()
	c.Seq(r, uint64(off), false)
	// the row region resets between rows, collected state must survive
	r.Clear()
	c.Seq(r, 0, true)

	rr := region.New()
	rvb := types.NewBuilder(rr)
	st := types.TStructOf(types.Field{Name: "v", Typ: c.ResultType()})
	rvb.Start(st)
	rvb.StartStruct(true)
	c.Result(rvb)
	rvb.EndStruct()
	got := types.Load(st, rr, rvb.End()).(types.Row)[0]
	if !reflect.DeepEqual(got, []types.Annotation{"hello", nil}) {
		t.Fatalf("collect = %v", got)
	}
}
