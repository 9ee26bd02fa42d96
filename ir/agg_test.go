package ir

import (
	"reflect"
	"testing"

	"github.com/danthegoodman1/strata/agg"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

func runAgg(t *testing.T, body IR, elemType types.Type, elems []types.Annotation) types.Annotation {
	t.Helper()
	fn, err := CompileAgg(body, elemType)
	if err != nil {
		t.Fatalf("compile: %s", err)
	}
	aggs, err := fn.NewAggregators()
	if err != nil {
		t.Fatal(err)
	}
	fr := fn.NewFrame(region.New())
	for _, e := range elems {
		if err := fn.SeqOp(fr, aggs, e); err != nil {
			t.Fatalf("seqOp: %s", err)
		}
	}
	out, err := fn.RunWithAggs(fr, aggs)
	if err != nil {
		t.Fatalf("result: %s", err)
	}
	return out
}

func aggIn() *AggIn { return &AggIn{T: types.TInt32{}} }

func TestSumOfFilterScenario(t *testing.T) {
	// sum(filter(a, x -> x > 0)) over [1, null, -2, 3] is 4
	body := &ApplyAggOp{
		A: &AggFilter{
			A:    aggIn(),
			Name: "x",
			Body: &ApplyBinaryPrimOp{Op: OpGT, L: &Ref{Name: "x"}, R: &I32{V: 0}},
		},
		Op: AggSum,
	}
	got := runAgg(t, body, types.TInt32{}, []types.Annotation{int32(1), nil, int32(-2), int32(3)})
	if got.(int64) != 4 {
		t.Fatalf("sum(filter) = %v", got)
	}
	// over all-missing the aggregator's defined zero comes back, not missing
	got = runAgg(t, body, types.TInt32{}, []types.Annotation{nil, nil})
	if got == nil || got.(int64) != 0 {
		t.Fatalf("sum over all-missing must be a present 0, got %v", got)
	}
}

func TestCountAndCollect(t *testing.T) {
	count := &ApplyAggOp{A: aggIn(), Op: AggCount}
	got := runAgg(t, count, types.TInt32{}, []types.Annotation{int32(1), nil, int32(3)})
	if got.(int64) != 3 {
		t.Fatalf("count = %v", got)
	}

	collect := &ApplyAggOp{A: aggIn(), Op: AggCollect}
	got = runAgg(t, collect, types.TInt32{}, []types.Annotation{int32(1), nil, int32(3)})
	if !reflect.DeepEqual(got, []types.Annotation{int32(1), nil, int32(3)}) {
		t.Fatalf("collect = %v", got)
	}
}

func TestAggMapAndFlatMap(t *testing.T) {
	// sum over doubled elements
	doubled := &ApplyAggOp{
		A: &AggMap{A: aggIn(), Name: "x",
			Body: &ApplyBinaryPrimOp{Op: OpMul, L: &Ref{Name: "x"}, R: &I32{V: 2}}},
		Op: AggSum,
	}
	got := runAgg(t, doubled, types.TInt32{}, []types.Annotation{int32(1), int32(2), int32(3)})
	if got.(int64) != 12 {
		t.Fatalf("sum of doubled = %v", got)
	}

	// each element expands to [x, x+1]
	expanded := &ApplyAggOp{
		A: &AggFlatMap{A: aggIn(), Name: "x",
			Body: &MakeArray{ElemType: types.TInt32{}, Elems: []IR{
				&Ref{Name: "x"},
				&ApplyBinaryPrimOp{Op: OpAdd, L: &Ref{Name: "x"}, R: &I32{V: 1}},
			}}},
		Op: AggCount,
	}
	got = runAgg(t, expanded, types.TInt32{}, []types.Annotation{int32(1), int32(5)})
	if got.(int64) != 4 {
		t.Fatalf("flatmap count = %v", got)
	}
}

func TestMinMaxFraction(t *testing.T) {
	min := &ApplyAggOp{A: aggIn(), Op: AggMin}
	got := runAgg(t, min, types.TInt32{}, []types.Annotation{int32(5), int32(-1), nil, int32(3)})
	if got.(int64) != -1 {
		t.Fatalf("min = %v", got)
	}
	// min over no defined elements is missing
	got = runAgg(t, min, types.TInt32{}, []types.Annotation{nil})
	if got != nil {
		t.Fatalf("min over missing must be missing, got %v", got)
	}

	frac := &ApplyAggOp{
		A: &AggMap{A: aggIn(), Name: "x",
			Body: &ApplyBinaryPrimOp{Op: OpGT, L: &Ref{Name: "x"}, R: &I32{V: 0}}},
		Op: AggFraction,
	}
	got = runAgg(t, frac, types.TInt32{}, []types.Annotation{int32(1), int32(-1), int32(2), int32(4)})
	if got.(float64) != 0.75 {
		t.Fatalf("fraction = %v", got)
	}
}

func TestTake(t *testing.T) {
	take := &ApplyAggOp{A: aggIn(), Op: AggTake, Args: []IR{&I32{V: 2}}}
	got := runAgg(t, take, types.TInt32{}, []types.Annotation{int32(9), int32(8), int32(7)})
	if !reflect.DeepEqual(got, []types.Annotation{int32(9), int32(8)}) {
		t.Fatalf("take = %v", got)
	}
}

func TestCombAcrossPartitions(t *testing.T) {
	body := &ApplyAggOp{A: aggIn(), Op: AggSum}
	fn, err := CompileAgg(body, types.TInt32{})
	if err != nil {
		t.Fatal(err)
	}
	partitions := [][]types.Annotation{
		{int32(1), int32(2)},
		{int32(10), nil},
		{int32(100)},
	}
	var states []agg.Aggregator
	for _, rows := range partitions {
		aggs, err := fn.NewAggregators()
		if err != nil {
			t.Fatal(err)
		}
		fr := fn.NewFrame(region.New())
		for _, e := range rows {
			if err := fn.SeqOp(fr, aggs, e); err != nil {
				t.Fatal(err)
			}
		}
		if states == nil {
			states = aggs
		} else {
			for i := range states {
				if err := states[i].Comb(aggs[i]); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	fr := fn.NewFrame(region.New())
	got, err := fn.RunWithAggs(fr, states)
	if err != nil {
		t.Fatal(err)
	}
	if got.(int64) != 113 {
		t.Fatalf("combined sum = %v", got)
	}
}

func TestNestedAggRejected(t *testing.T) {
	nested := &ApplyAggOp{
		A: &AggMap{A: aggIn(), Name: "x",
			Body: &ApplyAggOp{A: aggIn(), Op: AggCount}},
		Op: AggSum,
	}
	if _, err := CompileAgg(nested, types.TInt32{}); err == nil {
		t.Fatal("nested aggregation must be rejected")
	}
}

func TestInInsideAggRejected(t *testing.T) {
	body := &ApplyAggOp{
		A: &AggMap{A: aggIn(), Name: "x",
			Body: &ApplyBinaryPrimOp{Op: OpAdd, L: &Ref{Name: "x"}, R: &In{I: 0, T: types.TInt32{}}}},
		Op: AggSum,
	}
	if _, err := CompileAgg(body, types.TInt32{}, types.TInt32{}); err == nil {
		t.Fatal("In inside an aggregable must be rejected")
	}
}
