package ir

import (
	"reflect"
	"testing"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

func run(t *testing.T, body IR, inTypes []types.Type, ins ...types.Annotation) types.Annotation {
	t.Helper()
	fn, err := Compile(body, inTypes...)
	if err != nil {
		t.Fatalf("compile: %s", err)
	}
	fr := fn.NewFrame(region.New())
	out, err := fn.Run(fr, ins...)
	if err != nil {
		t.Fatalf("run: %s", err)
	}
	return out
}

func runErr(t *testing.T, body IR, inTypes []types.Type, ins ...types.Annotation) error {
	t.Helper()
	fn, err := Compile(body, inTypes...)
	if err != nil {
		t.Fatalf("compile: %s", err)
	}
	fr := fn.NewFrame(region.New())
	_, err = fn.Run(fr, ins...)
	return err
}

func i32in() *In { return &In{I: 0, T: types.TInt32{}} }

func TestLiterals(t *testing.T) {
	if got := run(t, &I32{V: 7}, nil); got.(int32) != 7 {
		t.Fatal("int literal")
	}
	if got := run(t, &F64{V: 1.5}, nil); got.(float64) != 1.5 {
		t.Fatal("float literal")
	}
	if got := run(t, &Str{V: "abc"}, nil); got.(string) != "abc" {
		t.Fatal("string literal")
	}
	if got := run(t, &NA{T: types.TInt32{}}, nil); got != nil {
		t.Fatal("NA literal must be missing")
	}
}

func TestIfIsNAScenario(t *testing.T) {
	// If(IsNA(x), 0, x + 1) over x in {null, 4, 7} returns {0, 5, 8}
	body := &If{
		Cond: &IsNA{V: i32in()},
		Then: &I32{V: 0},
		Else: &ApplyBinaryPrimOp{Op: OpAdd, L: i32in(), R: &I32{V: 1}},
	}
	cases := map[types.Annotation]int32{nil: 0, int32(4): 5, int32(7): 8}
	for in, want := range cases {
		got := run(t, body, []types.Type{types.TInt32{}}, in)
		if got.(int32) != want {
			t.Fatalf("x=%v: got %v, want %d", in, got, want)
		}
	}
}

func TestMissingnessPropagation(t *testing.T) {
	in := []types.Type{types.TInt32{}}
	// arithmetic over missing is missing
	add := &ApplyBinaryPrimOp{Op: OpAdd, L: i32in(), R: &I32{V: 1}}
	if got := run(t, add, in, nil); got != nil {
		t.Fatal("missing operand must produce a missing result")
	}
	// comparison over missing is missing
	lt := &ApplyBinaryPrimOp{Op: OpLT, L: i32in(), R: &I32{V: 10}}
	if got := run(t, lt, in, nil); got != nil {
		t.Fatal("missing comparison must be missing")
	}
	// IsNA recovers
	isna := &IsNA{V: i32in()}
	if got := run(t, isna, in, nil); got.(bool) != true {
		t.Fatal("IsNA of missing must be true")
	}
	// MapNA short-circuits
	mapna := &MapNA{Name: "x", Value: i32in(), Body: &ApplyBinaryPrimOp{Op: OpAdd, L: &Ref{Name: "x"}, R: &I32{V: 1}}}
	if got := run(t, mapna, in, nil); got != nil {
		t.Fatal("MapNA of missing must be missing")
	}
	if got := run(t, mapna, in, int32(2)); got.(int32) != 3 {
		t.Fatal("MapNA of present value must run the body")
	}
}

func TestThreeValuedLogic(t *testing.T) {
	in := []types.Type{types.TBoolean{}}
	b := &In{I: 0, T: types.TBoolean{}}
	and := &ApplyBinaryPrimOp{Op: OpAnd, L: b, R: &NA{T: types.TBoolean{}}}
	if got := run(t, and, in, false); got.(bool) != false {
		t.Fatal("false && NA must be false")
	}
	if got := run(t, and, in, true); got != nil {
		t.Fatal("true && NA must be missing")
	}
	or := &ApplyBinaryPrimOp{Op: OpOr, L: b, R: &NA{T: types.TBoolean{}}}
	if got := run(t, or, in, true); got.(bool) != true {
		t.Fatal("true || NA must be true")
	}
	if got := run(t, or, in, false); got != nil {
		t.Fatal("false || NA must be missing")
	}
}

func TestLetBindsOnce(t *testing.T) {
	// let x = a + 1 in x * x
	body := &Let{
		Name:  "x",
		Value: &ApplyBinaryPrimOp{Op: OpAdd, L: i32in(), R: &I32{V: 1}},
		Body:  &ApplyBinaryPrimOp{Op: OpMul, L: &Ref{Name: "x"}, R: &Ref{Name: "x"}},
	}
	if got := run(t, body, []types.Type{types.TInt32{}}, int32(3)); got.(int32) != 16 {
		t.Fatalf("let evaluation: got %v", got)
	}
}

func TestArrayRangeScenario(t *testing.T) {
	mk := func(start, stop, step int32) IR {
		return &ArrayRange{Start: &I32{V: start}, Stop: &I32{V: stop}, Step: &I32{V: step}}
	}
	got := run(t, mk(0, 10, 3), nil)
	if !reflect.DeepEqual(got, []types.Annotation{int32(0), int32(3), int32(6), int32(9)}) {
		t.Fatalf("range(0,10,3) = %v", got)
	}
	got = run(t, mk(10, 0, -3), nil)
	if !reflect.DeepEqual(got, []types.Annotation{int32(10), int32(7), int32(4), int32(1)}) {
		t.Fatalf("range(10,0,-3) = %v", got)
	}
	got = run(t, mk(5, 5, 1), nil)
	if len(got.([]types.Annotation)) != 0 {
		t.Fatalf("range(5,5,1) = %v", got)
	}
	if err := runErr(t, mk(0, 10, 0), nil); err == nil {
		t.Fatal("step 0 must be fatal")
	}
}

func TestArrayOps(t *testing.T) {
	arr := &MakeArray{ElemType: types.TInt32{}, Elems: []IR{
		&I32{V: 1}, &NA{T: types.TInt32{}}, &I32{V: 3},
	}}
	// length sees missing elements
	if got := run(t, &ArrayLen{A: arr}, nil); got.(int32) != 3 {
		t.Fatal("array length")
	}
	// present element
	if got := run(t, &ArrayRef{A: arr, I: &I32{V: 2}}, nil); got.(int32) != 3 {
		t.Fatal("array ref")
	}
	// missing element is missing, not an error
	if got := run(t, &ArrayRef{A: arr, I: &I32{V: 1}}, nil); got != nil {
		t.Fatal("missing element must read as missing")
	}
	// out of bounds with defined inputs is fatal
	if err := runErr(t, &ArrayRef{A: arr, I: &I32{V: 5}}, nil); err == nil {
		t.Fatal("out of bounds must be fatal")
	}
	// missing index is missing
	if got := run(t, &ArrayRef{A: arr, I: &NA{T: types.TInt32{}}}, nil); got != nil {
		t.Fatal("missing index must give a missing result")
	}
}

func TestArrayMapFilterFlatMapFold(t *testing.T) {
	rng := &ArrayRange{Start: &I32{V: 0}, Stop: &I32{V: 5}, Step: &I32{V: 1}}
	squared := &ArrayMap{A: rng, Name: "x",
		Body: &ApplyBinaryPrimOp{Op: OpMul, L: &Ref{Name: "x"}, R: &Ref{Name: "x"}}}
	got := run(t, squared, nil)
	if !reflect.DeepEqual(got, []types.Annotation{int32(0), int32(1), int32(4), int32(9), int32(16)}) {
		t.Fatalf("map: %v", got)
	}

	evens := &ArrayFilter{A: rng, Name: "x",
		Body: &ApplyBinaryPrimOp{Op: OpEQ,
			L: &ApplyBinaryPrimOp{Op: OpMod, L: &Ref{Name: "x"}, R: &I32{V: 2}},
			R: &I32{V: 0}}}
	got = run(t, evens, nil)
	if !reflect.DeepEqual(got, []types.Annotation{int32(0), int32(2), int32(4)}) {
		t.Fatalf("filter: %v", got)
	}

	pairs := &ArrayFlatMap{A: rng, Name: "x",
		Body: &MakeArray{ElemType: types.TInt32{}, Elems: []IR{&Ref{Name: "x"}, &Ref{Name: "x"}}}}
	got = run(t, pairs, nil)
	if len(got.([]types.Annotation)) != 10 {
		t.Fatalf("flatmap: %v", got)
	}

	sum := &ArrayFold{A: rng, Zero: &I32{V: 0}, AccumName: "acc", ValueName: "v",
		Body: &ApplyBinaryPrimOp{Op: OpAdd, L: &Ref{Name: "acc"}, R: &Ref{Name: "v"}}}
	if got := run(t, sum, nil); got.(int32) != 10 {
		t.Fatalf("fold: %v", got)
	}

	// fold over a missing array is missing
	sumNA := &ArrayFold{A: &NA{T: &types.TArray{Elem: types.TInt32{}}}, Zero: &I32{V: 0},
		AccumName: "acc", ValueName: "v",
		Body: &ApplyBinaryPrimOp{Op: OpAdd, L: &Ref{Name: "acc"}, R: &Ref{Name: "v"}}}
	if got := run(t, sumNA, nil); got != nil {
		t.Fatal("fold over a missing array must be missing")
	}
}

func TestStructOps(t *testing.T) {
	mk := &MakeStruct{Fields: []StructField{
		{Name: "a", V: &I32{V: 1}},
		{Name: "b", V: &NA{T: types.TString{}}},
	}}
	if got := run(t, &GetField{O: mk, Name: "a"}, nil); got.(int32) != 1 {
		t.Fatal("get field")
	}
	if got := run(t, &GetField{O: mk, Name: "b"}, nil); got != nil {
		t.Fatal("missing field must read as missing")
	}

	ins := &InsertFields{Old: mk, Fields: []StructField{
		{Name: "b", V: &Str{V: "set"}},
		{Name: "c", V: &F64{V: 2.5}},
	}}
	if got := run(t, &GetField{O: ins, Name: "b"}, nil); got.(string) != "set" {
		t.Fatal("insert fields must override missing fields")
	}
	if got := run(t, &GetField{O: ins, Name: "c"}, nil); got.(float64) != 2.5 {
		t.Fatal("insert fields must append new fields")
	}
	if got := run(t, &GetField{O: ins, Name: "a"}, nil); got.(int32) != 1 {
		t.Fatal("insert fields must keep untouched fields")
	}

	tup := &MakeTuple{Elems: []IR{&I32{V: 9}, &Str{V: "z"}}}
	if got := run(t, &GetTupleElement{O: tup, I: 1}, nil); got.(string) != "z" {
		t.Fatal("tuple element")
	}
}

func TestDieIsFatal(t *testing.T) {
	body := &If{
		Cond: &ApplyBinaryPrimOp{Op: OpLT, L: i32in(), R: &I32{V: 0}},
		Then: &Die{Message: "negative input", T: types.TInt32{}},
		Else: i32in(),
	}
	if got := run(t, body, []types.Type{types.TInt32{}}, int32(5)); got.(int32) != 5 {
		t.Fatal("die must not trigger on the untaken branch")
	}
	if err := runErr(t, body, []types.Type{types.TInt32{}}, int32(-1)); err == nil {
		t.Fatal("die must be fatal when reached")
	}
}

func TestApplyFunction(t *testing.T) {
	abs := &Apply{Function: "abs", Args: []IR{i32in()}}
	if got := run(t, abs, []types.Type{types.TInt32{}}, int32(-4)); got.(int32) != 4 {
		t.Fatal("abs")
	}
	if got := run(t, abs, []types.Type{types.TInt32{}}, nil); got != nil {
		t.Fatal("function of a missing argument must be missing")
	}
	if _, err := Compile(&Apply{Function: "no_such_fn", Args: []IR{&I32{V: 1}}}); err == nil {
		t.Fatal("unknown function must fail compilation")
	}
}

func TestTypeErrors(t *testing.T) {
	bad := &ApplyBinaryPrimOp{Op: OpAdd, L: &Str{V: "a"}, R: &I32{V: 1}}
	if _, err := Compile(bad); err == nil {
		t.Fatal("string + int must fail type checking")
	}
	unbound := &Ref{Name: "nope"}
	if _, err := Compile(unbound); err == nil {
		t.Fatal("unbound reference must fail")
	}
}

func TestNumericPromotion(t *testing.T) {
	mixed := &ApplyBinaryPrimOp{Op: OpAdd, L: &I32{V: 1}, R: &F64{V: 0.5}}
	if got := run(t, mixed, nil); got.(float64) != 1.5 {
		t.Fatalf("int + float promotion: %v", got)
	}
	div := &ApplyBinaryPrimOp{Op: OpDiv, L: &I32{V: 7}, R: &I32{V: 2}}
	if got := run(t, div, nil); got.(int32) != 3 {
		t.Fatalf("int division: %v", got)
	}
	if err := runErr(t, &ApplyBinaryPrimOp{Op: OpDiv, L: &I32{V: 1}, R: &I32{V: 0}}, nil); err == nil {
		t.Fatal("integer division by zero must be fatal")
	}
}
