package ir

import (
	"fmt"

	"github.com/danthegoodman1/strata/agg"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

type (
	// CompiledFn is a specialized row routine produced by the emitter. A
	// frame is not safe for concurrent use; callers running partitions in
	// parallel create one frame per partition with NewFrame.
	CompiledFn struct {
		RetType  types.Type
		InTypes  []types.Type
		ElemType types.Type // nil when the routine carries no aggregations

		main         ecode
		seq          func(f *frame) error
		aggNodes     []*ApplyAggOp
		resultStruct *types.TStruct
		nLocals      int
		nSlots       int
	}

	// Frame is a reusable per-partition execution state
	Frame struct {
		f frame
	}
)

// Compile lowers body into a routine over the given positional input types.
// Aggregations are rejected; use CompileAgg for aggregator routines.
func Compile(body IR, inTypes ...types.Type) (*CompiledFn, error) {
	fn, err := compile(body, nil, inTypes)
	if err != nil {
		return nil, err
	}
	if len(fn.aggNodes) > 0 {
		return nil, ErrNoAggScope
	}
	return fn, nil
}

// CompileAgg lowers body into a pair of routines: a per-element seqOp that
// feeds every ApplyAggOp's aggregable, and a result routine evaluated
// against the combined aggregator states.
func CompileAgg(body IR, elemType types.Type, inTypes ...types.Type) (*CompiledFn, error) {
	return compile(body, elemType, inTypes)
}

func compile(body IR, elemType types.Type, inTypes []types.Type) (*CompiledFn, error) {
	ic := &inferCtx{inTypes: inTypes, elemType: elemType}
	if err := ic.infer(body, nil); err != nil {
		return nil, err
	}

	c := &compiler{inTypes: inTypes, elemType: elemType, aggNodes: ic.aggOps}

	// the aggregation results materialize as a struct row read by the main
	// routine's ApplyAggOp nodes
	var resultStruct *types.TStruct
	if len(ic.aggOps) > 0 {
		fields := make([]types.Field, len(ic.aggOps))
		for i, op := range ic.aggOps {
			a, err := newAggregator(op)
			if err != nil {
				return nil, err
			}
			fields[i] = types.Field{Name: fmt.Sprintf("agg%d", i), Typ: a.ResultType()}
		}
		resultStruct = types.TStructOf(fields...)
	}
	c.resultStruct = resultStruct

	main, err := c.emit(body, nil)
	if err != nil {
		return nil, err
	}

	var seq func(f *frame) error
	if len(ic.aggOps) > 0 {
		blocks := make([]func(f *frame) error, len(ic.aggOps))
		for i, op := range ic.aggOps {
			i := i
			elem := op.A.Typ()
			c.inAgg = true
			block, err := c.emitAgg(op.A, nil, func(f *frame, v uint64, m bool) error {
				if !m {
					v = aggInputWord(elem, v)
				}
				f.aggs[i].Seq(f.region, v, m)
				return nil
			})
			c.inAgg = false
			if err != nil {
				return nil, err
			}
			blocks[i] = block
		}
		seq = func(f *frame) error {
			for _, b := range blocks {
				if err := b(f); err != nil {
					return err
				}
			}
			return nil
		}
	}

	inBase := 1
	if elemType != nil {
		// region(0), agg state(1), element pair(2,3), then scope pairs
		inBase = 4
	}
	return &CompiledFn{
		RetType:      body.Typ(),
		InTypes:      inTypes,
		ElemType:     elemType,
		main:         main,
		seq:          seq,
		aggNodes:     ic.aggOps,
		resultStruct: resultStruct,
		nLocals:      c.nLocals,
		nSlots:       inBase + 2*len(inTypes),
	}, nil
}

// NewAggregators allocates fresh zero states for every aggregation site
func (fn *CompiledFn) NewAggregators() ([]agg.Aggregator, error) {
	aggs := make([]agg.Aggregator, len(fn.aggNodes))
	for i, op := range fn.aggNodes {
		a, err := newAggregator(op)
		if err != nil {
			return nil, err
		}
		aggs[i] = a
	}
	return aggs, nil
}

// NewFrame allocates the execution state for one partition's pipeline
func (fn *CompiledFn) NewFrame(r *region.Region) *Frame {
	fr := &Frame{}
	fr.f.region = r
	fr.f.slots = make([]uint64, fn.nSlots)
	fr.f.lv = make([]uint64, fn.nLocals)
	fr.f.lm = make([]bool, fn.nLocals)
	if fn.ElemType != nil {
		fr.f.inBase = 4
	} else {
		fr.f.inBase = 1
	}
	return fr
}

func (fn *CompiledFn) setInputs(f *frame, ins []types.Annotation) error {
	if len(ins) != len(fn.InTypes) {
		return fmt.Errorf("routine takes %d inputs, got %d", len(fn.InTypes), len(ins))
	}
	for i, a := range ins {
		v, m := annotationToWord(f.region, fn.InTypes[i], a)
		f.slots[f.inBase+2*i] = v
		if m {
			f.slots[f.inBase+2*i+1] = 1
		} else {
			f.slots[f.inBase+2*i+1] = 0
		}
	}
	return nil
}

// Run evaluates a routine without aggregations against annotation inputs
func (fn *CompiledFn) Run(fr *Frame, ins ...types.Annotation) (types.Annotation, error) {
	if fn.resultStruct != nil {
		return nil, fmt.Errorf("routine aggregates, use SeqOp and RunWithAggs")
	}
	f := &fr.f
	if err := fn.setInputs(f, ins); err != nil {
		return nil, err
	}
	v, m, err := fn.main(f)
	if err != nil {
		return nil, err
	}
	return wordToAnnotation(f.region, fn.RetType, v, m), nil
}

// RunRaw evaluates against word inputs already materialized in the frame's
// region, the hot path for row pipelines.
func (fn *CompiledFn) RunRaw(fr *Frame, vals []uint64, missing []bool) (uint64, bool, error) {
	f := &fr.f
	for i := range vals {
		f.slots[f.inBase+2*i] = vals[i]
		if missing[i] {
			f.slots[f.inBase+2*i+1] = 1
		} else {
			f.slots[f.inBase+2*i+1] = 0
		}
	}
	return fn.main(f)
}

// SeqOp folds one aggregable element into the states
func (fn *CompiledFn) SeqOp(fr *Frame, aggs []agg.Aggregator, elem types.Annotation, scope ...types.Annotation) error {
	if fn.seq == nil {
		return fmt.Errorf("routine has no aggregations")
	}
	f := &fr.f
	f.aggs = aggs
	v, m := annotationToWord(f.region, fn.ElemType, elem)
	f.slots[2] = v
	if m {
		f.slots[3] = 1
	} else {
		f.slots[3] = 0
	}
	if err := fn.setInputs(f, scope); err != nil {
		return err
	}
	return fn.seq(f)
}

// RunWithAggs materializes the combined aggregator results and evaluates
// the main routine against them.
func (fn *CompiledFn) RunWithAggs(fr *Frame, aggs []agg.Aggregator, ins ...types.Annotation) (types.Annotation, error) {
	f := &fr.f
	rvb := types.NewBuilder(f.region)
	rvb.Start(fn.resultStruct)
	rvb.StartStruct(true)
	for _, a := range aggs {
		a.Result(rvb)
	}
	rvb.EndStruct()
	f.aggResultsOff = rvb.End()
	if err := fn.setInputs(f, ins); err != nil {
		return nil, err
	}
	v, m, err := fn.main(f)
	if err != nil {
		return nil, err
	}
	return wordToAnnotation(f.region, fn.RetType, v, m), nil
}
