package agg

import (
	"errors"
	"fmt"
	"math"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

var (
	ErrCombMismatch = errors.New("cannot combine aggregator states of different kinds")
)

type (
	// Aggregator is per-aggregator state with seed/seq/combine/result
	// operations. Seq is the in-partition step invoked by emitted code: v is
	// the value's word representation (primitive bits, or a region offset
	// for pointer types), missing its missing bit. Comb merges a partial
	// state from another partition; it must be associative.
	Aggregator interface {
		Seq(r *region.Region, v uint64, missing bool)
		Comb(other Aggregator) error
		// Result writes the final value into the current builder slot
		Result(rvb *types.RegionValueBuilder)
		ResultType() types.Type
		// NewInstance returns a fresh zero state of the same kind
		NewInstance() Aggregator
	}

	CountAggregator struct {
		n int64
	}

	SumInt64Aggregator struct {
		sum int64
	}

	SumFloat64Aggregator struct {
		sum float64
	}

	ProductInt64Aggregator struct {
		prod    int64
		started bool
	}

	MinInt64Aggregator struct {
		min   int64
		empty bool
	}

	MaxInt64Aggregator struct {
		max   int64
		empty bool
	}

	MinFloat64Aggregator struct {
		min   float64
		empty bool
	}

	MaxFloat64Aggregator struct {
		max   float64
		empty bool
	}

	// FractionAggregator computes the fraction of true among non-missing
	// boolean elements, missing when no element was defined.
	FractionAggregator struct {
		nTrue    int64
		nDefined int64
	}

	// CollectAggregator gathers every element, missing included, into an
	// array. Elements are materialized out of their source region so the
	// state survives the per-row Clear.
	CollectAggregator struct {
		ElemType types.Type
		elems    []types.Annotation
	}

	// TakeAggregator keeps the first n elements seen
	TakeAggregator struct {
		ElemType types.Type
		N        int
		elems    []types.Annotation
	}
)

func NewCount() *CountAggregator { return &CountAggregator{} }

func (a *CountAggregator) Seq(_ *region.Region, _ uint64, _ bool) { a.n++ }
func (a *CountAggregator) Comb(other Aggregator) error {
	o, ok := other.(*CountAggregator)
	if !ok {
		return ErrCombMismatch
	}
	a.n += o.n
	return nil
}
func (a *CountAggregator) Result(rvb *types.RegionValueBuilder) { rvb.AddInt64(a.n) }
func (a *CountAggregator) ResultType() types.Type               { return types.TInt64{Req: true} }
func (a *CountAggregator) NewInstance() Aggregator              { return &CountAggregator{} }

// NewSum picks the sum aggregator for the element type
func NewSum(t types.Type) (Aggregator, error) {
	switch t.(type) {
	case types.TInt32, types.TInt64:
		return &SumInt64Aggregator{}, nil
	case types.TFloat32, types.TFloat64:
		return &SumFloat64Aggregator{}, nil
	}
	return nil, fmt.Errorf("sum is not defined for type %s", t.String())
}

func (a *SumInt64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if !missing {
		a.sum += int64(v)
	}
}
func (a *SumInt64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*SumInt64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	a.sum += o.sum
	return nil
}
func (a *SumInt64Aggregator) Result(rvb *types.RegionValueBuilder) { rvb.AddInt64(a.sum) }
func (a *SumInt64Aggregator) ResultType() types.Type               { return types.TInt64{Req: true} }
func (a *SumInt64Aggregator) NewInstance() Aggregator              { return &SumInt64Aggregator{} }

func (a *SumFloat64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if !missing {
		a.sum += math.Float64frombits(v)
	}
}
func (a *SumFloat64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*SumFloat64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	a.sum += o.sum
	return nil
}
func (a *SumFloat64Aggregator) Result(rvb *types.RegionValueBuilder) { rvb.AddFloat64(a.sum) }
func (a *SumFloat64Aggregator) ResultType() types.Type               { return types.TFloat64{Req: true} }
func (a *SumFloat64Aggregator) NewInstance() Aggregator              { return &SumFloat64Aggregator{} }

func (a *ProductInt64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if missing {
		return
	}
	if !a.started {
		a.prod = 1
		a.started = true
	}
	a.prod *= int64(v)
}
func (a *ProductInt64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*ProductInt64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	if o.started {
		if !a.started {
			a.prod = 1
			a.started = true
		}
		a.prod *= o.prod
	}
	return nil
}
func (a *ProductInt64Aggregator) Result(rvb *types.RegionValueBuilder) {
	if !a.started {
		rvb.AddInt64(1)
		return
	}
	rvb.AddInt64(a.prod)
}
func (a *ProductInt64Aggregator) ResultType() types.Type  { return types.TInt64{Req: true} }
func (a *ProductInt64Aggregator) NewInstance() Aggregator { return &ProductInt64Aggregator{} }

// NewMin and NewMax pick the extremum aggregator for the element type
func NewMin(t types.Type) (Aggregator, error) {
	switch t.(type) {
	case types.TInt32, types.TInt64:
		return &MinInt64Aggregator{empty: true}, nil
	case types.TFloat32, types.TFloat64:
		return &MinFloat64Aggregator{empty: true}, nil
	}
	return nil, fmt.Errorf("min is not defined for type %s", t.String())
}

func NewMax(t types.Type) (Aggregator, error) {
	switch t.(type) {
	case types.TInt32, types.TInt64:
		return &MaxInt64Aggregator{empty: true}, nil
	case types.TFloat32, types.TFloat64:
		return &MaxFloat64Aggregator{empty: true}, nil
	}
	return nil, fmt.Errorf("max is not defined for type %s", t.String())
}

func (a *MinInt64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if missing {
		return
	}
	x := int64(v)
	if a.empty || x < a.min {
		a.min = x
		a.empty = false
	}
}
func (a *MinInt64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*MinInt64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	if !o.empty {
		a.Seq(nil, uint64(o.min), false)
	}
	return nil
}
func (a *MinInt64Aggregator) Result(rvb *types.RegionValueBuilder) {
	if a.empty {
		rvb.SetMissing()
		return
	}
	rvb.AddInt64(a.min)
}
func (a *MinInt64Aggregator) ResultType() types.Type  { return types.TInt64{} }
func (a *MinInt64Aggregator) NewInstance() Aggregator { return &MinInt64Aggregator{empty: true} }

func (a *MaxInt64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if missing {
		return
	}
	x := int64(v)
	if a.empty || x > a.max {
		a.max = x
		a.empty = false
	}
}
func (a *MaxInt64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*MaxInt64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	if !o.empty {
		a.Seq(nil, uint64(o.max), false)
	}
	return nil
}
func (a *MaxInt64Aggregator) Result(rvb *types.RegionValueBuilder) {
	if a.empty {
		rvb.SetMissing()
		return
	}
	rvb.AddInt64(a.max)
}
func (a *MaxInt64Aggregator) ResultType() types.Type  { return types.TInt64{} }
func (a *MaxInt64Aggregator) NewInstance() Aggregator { return &MaxInt64Aggregator{empty: true} }

func (a *MinFloat64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if missing {
		return
	}
	x := math.Float64frombits(v)
	if a.empty || x < a.min {
		a.min = x
		a.empty = false
	}
}
func (a *MinFloat64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*MinFloat64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	if !o.empty {
		a.Seq(nil, math.Float64bits(o.min), false)
	}
	return nil
}
func (a *MinFloat64Aggregator) Result(rvb *types.RegionValueBuilder) {
	if a.empty {
		rvb.SetMissing()
		return
	}
	rvb.AddFloat64(a.min)
}
func (a *MinFloat64Aggregator) ResultType() types.Type  { return types.TFloat64{} }
func (a *MinFloat64Aggregator) NewInstance() Aggregator { return &MinFloat64Aggregator{empty: true} }

func (a *MaxFloat64Aggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if missing {
		return
	}
	x := math.Float64frombits(v)
	if a.empty || x > a.max {
		a.max = x
		a.empty = false
	}
}
func (a *MaxFloat64Aggregator) Comb(other Aggregator) error {
	o, ok := other.(*MaxFloat64Aggregator)
	if !ok {
		return ErrCombMismatch
	}
	if !o.empty {
		a.Seq(nil, math.Float64bits(o.max), false)
	}
	return nil
}
func (a *MaxFloat64Aggregator) Result(rvb *types.RegionValueBuilder) {
	if a.empty {
		rvb.SetMissing()
		return
	}
	rvb.AddFloat64(a.max)
}
func (a *MaxFloat64Aggregator) ResultType() types.Type  { return types.TFloat64{} }
func (a *MaxFloat64Aggregator) NewInstance() Aggregator { return &MaxFloat64Aggregator{empty: true} }

func NewFraction() *FractionAggregator { return &FractionAggregator{} }

func (a *FractionAggregator) Seq(_ *region.Region, v uint64, missing bool) {
	if missing {
		return
	}
	a.nDefined++
	if v != 0 {
		a.nTrue++
	}
}
func (a *FractionAggregator) Comb(other Aggregator) error {
	o, ok := other.(*FractionAggregator)
	if !ok {
		return ErrCombMismatch
	}
	a.nTrue += o.nTrue
	a.nDefined += o.nDefined
	return nil
}
func (a *FractionAggregator) Result(rvb *types.RegionValueBuilder) {
	if a.nDefined == 0 {
		rvb.SetMissing()
		return
	}
	rvb.AddFloat64(float64(a.nTrue) / float64(a.nDefined))
}
func (a *FractionAggregator) ResultType() types.Type  { return types.TFloat64{} }
func (a *FractionAggregator) NewInstance() Aggregator { return &FractionAggregator{} }

func NewCollect(elemType types.Type) *CollectAggregator {
	return &CollectAggregator{ElemType: elemType}
}

func (a *CollectAggregator) Seq(r *region.Region, v uint64, missing bool) {
	if missing {
		a.elems = append(a.elems, nil)
		return
	}
	a.elems = append(a.elems, loadWord(a.ElemType, r, v))
}
func (a *CollectAggregator) Comb(other Aggregator) error {
	o, ok := other.(*CollectAggregator)
	if !ok {
		return ErrCombMismatch
	}
	a.elems = append(a.elems, o.elems...)
	return nil
}
func (a *CollectAggregator) Result(rvb *types.RegionValueBuilder) {
	rvb.AddAnnotation(a.ResultType(), []types.Annotation(a.elems))
}
func (a *CollectAggregator) ResultType() types.Type {
	return &types.TArray{Elem: a.ElemType, Req: true}
}
func (a *CollectAggregator) NewInstance() Aggregator { return &CollectAggregator{ElemType: a.ElemType} }

func NewTake(elemType types.Type, n int) *TakeAggregator {
	return &TakeAggregator{ElemType: elemType, N: n}
}

func (a *TakeAggregator) Seq(r *region.Region, v uint64, missing bool) {
	if len(a.elems) >= a.N {
		return
	}
	if missing {
		a.elems = append(a.elems, nil)
		return
	}
	a.elems = append(a.elems, loadWord(a.ElemType, r, v))
}
func (a *TakeAggregator) Comb(other Aggregator) error {
	o, ok := other.(*TakeAggregator)
	if !ok {
		return ErrCombMismatch
	}
	for _, e := range o.elems {
		if len(a.elems) >= a.N {
			break
		}
		a.elems = append(a.elems, e)
	}
	return nil
}
func (a *TakeAggregator) Result(rvb *types.RegionValueBuilder) {
	rvb.AddAnnotation(a.ResultType(), []types.Annotation(a.elems))
}
func (a *TakeAggregator) ResultType() types.Type {
	return &types.TArray{Elem: a.ElemType, Req: true}
}
func (a *TakeAggregator) NewInstance() Aggregator {
	return &TakeAggregator{ElemType: a.ElemType, N: a.N}
}

// loadWord materializes a word-represented value: primitives decode from the
// bits, pointer and inline compound types load from the region at the word's
// offset.
func loadWord(t types.Type, r *region.Region, v uint64) types.Annotation {
	switch t.(type) {
	case types.TBoolean:
		return v != 0
	case types.TInt32:
		return int32(v)
	case types.TInt64:
		return int64(v)
	case types.TFloat32:
		return math.Float32frombits(uint32(v))
	case types.TFloat64:
		return math.Float64frombits(v)
	case types.TCall:
		return types.Call(int32(v))
	}
	return types.Load(t, r, int64(v))
}
