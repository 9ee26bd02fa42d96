package ir

import (
	"fmt"

	"github.com/danthegoodman1/strata/agg"
	"github.com/danthegoodman1/strata/types"
)

type (
	aggState = agg.Aggregator

	// aggContFn receives each element an aggregable yields
	aggContFn func(f *frame, v uint64, m bool) error
)

// emitAgg lowers an aggregable into an imperative block that, for every
// element yielded per ambient input, invokes the continuation. AggMap,
// AggFilter and AggFlatMap compose on the continuation; AggIn forwards the
// ambient element pair from the frame's slots.
func (c *compiler) emitAgg(n IR, env *emitEnv, cont aggContFn) (func(f *frame) error, error) {
	switch node := n.(type) {
	case *AggIn:
		return func(f *frame) error {
			return cont(f, f.slots[2], f.slots[3] != 0)
		}, nil
	case *AggMap:
		eltI := c.newLocal()
		bc, err := c.emit(node.Body, env.bind(node.Name, eltI, node.A.Typ()))
		if err != nil {
			return nil, err
		}
		return c.emitAgg(node.A, env, func(f *frame, v uint64, m bool) error {
			f.lv[eltI], f.lm[eltI] = v, m
			bv, bm, err := bc(f)
			if err != nil {
				return err
			}
			return cont(f, bv, bm)
		})
	case *AggFilter:
		eltI := c.newLocal()
		pc, err := c.emit(node.Body, env.bind(node.Name, eltI, node.A.Typ()))
		if err != nil {
			return nil, err
		}
		return c.emitAgg(node.A, env, func(f *frame, v uint64, m bool) error {
			f.lv[eltI], f.lm[eltI] = v, m
			pv, pm, err := pc(f)
			if err != nil {
				return err
			}
			// non-matching (or missing-predicate) elements are suppressed
			if pm || pv == 0 {
				return nil
			}
			return cont(f, v, m)
		})
	case *AggFlatMap:
		eltI := c.newLocal()
		body, err := c.emitStream(node.Body, env.bind(node.Name, eltI, node.A.Typ()))
		if err != nil {
			return nil, err
		}
		return c.emitAgg(node.A, env, func(f *frame, v uint64, m bool) error {
			f.lv[eltI], f.lm[eltI] = v, m
			bm, err := body.setup(f)
			if err != nil {
				return err
			}
			if bm {
				return nil
			}
			return body.iterate(f, func(ev uint64, em bool) error {
				return cont(f, ev, em)
			})
		})
	}
	return nil, fmt.Errorf("%w: %T is not an aggregable", ErrInsideAgg, n)
}

// newAggregator builds the zero-state aggregator for an ApplyAggOp
func newAggregator(node *ApplyAggOp) (agg.Aggregator, error) {
	elem := node.A.Typ()
	switch node.Op {
	case AggCount:
		return agg.NewCount(), nil
	case AggSum:
		return agg.NewSum(widenNumeric(elem))
	case AggProduct:
		return &agg.ProductInt64Aggregator{}, nil
	case AggMin:
		return agg.NewMin(widenNumeric(elem))
	case AggMax:
		return agg.NewMax(widenNumeric(elem))
	case AggFraction:
		return agg.NewFraction(), nil
	case AggCollect:
		return agg.NewCollect(elem.SetRequired(false)), nil
	case AggTake:
		n := node.Args[0].(*I32).V
		return agg.NewTake(elem.SetRequired(false), int(n)), nil
	}
	return nil, fmt.Errorf("unknown aggregator op %s", node.Op)
}

// widenNumeric maps an element type onto the aggregator state width
func widenNumeric(t types.Type) types.Type {
	switch t.(type) {
	case types.TInt32, types.TInt64:
		return types.TInt64{}
	case types.TFloat32, types.TFloat64:
		return types.TFloat64{}
	}
	return t
}

// aggInputWord converts an element word into the representation the
// aggregator state expects (float32 words widen to float64 bits)
func aggInputWord(elem types.Type, v uint64) uint64 {
	if _, ok := elem.(types.TFloat32); ok {
		return coerceWord(types.TFloat32{}, types.TFloat64{}, v)
	}
	return v
}
