package ir

import (
	"fmt"
	"math"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

type (
	// frame is the execution state of a compiled routine. Slots follow the
	// argument convention: slot 0 is the ambient region (special); user
	// input i occupies two consecutive slots, value then missing-bit,
	// starting at inBase and stepping by 2. Aggregator routines reserve
	// slot 1 for the aggregator state and carry the element pair at slots
	// 2,3 ahead of the scope pairs.
	frame struct {
		region *region.Region
		slots  []uint64
		inBase int

		// locals assigned by the emitter; a sub-expression is bound to a
		// local before being referenced more than once
		lv []uint64
		lm []bool

		aggs          []aggState
		aggResultsOff int64
	}

	// ecode is an emitted expression: one invocation runs the node's setup
	// and yields (value, isMissing). The value is a word: primitive bits,
	// sign-extended for Int32, Float bits for floats, a region offset for
	// everything else. The value is only valid when isMissing is false; a
	// zero default is produced on the missing path.
	ecode func(f *frame) (uint64, bool, error)

	contFn func(v uint64, m bool) error

	// stream is the array iterator triplet: setup, an optional known
	// length, and an emitter that pushes each element through a
	// continuation.
	stream struct {
		elemType types.Type
		setup    func(f *frame) (missing bool, err error)
		knownLen func(f *frame) (int32, error) // nil when filtered/flattened
		iterate  func(f *frame, cont contFn) error
	}

	emitEnv struct {
		parent *emitEnv
		name   string
		idx    int
		typ    types.Type
	}

	compiler struct {
		inTypes      []types.Type
		elemType     types.Type
		nLocals      int
		inAgg        bool
		resultStruct *types.TStruct
		aggNodes     []*ApplyAggOp
	}
)

func (e *emitEnv) bind(name string, idx int, t types.Type) *emitEnv {
	return &emitEnv{parent: e, name: name, idx: idx, typ: t}
}

func (e *emitEnv) lookup(name string) (int, types.Type, bool) {
	for env := e; env != nil; env = env.parent {
		if env.name == name {
			return env.idx, env.typ, true
		}
	}
	return 0, nil, false
}

func (c *compiler) newLocal() int {
	i := c.nLocals
	c.nLocals++
	return i
}

// loadWordAt reads the word of a value of type t at a value offset
func loadWordAt(r *region.Region, t types.Type, off int64) uint64 {
	switch t.Fundamental().(type) {
	case types.TBoolean:
		if r.LoadBool(off) {
			return 1
		}
		return 0
	case types.TInt32:
		return uint64(int64(r.LoadInt32(off)))
	case types.TInt64:
		return uint64(r.LoadInt64(off))
	case types.TFloat32:
		return uint64(math.Float32bits(r.LoadFloat32(off)))
	case types.TFloat64:
		return math.Float64bits(r.LoadFloat64(off))
	}
	return uint64(off)
}

// addWord writes a word into the current builder slot
func addWord(rvb *types.RegionValueBuilder, t types.Type, r *region.Region, v uint64) {
	switch t.Fundamental().(type) {
	case types.TBoolean:
		rvb.AddBoolean(v != 0)
	case types.TInt32:
		rvb.AddInt32(int32(v))
	case types.TInt64:
		rvb.AddInt64(int64(v))
	case types.TFloat32:
		rvb.AddFloat32(math.Float32frombits(uint32(v)))
	case types.TFloat64:
		rvb.AddFloat64(math.Float64frombits(v))
	default:
		rvb.AddRegionValue(t, r, int64(v))
	}
}

// annotationToWord materializes an input annotation into the frame's region
func annotationToWord(r *region.Region, t types.Type, a types.Annotation) (uint64, bool) {
	if a == nil {
		return 0, true
	}
	switch t.(type) {
	case types.TBoolean:
		if a.(bool) {
			return 1, false
		}
		return 0, false
	case types.TInt32:
		return uint64(int64(a.(int32))), false
	case types.TInt64:
		return uint64(a.(int64)), false
	case types.TFloat32:
		return uint64(math.Float32bits(a.(float32))), false
	case types.TFloat64:
		return math.Float64bits(a.(float64)), false
	case types.TCall:
		return uint64(int64(a.(types.Call))), false
	}
	return uint64(types.Write(r, t, a)), false
}

// wordToAnnotation decodes a routine result
func wordToAnnotation(r *region.Region, t types.Type, v uint64, missing bool) types.Annotation {
	if missing {
		return nil
	}
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

// coerceWord converts a numeric word from one static type to another
func coerceWord(from, to types.Type, v uint64) uint64 {
	if types.Same(from.SetRequired(false), to.SetRequired(false)) {
		return v
	}
	var x float64
	switch from.(type) {
	case types.TInt32, types.TInt64:
		x = float64(int64(v))
	case types.TFloat32:
		x = float64(math.Float32frombits(uint32(v)))
	case types.TFloat64:
		x = math.Float64frombits(v)
	default:
		return v
	}
	switch to.(type) {
	case types.TInt32, types.TInt64:
		return uint64(int64(x))
	case types.TFloat32:
		return uint64(math.Float32bits(float32(x)))
	case types.TFloat64:
		return math.Float64bits(x)
	}
	return v
}

func (c *compiler) emit(n IR, env *emitEnv) (ecode, error) {
	switch node := n.(type) {
	case *I32:
		v := uint64(int64(node.V))
		return func(*frame) (uint64, bool, error) { return v, false, nil }, nil
	case *I64:
		v := uint64(node.V)
		return func(*frame) (uint64, bool, error) { return v, false, nil }, nil
	case *F32:
		v := uint64(math.Float32bits(node.V))
		return func(*frame) (uint64, bool, error) { return v, false, nil }, nil
	case *F64:
		v := math.Float64bits(node.V)
		return func(*frame) (uint64, bool, error) { return v, false, nil }, nil
	case *True:
		return func(*frame) (uint64, bool, error) { return 1, false, nil }, nil
	case *False:
		return func(*frame) (uint64, bool, error) { return 0, false, nil }, nil
	case *Str:
		s := []byte(node.V)
		return func(f *frame) (uint64, bool, error) {
			boff := f.region.Allocate(4, 4+int64(len(s)))
			f.region.StoreInt32(boff, int32(len(s)))
			f.region.StoreBytes(boff+4, s)
			return uint64(boff), false, nil
		}, nil
	case *NA:
		return func(*frame) (uint64, bool, error) { return 0, true, nil }, nil
	case *IsNA:
		vc, err := c.emit(node.V, env)
		if err != nil {
			return nil, err
		}
		return func(f *frame) (uint64, bool, error) {
			_, m, err := vc(f)
			if err != nil {
				return 0, false, err
			}
			if m {
				return 1, false, nil
			}
			return 0, false, nil
		}, nil
	case *In:
		slot := 2 * node.I
		return func(f *frame) (uint64, bool, error) {
			return f.slots[f.inBase+slot], f.slots[f.inBase+slot+1] != 0, nil
		}, nil
	case *Ref:
		idx, _, ok := env.lookup(node.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnboundRef, node.Name)
		}
		return func(f *frame) (uint64, bool, error) {
			return f.lv[idx], f.lm[idx], nil
		}, nil
	case *Let:
		vc, err := c.emit(node.Value, env)
		if err != nil {
			return nil, err
		}
		li := c.newLocal()
		bc, err := c.emit(node.Body, env.bind(node.Name, li, node.Value.Typ()))
		if err != nil {
			return nil, err
		}
		return func(f *frame) (uint64, bool, error) {
			v, m, err := vc(f)
			if err != nil {
				return 0, false, err
			}
			f.lv[li], f.lm[li] = v, m
			return bc(f)
		}, nil
	case *MapNA:
		vc, err := c.emit(node.Value, env)
		if err != nil {
			return nil, err
		}
		li := c.newLocal()
		bc, err := c.emit(node.Body, env.bind(node.Name, li, node.Value.Typ()))
		if err != nil {
			return nil, err
		}
		return func(f *frame) (uint64, bool, error) {
			v, m, err := vc(f)
			if err != nil {
				return 0, false, err
			}
			if m {
				return 0, true, nil
			}
			f.lv[li], f.lm[li] = v, false
			return bc(f)
		}, nil
	case *If:
		cc, err := c.emit(node.Cond, env)
		if err != nil {
			return nil, err
		}
		tc, err := c.emit(node.Then, env)
		if err != nil {
			return nil, err
		}
		ec, err := c.emit(node.Else, env)
		if err != nil {
			return nil, err
		}
		tt, et, rt := node.Then.Typ(), node.Else.Typ(), node.Typ()
		return func(f *frame) (uint64, bool, error) {
			cv, cm, err := cc(f)
			if err != nil {
				return 0, false, err
			}
			if cm {
				return 0, true, nil
			}
			if cv != 0 {
				v, m, err := tc(f)
				if err != nil || m {
					return 0, m, err
				}
				return coerceWord(tt, rt, v), false, nil
			}
			v, m, err := ec(f)
			if err != nil || m {
				return 0, m, err
			}
			return coerceWord(et, rt, v), false, nil
		}, nil
	case *ApplyBinaryPrimOp:
		return c.emitBinary(node, env)
	case *ApplyUnaryPrimOp:
		vc, err := c.emit(node.V, env)
		if err != nil {
			return nil, err
		}
		vt := node.V.Typ()
		switch node.Op {
		case OpNot:
			return func(f *frame) (uint64, bool, error) {
				v, m, err := vc(f)
				if err != nil || m {
					return 0, m, err
				}
				if v == 0 {
					return 1, false, nil
				}
				return 0, false, nil
			}, nil
		case OpNegate:
			return func(f *frame) (uint64, bool, error) {
				v, m, err := vc(f)
				if err != nil || m {
					return 0, m, err
				}
				switch vt.(type) {
				case types.TInt32:
					return uint64(int64(-int32(v))), false, nil
				case types.TInt64:
					return uint64(-int64(v)), false, nil
				case types.TFloat32:
					return uint64(math.Float32bits(-math.Float32frombits(uint32(v)))), false, nil
				default:
					return math.Float64bits(-math.Float64frombits(v)), false, nil
				}
			}, nil
		}
		return nil, fmt.Errorf("unknown unary operator %q", node.Op)
	case *MakeStruct:
		st := node.Typ().(*types.TStruct)
		codes := make([]ecode, len(node.Fields))
		for i, fld := range node.Fields {
			fc, err := c.emit(fld.V, env)
			if err != nil {
				return nil, err
			}
			codes[i] = fc
		}
		return c.emitStructCtor(st, codes), nil
	case *MakeTuple:
		tt := node.Typ().(*types.TTuple)
		codes := make([]ecode, len(node.Elems))
		for i, e := range node.Elems {
			ec, err := c.emit(e, env)
			if err != nil {
				return nil, err
			}
			codes[i] = ec
		}
		return c.emitStructCtor(tt.Rep(), codes), nil
	case *InsertFields:
		oldT := node.Old.Typ().(*types.TStruct)
		newT := node.Typ().(*types.TStruct)
		oc, err := c.emit(node.Old, env)
		if err != nil {
			return nil, err
		}
		override := map[string]int{}
		codes := make([]ecode, len(node.Fields))
		for i, fld := range node.Fields {
			fc, err := c.emit(fld.V, env)
			if err != nil {
				return nil, err
			}
			codes[i] = fc
			override[fld.Name] = i
		}
		return func(f *frame) (uint64, bool, error) {
			ov, om, err := oc(f)
			if err != nil {
				return 0, false, err
			}
			if om {
				return 0, true, nil
			}
			ooff := int64(ov)
			// evaluate every override before building
			vals := make([]uint64, len(codes))
			miss := make([]bool, len(codes))
			for i, fc := range codes {
				v, m, err := fc(f)
				if err != nil {
					return 0, false, err
				}
				vals[i], miss[i] = v, m
			}
			rvb := types.NewBuilder(f.region)
			rvb.Start(newT)
			rvb.StartStruct(true)
			for _, fld := range newT.Fields {
				if oi, ok := override[fld.Name]; ok {
					if miss[oi] {
						rvb.SetMissing()
					} else {
						addWord(rvb, fld.Typ, f.region, vals[oi])
					}
					continue
				}
				srcI := oldT.FieldIdx(fld.Name)
				if oldT.IsFieldDefined(f.region, ooff, srcI) {
					rvb.AddRegionValue(fld.Typ, f.region, oldT.LoadField(f.region, ooff, srcI))
				} else {
					rvb.SetMissing()
				}
			}
			rvb.EndStruct()
			return uint64(rvb.End()), false, nil
		}, nil
	case *GetField:
		oc, err := c.emit(node.O, env)
		if err != nil {
			return nil, err
		}
		ot := node.O.Typ().(*types.TStruct)
		fi := ot.FieldIdx(node.Name)
		ft := ot.Fields[fi].Typ
		return func(f *frame) (uint64, bool, error) {
			ov, om, err := oc(f)
			if err != nil || om {
				return 0, om, err
			}
			off := int64(ov)
			if !ot.IsFieldDefined(f.region, off, fi) {
				return 0, true, nil
			}
			return loadWordAt(f.region, ft, ot.LoadField(f.region, off, fi)), false, nil
		}, nil
	case *GetTupleElement:
		oc, err := c.emit(node.O, env)
		if err != nil {
			return nil, err
		}
		rep := node.O.Typ().(*types.TTuple).Rep()
		fi := node.I
		ft := rep.Fields[fi].Typ
		return func(f *frame) (uint64, bool, error) {
			ov, om, err := oc(f)
			if err != nil || om {
				return 0, om, err
			}
			off := int64(ov)
			if !rep.IsFieldDefined(f.region, off, fi) {
				return 0, true, nil
			}
			return loadWordAt(f.region, ft, rep.LoadField(f.region, off, fi)), false, nil
		}, nil
	case *ArrayLen:
		ac, err := c.emit(node.A, env)
		if err != nil {
			return nil, err
		}
		return func(f *frame) (uint64, bool, error) {
			av, am, err := ac(f)
			if err != nil || am {
				return 0, am, err
			}
			return uint64(int64(f.region.LoadInt32(int64(av)))), false, nil
		}, nil
	case *ArrayRef:
		ac, err := c.emit(node.A, env)
		if err != nil {
			return nil, err
		}
		ic, err := c.emit(node.I, env)
		if err != nil {
			return nil, err
		}
		at := node.A.Typ().(*types.TArray)
		return func(f *frame) (uint64, bool, error) {
			av, am, err := ac(f)
			if err != nil {
				return 0, false, err
			}
			iv, im, err := ic(f)
			if err != nil {
				return 0, false, err
			}
			if am || im {
				return 0, true, nil
			}
			aoff := int64(av)
			i := int32(iv)
			n := at.LoadLength(f.region, aoff)
			if i < 0 || i >= n {
				return 0, false, fmt.Errorf("array index out of bounds: %d / %d", i, n)
			}
			if !at.IsElementDefined(f.region, aoff, i) {
				return 0, true, nil
			}
			return loadWordAt(f.region, at.Elem, at.LoadElement(f.region, aoff, n, i)), false, nil
		}, nil
	case *ArrayRange, *ArrayMap, *ArrayFilter, *ArrayFlatMap, *MakeArray:
		st, err := c.emitStream(n, env)
		if err != nil {
			return nil, err
		}
		return c.materialize(st), nil
	case *ArrayFold:
		return c.emitFold(node, env)
	case *Die:
		msg := node.Message
		return func(*frame) (uint64, bool, error) {
			return 0, false, fmt.Errorf("%s", msg)
		}, nil
	case *Apply:
		if c.inAgg {
			return nil, fmt.Errorf("%w: Apply(%s)", ErrInsideAgg, node.Function)
		}
		impl := node.impl
		codes := make([]ecode, len(node.Args))
		for i, a := range node.Args {
			ac, err := c.emit(a, env)
			if err != nil {
				return nil, err
			}
			codes[i] = ac
		}
		return func(f *frame) (uint64, bool, error) {
			args := make([]uint64, len(codes))
			for i, ac := range codes {
				v, m, err := ac(f)
				if err != nil {
					return 0, false, err
				}
				if m {
					return 0, true, nil
				}
				args[i] = v
			}
			v, err := impl.Impl(f.region, args)
			if err != nil {
				return 0, false, err
			}
			return v, false, nil
		}, nil
	case *ApplyAggOp:
		// reads the materialized aggregation result row
		idx := node.aggIdx
		rs := c.resultStruct
		ft := rs.Fields[idx].Typ
		return func(f *frame) (uint64, bool, error) {
			if !rs.IsFieldDefined(f.region, f.aggResultsOff, idx) {
				return 0, true, nil
			}
			return loadWordAt(f.region, ft, rs.LoadField(f.region, f.aggResultsOff, idx)), false, nil
		}, nil
	case *AggIn, *AggMap, *AggFilter, *AggFlatMap:
		return nil, fmt.Errorf("%w: aggregable node evaluated as a value", ErrNoAggScope)
	}
	return nil, fmt.Errorf("unknown IR node %T", n)
}

// emitStructCtor evaluates each field's code, then builds the struct: per
// field either set-missing or add the intermediate.
func (c *compiler) emitStructCtor(st *types.TStruct, codes []ecode) ecode {
	return func(f *frame) (uint64, bool, error) {
		vals := make([]uint64, len(codes))
		miss := make([]bool, len(codes))
		for i, fc := range codes {
			v, m, err := fc(f)
			if err != nil {
				return 0, false, err
			}
			vals[i], miss[i] = v, m
		}
		rvb := types.NewBuilder(f.region)
		rvb.Start(st)
		rvb.StartStruct(true)
		for i, fld := range st.Fields {
			if miss[i] {
				rvb.SetMissing()
			} else {
				addWord(rvb, fld.Typ, f.region, vals[i])
			}
		}
		rvb.EndStruct()
		return uint64(rvb.End()), false, nil
	}
}

func (c *compiler) emitBinary(node *ApplyBinaryPrimOp, env *emitEnv) (ecode, error) {
	lc, err := c.emit(node.L, env)
	if err != nil {
		return nil, err
	}
	rc, err := c.emit(node.R, env)
	if err != nil {
		return nil, err
	}
	lt, rt := node.L.Typ(), node.R.Typ()

	switch node.Op {
	case OpAnd:
		// three-valued: false && NA == false
		return func(f *frame) (uint64, bool, error) {
			lv, lm, err := lc(f)
			if err != nil {
				return 0, false, err
			}
			if !lm && lv == 0 {
				return 0, false, nil
			}
			rv, rm, err := rc(f)
			if err != nil {
				return 0, false, err
			}
			if !rm && rv == 0 {
				return 0, false, nil
			}
			if lm || rm {
				return 0, true, nil
			}
			return 1, false, nil
		}, nil
	case OpOr:
		return func(f *frame) (uint64, bool, error) {
			lv, lm, err := lc(f)
			if err != nil {
				return 0, false, err
			}
			if !lm && lv != 0 {
				return 1, false, nil
			}
			rv, rm, err := rc(f)
			if err != nil {
				return 0, false, err
			}
			if !rm && rv != 0 {
				return 1, false, nil
			}
			if lm || rm {
				return 0, true, nil
			}
			return 0, false, nil
		}, nil
	}

	if node.Op == OpAdd || node.Op == OpSub || node.Op == OpMul || node.Op == OpDiv || node.Op == OpMod {
		rt0 := node.Typ()
		isInt := false
		switch rt0.(type) {
		case types.TInt32, types.TInt64:
			isInt = true
		}
		op := node.Op
		return func(f *frame) (uint64, bool, error) {
			lv, lm, err := lc(f)
			if err != nil {
				return 0, false, err
			}
			rv, rm, err := rc(f)
			if err != nil {
				return 0, false, err
			}
			if lm || rm {
				return 0, true, nil
			}
			lw := coerceWord(lt, rt0, lv)
			rw := coerceWord(rt, rt0, rv)
			if isInt {
				a, b := int64(lw), int64(rw)
				var x int64
				switch op {
				case OpAdd:
					x = a + b
				case OpSub:
					x = a - b
				case OpMul:
					x = a * b
				case OpDiv:
					if b == 0 {
						return 0, false, fmt.Errorf("division by zero: %d / %d", a, b)
					}
					x = a / b
				case OpMod:
					if b == 0 {
						return 0, false, fmt.Errorf("division by zero: %d %% %d", a, b)
					}
					x = a % b
				}
				if _, ok := rt0.(types.TInt32); ok {
					return uint64(int64(int32(x))), false, nil
				}
				return uint64(x), false, nil
			}
			var a, b float64
			if _, ok := rt0.(types.TFloat32); ok {
				a = float64(math.Float32frombits(uint32(lw)))
				b = float64(math.Float32frombits(uint32(rw)))
			} else {
				a = math.Float64frombits(lw)
				b = math.Float64frombits(rw)
			}
			var x float64
			switch op {
			case OpAdd:
				x = a + b
			case OpSub:
				x = a - b
			case OpMul:
				x = a * b
			case OpDiv:
				x = a / b
			case OpMod:
				x = math.Mod(a, b)
			}
			if _, ok := rt0.(types.TFloat32); ok {
				return uint64(math.Float32bits(float32(x))), false, nil
			}
			return math.Float64bits(x), false, nil
		}, nil
	}

	// comparisons
	cmp, err := c.emitCompare(lt, rt)
	if err != nil {
		return nil, err
	}
	op := node.Op
	return func(f *frame) (uint64, bool, error) {
		lv, lm, err := lc(f)
		if err != nil {
			return 0, false, err
		}
		rv, rm, err := rc(f)
		if err != nil {
			return 0, false, err
		}
		if lm || rm {
			return 0, true, nil
		}
		cv := cmp(f, lv, rv)
		var out bool
		switch op {
		case OpEQ:
			out = cv == 0
		case OpNE:
			out = cv != 0
		case OpLT:
			out = cv < 0
		case OpLE:
			out = cv <= 0
		case OpGT:
			out = cv > 0
		case OpGE:
			out = cv >= 0
		}
		if out {
			return 1, false, nil
		}
		return 0, false, nil
	}, nil
}

func (c *compiler) emitCompare(lt, rt types.Type) (func(f *frame, lv, rv uint64) int, error) {
	if numericRank(lt) >= 0 && numericRank(rt) >= 0 {
		ut, err := unifyNumeric(lt, rt)
		if err != nil {
			return nil, err
		}
		switch ut.(type) {
		case types.TInt32, types.TInt64:
			return func(_ *frame, lv, rv uint64) int {
				a, b := int64(coerceWord(lt, ut, lv)), int64(coerceWord(rt, ut, rv))
				if a < b {
					return -1
				}
				if a > b {
					return 1
				}
				return 0
			}, nil
		default:
			return func(_ *frame, lv, rv uint64) int {
				aw, bw := coerceWord(lt, types.TFloat64{}, lv), coerceWord(rt, types.TFloat64{}, rv)
				a, b := math.Float64frombits(aw), math.Float64frombits(bw)
				if a < b {
					return -1
				}
				if a > b {
					return 1
				}
				return 0
			}, nil
		}
	}
	if _, ok := lt.(types.TBoolean); ok {
		return func(_ *frame, lv, rv uint64) int {
			return int(int64(lv) - int64(rv))
		}, nil
	}
	// pointer and compound values compare through the unsafe ordering
	ord := types.UnsafeOrd(lt.SetRequired(false), true)
	return func(f *frame, lv, rv uint64) int {
		return ord(f.region, int64(lv), f.region, int64(rv))
	}, nil
}

func (c *compiler) emitFold(node *ArrayFold, env *emitEnv) (ecode, error) {
	st, err := c.emitStream(node.A, env)
	if err != nil {
		return nil, err
	}
	zc, err := c.emit(node.Zero, env)
	if err != nil {
		return nil, err
	}
	accI := c.newLocal()
	eltI := c.newLocal()
	zt := node.Zero.Typ().SetRequired(false)
	benv := env.bind(node.AccumName, accI, zt).bind(node.ValueName, eltI, st.elemType)
	bc, err := c.emit(node.Body, benv)
	if err != nil {
		return nil, err
	}
	return func(f *frame) (uint64, bool, error) {
		m, err := st.setup(f)
		if err != nil {
			return 0, false, err
		}
		if m {
			return 0, true, nil
		}
		zv, zm, err := zc(f)
		if err != nil {
			return 0, false, err
		}
		f.lv[accI], f.lm[accI] = zv, zm
		err = st.iterate(f, func(v uint64, em bool) error {
			f.lv[eltI], f.lm[eltI] = v, em
			bv, bm, err := bc(f)
			if err != nil {
				return err
			}
			f.lv[accI], f.lm[accI] = bv, bm
			return nil
		})
		if err != nil {
			return 0, false, err
		}
		return f.lv[accI], f.lm[accI], nil
	}, nil
}

// emitStream lowers array-producing nodes into the iterator triplet.
// ArrayFilter and ArrayFlatMap drop the known length.
func (c *compiler) emitStream(n IR, env *emitEnv) (*stream, error) {
	switch node := n.(type) {
	case *ArrayRange:
		sc, err := c.emit(node.Start, env)
		if err != nil {
			return nil, err
		}
		pc, err := c.emit(node.Stop, env)
		if err != nil {
			return nil, err
		}
		stc, err := c.emit(node.Step, env)
		if err != nil {
			return nil, err
		}
		startI := c.newLocal()
		stepI := c.newLocal()
		lenI := c.newLocal()
		return &stream{
			elemType: types.TInt32{Req: true},
			setup: func(f *frame) (bool, error) {
				sv, sm, err := sc(f)
				if err != nil {
					return false, err
				}
				pv, pm, err := pc(f)
				if err != nil {
					return false, err
				}
				tv, tm, err := stc(f)
				if err != nil {
					return false, err
				}
				if sm || pm || tm {
					return true, nil
				}
				start, stop, step := int64(int32(sv)), int64(int32(pv)), int64(int32(tv))
				if step == 0 {
					return false, fmt.Errorf("array range cannot have step size 0")
				}
				var l int64
				if step > 0 {
					l = (stop - start + step - 1) / step
				} else {
					l = (stop - start + step + 1) / step
				}
				if l < 0 {
					l = 0
				}
				if l > math.MaxInt32 {
					return false, fmt.Errorf("array range cannot have more than MAXINT elements")
				}
				f.lv[startI] = uint64(start)
				f.lv[stepI] = uint64(step)
				f.lv[lenI] = uint64(l)
				return false, nil
			},
			knownLen: func(f *frame) (int32, error) {
				return int32(f.lv[lenI]), nil
			},
			iterate: func(f *frame, cont contFn) error {
				start, step, l := int64(f.lv[startI]), int64(f.lv[stepI]), int64(f.lv[lenI])
				for i := int64(0); i < l; i++ {
					if err := cont(uint64(int64(int32(start+i*step))), false); err != nil {
						return err
					}
				}
				return nil
			},
		}, nil
	case *MakeArray:
		codes := make([]ecode, len(node.Elems))
		for i, e := range node.Elems {
			ec, err := c.emit(e, env)
			if err != nil {
				return nil, err
			}
			codes[i] = ec
		}
		et := node.ElemType
		elemTypes := make([]types.Type, len(node.Elems))
		for i, e := range node.Elems {
			elemTypes[i] = e.Typ()
		}
		n := int32(len(codes))
		return &stream{
			elemType: et,
			setup:    func(*frame) (bool, error) { return false, nil },
			knownLen: func(*frame) (int32, error) { return n, nil },
			iterate: func(f *frame, cont contFn) error {
				for i, ec := range codes {
					v, m, err := ec(f)
					if err != nil {
						return err
					}
					if !m {
						v = coerceWord(elemTypes[i], et, v)
					}
					if err := cont(v, m); err != nil {
						return err
					}
				}
				return nil
			},
		}, nil
	case *ArrayMap:
		inner, err := c.emitStream(node.A, env)
		if err != nil {
			return nil, err
		}
		eltI := c.newLocal()
		bc, err := c.emit(node.Body, env.bind(node.Name, eltI, inner.elemType))
		if err != nil {
			return nil, err
		}
		return &stream{
			elemType: node.Typ().(*types.TArray).Elem,
			setup:    inner.setup,
			knownLen: inner.knownLen,
			iterate: func(f *frame, cont contFn) error {
				return inner.iterate(f, func(v uint64, m bool) error {
					f.lv[eltI], f.lm[eltI] = v, m
					bv, bm, err := bc(f)
					if err != nil {
						return err
					}
					return cont(bv, bm)
				})
			},
		}, nil
	case *ArrayFilter:
		inner, err := c.emitStream(node.A, env)
		if err != nil {
			return nil, err
		}
		eltI := c.newLocal()
		pc, err := c.emit(node.Body, env.bind(node.Name, eltI, inner.elemType))
		if err != nil {
			return nil, err
		}
		return &stream{
			elemType: node.Typ().(*types.TArray).Elem,
			setup:    inner.setup,
			iterate: func(f *frame, cont contFn) error {
				return inner.iterate(f, func(v uint64, m bool) error {
					f.lv[eltI], f.lm[eltI] = v, m
					pv, pm, err := pc(f)
					if err != nil {
						return err
					}
					// a missing or false predicate drops the element
					if pm || pv == 0 {
						return nil
					}
					return cont(v, m)
				})
			},
		}, nil
	case *ArrayFlatMap:
		inner, err := c.emitStream(node.A, env)
		if err != nil {
			return nil, err
		}
		eltI := c.newLocal()
		body, err := c.emitStream(node.Body, env.bind(node.Name, eltI, inner.elemType))
		if err != nil {
			return nil, err
		}
		return &stream{
			elemType: node.Typ().(*types.TArray).Elem,
			setup:    inner.setup,
			iterate: func(f *frame, cont contFn) error {
				return inner.iterate(f, func(v uint64, m bool) error {
					if m {
						// a missing inner array contributes nothing
						return nil
					}
					f.lv[eltI], f.lm[eltI] = v, false
					bm, err := body.setup(f)
					if err != nil {
						return err
					}
					if bm {
						return nil
					}
					return body.iterate(f, cont)
				})
			},
		}, nil
	default:
		// any other array-typed expression: materialized array walked
		// element by element
		code, err := c.emit(n, env)
		if err != nil {
			return nil, err
		}
		at, ok := n.Typ().(*types.TArray)
		if !ok {
			return nil, fmt.Errorf("%w: expected an array, got %s", ErrTypeMismatch, n.Typ().String())
		}
		offI := c.newLocal()
		return &stream{
			elemType: at.Elem.SetRequired(false),
			setup: func(f *frame) (bool, error) {
				v, m, err := code(f)
				if err != nil {
					return false, err
				}
				f.lv[offI] = v
				return m, nil
			},
			knownLen: func(f *frame) (int32, error) {
				return at.LoadLength(f.region, int64(f.lv[offI])), nil
			},
			iterate: func(f *frame, cont contFn) error {
				aoff := int64(f.lv[offI])
				n := at.LoadLength(f.region, aoff)
				for i := int32(0); i < n; i++ {
					if !at.IsElementDefined(f.region, aoff, i) {
						if err := cont(0, true); err != nil {
							return err
						}
						continue
					}
					w := loadWordAt(f.region, at.Elem, at.LoadElement(f.region, aoff, n, i))
					if err := cont(w, false); err != nil {
						return err
					}
				}
				return nil
			},
		}, nil
	}
}

// materialize consumes a stream into an array value: with a known length the
// array is preallocated and elements pushed straight through the builder,
// otherwise elements buffer into growable value and missing arrays first.
func (c *compiler) materialize(st *stream) ecode {
	arrT := &types.TArray{Elem: st.elemType}
	return func(f *frame) (uint64, bool, error) {
		m, err := st.setup(f)
		if err != nil {
			return 0, false, err
		}
		if m {
			return 0, true, nil
		}
		if st.knownLen != nil {
			n, err := st.knownLen(f)
			if err != nil {
				return 0, false, err
			}
			rvb := types.NewBuilder(f.region)
			rvb.Start(arrT)
			rvb.StartArray(n, true)
			err = st.iterate(f, func(v uint64, em bool) error {
				if em {
					rvb.SetMissing()
				} else {
					addWord(rvb, st.elemType, f.region, v)
				}
				return nil
			})
			if err != nil {
				return 0, false, err
			}
			rvb.EndArray()
			return uint64(rvb.End()), false, nil
		}
		var vals []uint64
		var miss []bool
		err = st.iterate(f, func(v uint64, em bool) error {
			vals = append(vals, v)
			miss = append(miss, em)
			return nil
		})
		if err != nil {
			return 0, false, err
		}
		rvb := types.NewBuilder(f.region)
		rvb.Start(arrT)
		rvb.StartArray(int32(len(vals)), true)
		for i, v := range vals {
			if miss[i] {
				rvb.SetMissing()
			} else {
				addWord(rvb, st.elemType, f.region, v)
			}
		}
		rvb.EndArray()
		return uint64(rvb.End()), false, nil
	}
}
