package ir

import (
	"fmt"

	"github.com/danthegoodman1/strata/types"
)

type (
	// Env is the lexical environment for name resolution
	Env struct {
		parent *Env
		name   string
		typ    types.Type
	}

	inferCtx struct {
		inTypes  []types.Type
		elemType types.Type // ambient aggregable element type, nil if none
		inAgg    bool
		aggOps   []*ApplyAggOp
	}
)

func (e *Env) Bind(name string, t types.Type) *Env {
	return &Env{parent: e, name: name, typ: t}
}

func (e *Env) Lookup(name string) (types.Type, bool) {
	for env := e; env != nil; env = env.parent {
		if env.name == name {
			return env.typ, true
		}
	}
	return nil, false
}

func numericRank(t types.Type) int {
	switch t.(type) {
	case types.TInt32:
		return 0
	case types.TInt64:
		return 1
	case types.TFloat32:
		return 2
	case types.TFloat64:
		return 3
	}
	return -1
}

// unifyNumeric promotes two numeric types to their least common type
func unifyNumeric(a, b types.Type) (types.Type, error) {
	ra, rb := numericRank(a), numericRank(b)
	if ra < 0 || rb < 0 {
		return nil, fmt.Errorf("%w: cannot unify %s and %s", ErrTypeMismatch, a.String(), b.String())
	}
	if ra >= rb {
		return a.SetRequired(false), nil
	}
	return b.SetRequired(false), nil
}

func isBool(t types.Type) bool {
	_, ok := t.(types.TBoolean)
	return ok
}

// Infer type-checks the tree and fills in every node's result type
func (c *inferCtx) infer(n IR, env *Env) error {
	switch node := n.(type) {
	case *I32:
		node.typ = types.TInt32{Req: true}
	case *I64:
		node.typ = types.TInt64{Req: true}
	case *F32:
		node.typ = types.TFloat32{Req: true}
	case *F64:
		node.typ = types.TFloat64{Req: true}
	case *Str:
		node.typ = types.TString{Req: true}
	case *True:
		node.typ = types.TBoolean{Req: true}
	case *False:
		node.typ = types.TBoolean{Req: true}
	case *NA:
		node.typ = node.T.SetRequired(false)
	case *IsNA:
		if err := c.infer(node.V, env); err != nil {
			return err
		}
		node.typ = types.TBoolean{Req: true}
	case *In:
		if c.inAgg {
			return fmt.Errorf("%w: In(%d)", ErrInsideAgg, node.I)
		}
		if node.I < 0 || node.I >= len(c.inTypes) {
			return fmt.Errorf("input %d out of range (%d inputs)", node.I, len(c.inTypes))
		}
		if !types.Same(node.T, c.inTypes[node.I]) {
			return fmt.Errorf("%w: input %d declared %s, compiled with %s",
				ErrTypeMismatch, node.I, node.T.String(), c.inTypes[node.I].String())
		}
		node.typ = node.T
	case *Ref:
		t, ok := env.Lookup(node.Name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnboundRef, node.Name)
		}
		node.typ = t
	case *Let:
		if err := c.infer(node.Value, env); err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, node.Value.Typ())); err != nil {
			return err
		}
		node.typ = node.Body.Typ()
	case *MapNA:
		if err := c.infer(node.Value, env); err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, node.Value.Typ())); err != nil {
			return err
		}
		node.typ = node.Body.Typ().SetRequired(false)
	case *If:
		if err := c.infer(node.Cond, env); err != nil {
			return err
		}
		if !isBool(node.Cond.Typ()) {
			return fmt.Errorf("%w: If condition is %s", ErrTypeMismatch, node.Cond.Typ().String())
		}
		if err := c.infer(node.Then, env); err != nil {
			return err
		}
		if err := c.infer(node.Else, env); err != nil {
			return err
		}
		tt, et := node.Then.Typ(), node.Else.Typ()
		if types.Same(tt.SetRequired(false), et.SetRequired(false)) {
			node.typ = tt.SetRequired(false)
		} else {
			u, err := unifyNumeric(tt, et)
			if err != nil {
				return fmt.Errorf("If branches disagree: %s vs %s", tt.String(), et.String())
			}
			node.typ = u
		}
	case *ApplyBinaryPrimOp:
		if err := c.infer(node.L, env); err != nil {
			return err
		}
		if err := c.infer(node.R, env); err != nil {
			return err
		}
		lt, rt := node.L.Typ(), node.R.Typ()
		switch node.Op {
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			u, err := unifyNumeric(lt, rt)
			if err != nil {
				return fmt.Errorf("operator %s: %w", node.Op, err)
			}
			node.typ = u
		case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
			if numericRank(lt) >= 0 && numericRank(rt) >= 0 {
				node.typ = types.TBoolean{}
			} else if types.Same(lt.SetRequired(false), rt.SetRequired(false)) {
				node.typ = types.TBoolean{}
			} else {
				return fmt.Errorf("operator %s: %w: %s vs %s", node.Op, ErrTypeMismatch, lt.String(), rt.String())
			}
		case OpAnd, OpOr:
			if !isBool(lt) || !isBool(rt) {
				return fmt.Errorf("operator %s requires booleans, got %s and %s", node.Op, lt.String(), rt.String())
			}
			node.typ = types.TBoolean{}
		default:
			return fmt.Errorf("unknown binary operator %q", node.Op)
		}
	case *ApplyUnaryPrimOp:
		if err := c.infer(node.V, env); err != nil {
			return err
		}
		switch node.Op {
		case OpNegate:
			if numericRank(node.V.Typ()) < 0 {
				return fmt.Errorf("operator - requires a numeric, got %s", node.V.Typ().String())
			}
			node.typ = node.V.Typ().SetRequired(false)
		case OpNot:
			if !isBool(node.V.Typ()) {
				return fmt.Errorf("operator ! requires a boolean, got %s", node.V.Typ().String())
			}
			node.typ = types.TBoolean{}
		default:
			return fmt.Errorf("unknown unary operator %q", node.Op)
		}
	case *MakeArray:
		for _, e := range node.Elems {
			if err := c.infer(e, env); err != nil {
				return err
			}
			if !types.Same(e.Typ().SetRequired(false), node.ElemType.SetRequired(false)) {
				return fmt.Errorf("%w: MakeArray element %s in Array[%s]",
					ErrTypeMismatch, e.Typ().String(), node.ElemType.String())
			}
		}
		node.typ = &types.TArray{Elem: node.ElemType}
	case *ArrayRef:
		if err := c.infer(node.A, env); err != nil {
			return err
		}
		if err := c.infer(node.I, env); err != nil {
			return err
		}
		at, ok := node.A.Typ().(*types.TArray)
		if !ok {
			return fmt.Errorf("%w: ArrayRef of %s", ErrTypeMismatch, node.A.Typ().String())
		}
		if _, ok := node.I.Typ().(types.TInt32); !ok {
			return fmt.Errorf("%w: ArrayRef index is %s", ErrTypeMismatch, node.I.Typ().String())
		}
		node.typ = at.Elem.SetRequired(false)
	case *ArrayLen:
		if err := c.infer(node.A, env); err != nil {
			return err
		}
		if _, ok := node.A.Typ().(*types.TArray); !ok {
			return fmt.Errorf("%w: ArrayLen of %s", ErrTypeMismatch, node.A.Typ().String())
		}
		node.typ = types.TInt32{}
	case *ArrayRange:
		for _, arg := range []IR{node.Start, node.Stop, node.Step} {
			if err := c.infer(arg, env); err != nil {
				return err
			}
			if _, ok := arg.Typ().(types.TInt32); !ok {
				return fmt.Errorf("%w: ArrayRange argument is %s", ErrTypeMismatch, arg.Typ().String())
			}
		}
		node.typ = &types.TArray{Elem: types.TInt32{Req: true}}
	case *ArrayMap:
		elem, err := c.inferArrayElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, elem)); err != nil {
			return err
		}
		node.typ = &types.TArray{Elem: node.Body.Typ().SetRequired(false)}
	case *ArrayFilter:
		elem, err := c.inferArrayElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, elem)); err != nil {
			return err
		}
		if !isBool(node.Body.Typ()) {
			return fmt.Errorf("%w: ArrayFilter predicate is %s", ErrTypeMismatch, node.Body.Typ().String())
		}
		node.typ = &types.TArray{Elem: elem}
	case *ArrayFlatMap:
		elem, err := c.inferArrayElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, elem)); err != nil {
			return err
		}
		bt, ok := node.Body.Typ().(*types.TArray)
		if !ok {
			return fmt.Errorf("%w: ArrayFlatMap body is %s", ErrTypeMismatch, node.Body.Typ().String())
		}
		node.typ = &types.TArray{Elem: bt.Elem}
	case *ArrayFold:
		elem, err := c.inferArrayElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Zero, env); err != nil {
			return err
		}
		zt := node.Zero.Typ().SetRequired(false)
		benv := env.Bind(node.AccumName, zt).Bind(node.ValueName, elem)
		if err := c.infer(node.Body, benv); err != nil {
			return err
		}
		if !types.Same(node.Body.Typ().SetRequired(false), zt) {
			return fmt.Errorf("%w: ArrayFold body %s does not match zero %s",
				ErrTypeMismatch, node.Body.Typ().String(), zt.String())
		}
		node.typ = zt
	case *MakeStruct:
		fields := make([]types.Field, len(node.Fields))
		for i, f := range node.Fields {
			if err := c.infer(f.V, env); err != nil {
				return err
			}
			fields[i] = types.Field{Name: f.Name, Typ: f.V.Typ()}
		}
		node.typ = types.TStructOf(fields...)
	case *InsertFields:
		if err := c.infer(node.Old, env); err != nil {
			return err
		}
		ot, ok := node.Old.Typ().(*types.TStruct)
		if !ok {
			return fmt.Errorf("%w: InsertFields into %s", ErrTypeMismatch, node.Old.Typ().String())
		}
		extra := make([]types.Field, len(node.Fields))
		for i, f := range node.Fields {
			if err := c.infer(f.V, env); err != nil {
				return err
			}
			extra[i] = types.Field{Name: f.Name, Typ: f.V.Typ().SetRequired(false)}
		}
		node.typ = ot.AppendFields(extra...)
	case *GetField:
		if err := c.infer(node.O, env); err != nil {
			return err
		}
		ot, ok := node.O.Typ().(*types.TStruct)
		if !ok {
			return fmt.Errorf("%w: GetField of %s", ErrTypeMismatch, node.O.Typ().String())
		}
		fi := ot.FieldIdx(node.Name)
		if fi < 0 {
			return fmt.Errorf("struct %s has no field %q", ot.String(), node.Name)
		}
		node.typ = ot.Fields[fi].Typ.SetRequired(false)
	case *MakeTuple:
		ts := make([]types.Type, len(node.Elems))
		for i, e := range node.Elems {
			if err := c.infer(e, env); err != nil {
				return err
			}
			ts[i] = e.Typ()
		}
		node.typ = types.TTupleOf(ts...)
	case *GetTupleElement:
		if err := c.infer(node.O, env); err != nil {
			return err
		}
		ot, ok := node.O.Typ().(*types.TTuple)
		if !ok {
			return fmt.Errorf("%w: GetTupleElement of %s", ErrTypeMismatch, node.O.Typ().String())
		}
		if node.I < 0 || node.I >= len(ot.Types) {
			return fmt.Errorf("tuple %s has no element %d", ot.String(), node.I)
		}
		node.typ = ot.Types[node.I].SetRequired(false)
	case *Die:
		node.typ = node.T
	case *Apply:
		if c.inAgg {
			return fmt.Errorf("%w: Apply(%s)", ErrInsideAgg, node.Function)
		}
		argTypes := make([]types.Type, len(node.Args))
		for i, a := range node.Args {
			if err := c.infer(a, env); err != nil {
				return err
			}
			argTypes[i] = a.Typ()
		}
		impl, err := lookupFn(node.Function, argTypes)
		if err != nil {
			return err
		}
		node.impl = impl
		node.typ = impl.RetType
	case *AggIn:
		if c.elemType == nil {
			return ErrNoAggScope
		}
		if !c.inAgg {
			return fmt.Errorf("%w: AggIn outside ApplyAggOp", ErrNoAggScope)
		}
		if !types.Same(node.T, c.elemType) {
			return fmt.Errorf("%w: AggIn declared %s, aggregable element is %s",
				ErrTypeMismatch, node.T.String(), c.elemType.String())
		}
		node.typ = node.T
	case *AggMap:
		elem, err := c.inferAggElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, elem)); err != nil {
			return err
		}
		node.typ = node.Body.Typ().SetRequired(false)
	case *AggFilter:
		elem, err := c.inferAggElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, elem)); err != nil {
			return err
		}
		if !isBool(node.Body.Typ()) {
			return fmt.Errorf("%w: AggFilter predicate is %s", ErrTypeMismatch, node.Body.Typ().String())
		}
		node.typ = elem
	case *AggFlatMap:
		elem, err := c.inferAggElem(node.A, env)
		if err != nil {
			return err
		}
		if err := c.infer(node.Body, env.Bind(node.Name, elem)); err != nil {
			return err
		}
		bt, ok := node.Body.Typ().(*types.TArray)
		if !ok {
			return fmt.Errorf("%w: AggFlatMap body is %s", ErrTypeMismatch, node.Body.Typ().String())
		}
		node.typ = bt.Elem.SetRequired(false)
	case *ApplyAggOp:
		if c.inAgg {
			return ErrNestedAgg
		}
		if c.elemType == nil {
			return ErrNoAggScope
		}
		c.inAgg = true
		err := c.infer(node.A, env)
		c.inAgg = false
		if err != nil {
			return err
		}
		for _, a := range node.Args {
			if err := c.infer(a, env); err != nil {
				return err
			}
		}
		rt, err := aggResultType(node.Op, node.A.Typ(), node.Args)
		if err != nil {
			return err
		}
		node.typ = rt
		node.aggIdx = len(c.aggOps)
		c.aggOps = append(c.aggOps, node)
	default:
		return fmt.Errorf("unknown IR node %T", n)
	}
	return nil
}

// inferArrayElem infers an array-typed child and returns its element type
func (c *inferCtx) inferArrayElem(a IR, env *Env) (types.Type, error) {
	if err := c.infer(a, env); err != nil {
		return nil, err
	}
	at, ok := a.Typ().(*types.TArray)
	if !ok {
		return nil, fmt.Errorf("%w: expected an array, got %s", ErrTypeMismatch, a.Typ().String())
	}
	return at.Elem.SetRequired(false), nil
}

// inferAggElem infers an aggregable child; its type is the element type it
// yields
func (c *inferCtx) inferAggElem(a IR, env *Env) (types.Type, error) {
	switch a.(type) {
	case *AggIn, *AggMap, *AggFilter, *AggFlatMap:
	default:
		return nil, fmt.Errorf("%w: %T is not an aggregable", ErrInsideAgg, a)
	}
	if err := c.infer(a, env); err != nil {
		return nil, err
	}
	return a.Typ().SetRequired(false), nil
}

func aggResultType(op AggOp, elem types.Type, args []IR) (types.Type, error) {
	switch op {
	case AggCount:
		return types.TInt64{Req: true}, nil
	case AggSum, AggProduct:
		switch elem.(type) {
		case types.TInt32, types.TInt64:
			return types.TInt64{Req: true}, nil
		case types.TFloat32, types.TFloat64:
			return types.TFloat64{Req: true}, nil
		}
		return nil, fmt.Errorf("%s is not defined for %s", op, elem.String())
	case AggMin, AggMax:
		switch elem.(type) {
		case types.TInt32, types.TInt64:
			return types.TInt64{}, nil
		case types.TFloat32, types.TFloat64:
			return types.TFloat64{}, nil
		}
		return nil, fmt.Errorf("%s is not defined for %s", op, elem.String())
	case AggFraction:
		if !isBool(elem) {
			return nil, fmt.Errorf("fraction requires a boolean aggregable, got %s", elem.String())
		}
		return types.TFloat64{}, nil
	case AggCollect:
		return &types.TArray{Elem: elem, Req: true}, nil
	case AggTake:
		if len(args) != 1 {
			return nil, fmt.Errorf("take requires a literal count argument")
		}
		if _, ok := args[0].(*I32); !ok {
			return nil, fmt.Errorf("take count must be an Int32 literal")
		}
		return &types.TArray{Elem: elem, Req: true}, nil
	}
	return nil, fmt.Errorf("unknown aggregator op %s", op)
}
