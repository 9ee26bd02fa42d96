package rvd

import (
	"fmt"

	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

type (
	JoinType string

	// peekIter adds one-row lookahead over an RVIter
	peekIter struct {
		it      exec.RVIter
		head    region.RegionValue
		hasHead bool
		err     error
	}
)

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinOuter JoinType = "outer"
)

func newPeekIter(it exec.RVIter) *peekIter {
	return &peekIter{it: it}
}

func (p *peekIter) peek() (region.RegionValue, bool) {
	if p.hasHead {
		return p.head, true
	}
	if p.err != nil {
		return region.RegionValue{}, false
	}
	if !p.it.Next() {
		p.err = p.it.Err()
		return region.RegionValue{}, false
	}
	p.head = p.it.Value()
	p.hasHead = true
	return p.head, true
}

func (p *peekIter) pop() (region.RegionValue, bool) {
	rv, ok := p.peek()
	p.hasHead = false
	return rv, ok
}

// PartitionSortedUnion merges two identically-typed, identically-partitioned
// datasets with a two-pointer K-merge per partition pair.
func (rvd *OrderedRVD) PartitionSortedUnion(other *OrderedRVD) (*OrderedRVD, error) {
	if !types.Same(rvd.Typ.RowType, other.Typ.RowType) || !rvd.Typ.SameKey(other.Typ) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrTypeMismatch,
			rvd.Typ.RowType.String(), other.Typ.RowType.String())
	}
	typ := rvd.Typ
	return rvd.ZipPartitionsPreservesPartitioning(typ, other,
		func(_ *exec.PartitionContext, a, b exec.RVIter) exec.RVIter {
			pa, pb := newPeekIter(a), newPeekIter(b)
			return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
				av, aok := pa.peek()
				bv, bok := pb.peek()
				if pa.err != nil {
					return region.RegionValue{}, false, pa.err
				}
				if pb.err != nil {
					return region.RegionValue{}, false, pb.err
				}
				switch {
				case aok && bok:
					if typ.KCompare(av, bv) <= 0 {
						rv, _ := pa.pop()
						return rv, true, nil
					}
					rv, _ := pb.pop()
					return rv, true, nil
				case aok:
					rv, _ := pa.pop()
					return rv, true, nil
				case bok:
					rv, _ := pb.pop()
					return rv, true, nil
				}
				return region.RegionValue{}, false, nil
			}, func() {
				a.Close()
				b.Close()
			})
		})
}

// DistinctByKey keeps the first row of each equal-by-key run within a
// partition.
func (rvd *OrderedRVD) DistinctByKey() *OrderedRVD {
	typ := rvd.Typ
	return rvd.MapPartitionsPreservesPartitioning(typ,
		func(_ *exec.PartitionContext, it exec.RVIter) exec.RVIter {
			prev := types.NewWritableRegionValue(typ.RowType)
			first := true
			return exec.NewFilterIter(it, func(rv region.RegionValue) (bool, error) {
				if !first && typ.KCompare(prev.Value(), rv) == 0 {
					return false, nil
				}
				prev.Set(rv.Region, rv.Offset)
				first = false
				return true, nil
			})
		})
}

// GroupByKeyType is the row type GroupByKey produces: the key fields
// followed by an array of the original rows.
func (t *OrderedRVDType) GroupByKeyType(valuesField string) (*OrderedRVDType, error) {
	fields := make([]types.Field, 0, len(t.Key)+1)
	for _, name := range t.Key {
		fields = append(fields, t.RowType.Fields[t.RowType.FieldIdx(name)])
	}
	fields = append(fields, types.Field{
		Name: valuesField,
		Typ:  &types.TArray{Elem: t.RowType, Req: true},
	})
	return NewOrderedRVDType(types.TStructOf(fields...), t.Key, t.PartitionKey)
}

// GroupByKey walks a staircase of equal-by-key runs within each partition
// and emits one (key, array-of-values) row per run. Partitioning is keyed
// by PK, a prefix of K, so no group crosses a partition.
func (rvd *OrderedRVD) GroupByKey(valuesField string) (*OrderedRVD, error) {
	newTyp, err := rvd.Typ.GroupByKeyType(valuesField)
	if err != nil {
		return nil, err
	}
	typ := rvd.Typ
	return rvd.MapPartitionsPreservesPartitioning(newTyp,
		func(pc *exec.PartitionContext, it exec.RVIter) exec.RVIter {
			pi := newPeekIter(it)
			return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
				first, ok := pi.pop()
				if !ok {
					return region.RegionValue{}, false, pi.err
				}
				// rows buffered past the source's next row are deep-copied
				// so they outlive the producer's region reuse
				run := []*types.WritableRegionValue{copyRow(typ.RowType, first)}
				for {
					next, ok := pi.peek()
					if !ok {
						if pi.err != nil {
							return region.RegionValue{}, false, pi.err
						}
						break
					}
					if typ.KCompare(run[0].Value(), next) != 0 {
						break
					}
					pi.pop()
					run = append(run, copyRow(typ.RowType, next))
				}
				off := buildGroupedRow(pc.Region, typ, newTyp, valuesField, run)
				return region.Value(pc.Region, off), true, nil
			}, it.Close)
		}), nil
}

func copyRow(t *types.TStruct, rv region.RegionValue) *types.WritableRegionValue {
	w := types.NewWritableRegionValue(t)
	w.Set(rv.Region, rv.Offset)
	return w
}

func buildGroupedRow(r *region.Region, typ *OrderedRVDType, newTyp *OrderedRVDType,
	valuesField string, run []*types.WritableRegionValue) int64 {
	rowT := newTyp.RowType
	b := types.NewBuilder(r)
	b.Start(rowT)
	b.StartStruct(true)
	head := run[0].Value()
	for _, name := range typ.Key {
		fi := typ.RowType.FieldIdx(name)
		if typ.RowType.IsFieldDefined(head.Region, head.Offset, fi) {
			b.AddRegionValue(typ.RowType.Fields[fi].Typ, head.Region,
				typ.RowType.LoadField(head.Region, head.Offset, fi))
		} else {
			b.SetMissing()
		}
	}
	b.StartArray(int32(len(run)), true)
	for _, w := range run {
		v := w.Value()
		b.AddRegionValue(typ.RowType, v.Region, v.Offset)
	}
	b.EndArray()
	b.EndStruct()
	return b.End()
}

// JoinedType is the row type of an ordered join: the left key fields, the
// left value fields, then the right value fields, values all optional.
func JoinedType(left, right *OrderedRVDType) (*OrderedRVDType, error) {
	isKey := func(t *OrderedRVDType, name string) bool {
		for _, k := range t.Key {
			if k == name {
				return true
			}
		}
		return false
	}
	var fields []types.Field
	for _, name := range left.Key {
		f := left.RowType.Fields[left.RowType.FieldIdx(name)]
		fields = append(fields, types.Field{Name: f.Name, Typ: f.Typ.SetRequired(false)})
	}
	for _, f := range left.RowType.Fields {
		if !isKey(left, f.Name) {
			fields = append(fields, types.Field{Name: f.Name, Typ: f.Typ.SetRequired(false)})
		}
	}
	for _, f := range right.RowType.Fields {
		if isKey(right, f.Name) {
			continue
		}
		for _, existing := range fields {
			if existing.Name == f.Name {
				return nil, fmt.Errorf("%w: duplicate value field %q in join", ErrTypeMismatch, f.Name)
			}
		}
		fields = append(fields, types.Field{Name: f.Name, Typ: f.Typ.SetRequired(false)})
	}
	return NewOrderedRVDType(types.TStructOf(fields...), left.Key, left.PartitionKey)
}

// OrderedJoin keys both sides, aligns the right partitioner to the left,
// then merge-joins the co-partitioned iterators. Distinct collapses
// duplicate keys on the right.
func (rvd *OrderedRVD) OrderedJoin(other *OrderedRVD, joinType JoinType, distinct bool) (*OrderedRVD, error) {
	if !rvd.Typ.SameKey(other.Typ) {
		return nil, fmt.Errorf("%w: join keys %s vs %s", ErrTypeMismatch,
			rvd.Typ.KType().String(), other.Typ.KType().String())
	}
	newTyp, err := JoinedType(rvd.Typ, other.Typ)
	if err != nil {
		return nil, err
	}
	right := other
	if !rvd.Partitioner.Same(other.Partitioner) {
		right, err = other.ConstrainToOrderedPartitioner(rvd.Partitioner)
		if err != nil {
			return nil, err
		}
	}
	lTyp, rTyp := rvd.Typ, other.Typ
	cmp := crossKeyOrd(lTyp, rTyp, len(lTyp.Key))
	joined := rvd.RDD.ZipPartitions(right.RDD, func(pc *exec.PartitionContext, a, b exec.RVIter) exec.RVIter {
		return newMergeJoinIter(pc, lTyp, rTyp, newTyp, cmp, joinType, distinct, a, b)
	})
	return &OrderedRVD{Typ: newTyp, Partitioner: rvd.Partitioner, RDD: joined}, nil
}

// OrderedJoinDistinct is OrderedJoin with duplicate right keys collapsed
func (rvd *OrderedRVD) OrderedJoinDistinct(other *OrderedRVD, joinType JoinType) (*OrderedRVD, error) {
	return rvd.OrderedJoin(other, joinType, true)
}

type mergeJoinIter struct {
	pc       *exec.PartitionContext
	lTyp     *OrderedRVDType
	rTyp     *OrderedRVDType
	outTyp   *OrderedRVDType
	cmp      func(l, r region.RegionValue) int
	joinType JoinType
	distinct bool

	l *peekIter
	r *peekIter

	// pending joined rows for the current key group
	pending []int64
	pi      int

	cur region.RegionValue
	err error
}

func newMergeJoinIter(pc *exec.PartitionContext, lTyp, rTyp, outTyp *OrderedRVDType,
	cmp func(l, r region.RegionValue) int, joinType JoinType, distinct bool,
	a, b exec.RVIter) exec.RVIter {
	return &mergeJoinIter{
		pc: pc, lTyp: lTyp, rTyp: rTyp, outTyp: outTyp,
		cmp: cmp, joinType: joinType, distinct: distinct,
		l: newPeekIter(a), r: newPeekIter(b),
	}
}

func (m *mergeJoinIter) emitLeft() bool {
	return m.joinType == JoinLeft || m.joinType == JoinOuter
}

func (m *mergeJoinIter) emitRight() bool {
	return m.joinType == JoinRight || m.joinType == JoinOuter
}

func (m *mergeJoinIter) Next() bool {
	if m.err != nil {
		return false
	}
	for {
		if m.pi < len(m.pending) {
			m.cur = region.Value(m.pc.Region, m.pending[m.pi])
			m.pi++
			return true
		}
		m.pending = m.pending[:0]
		m.pi = 0

		lv, lok := m.l.peek()
		rv, rok := m.r.peek()
		if m.l.err != nil {
			m.err = m.l.err
			return false
		}
		if m.r.err != nil {
			m.err = m.r.err
			return false
		}
		switch {
		case !lok && !rok:
			return false
		case lok && (!rok || m.cmp(lv, rv) < 0):
			m.l.pop()
			if m.emitLeft() {
				m.pending = append(m.pending, m.buildRow(&lv, nil))
			} else if m.joinType == JoinInner || m.joinType == JoinRight {
				continue
			}
		case rok && (!lok || m.cmp(lv, rv) > 0):
			m.r.pop()
			if m.emitRight() {
				m.pending = append(m.pending, m.buildRow(nil, &rv))
			} else {
				continue
			}
		default:
			// equal keys: buffer the right run, then pair every left row of
			// the run against it
			var run []*types.WritableRegionValue
			firstRight, _ := m.r.pop()
			run = append(run, copyRow(m.rTyp.RowType, firstRight))
			runHead := run[0].Value()
			for {
				nrv, ok := m.r.peek()
				if !ok || m.cmp(lv, nrv) != 0 {
					break
				}
				m.r.pop()
				if !m.distinct {
					run = append(run, copyRow(m.rTyp.RowType, nrv))
				}
			}
			for {
				clv, ok := m.l.peek()
				if !ok || m.cmp(clv, runHead) != 0 {
					break
				}
				m.l.pop()
				for _, w := range run {
					wrv := w.Value()
					m.pending = append(m.pending, m.buildRow(&clv, &wrv))
				}
			}
		}
	}
}

// buildRow materializes one joined row; a nil side contributes missing
// value fields, the key comes from whichever side is present.
func (m *mergeJoinIter) buildRow(l, r *region.RegionValue) int64 {
	outT := m.outTyp.RowType
	b := types.NewBuilder(m.pc.Region)
	b.Start(outT)
	b.StartStruct(true)
	// key fields
	if l != nil {
		copyFields(b, m.lTyp.RowType, *l, m.lTyp.kIdx)
	} else {
		copyFields(b, m.rTyp.RowType, *r, m.rTyp.kIdx)
	}
	// left values
	if l != nil {
		copyFields(b, m.lTyp.RowType, *l, nonKeyIdx(m.lTyp))
	} else {
		for range nonKeyIdx(m.lTyp) {
			b.SetMissing()
		}
	}
	// right values
	if r != nil {
		copyFields(b, m.rTyp.RowType, *r, nonKeyIdx(m.rTyp))
	} else {
		for range nonKeyIdx(m.rTyp) {
			b.SetMissing()
		}
	}
	b.EndStruct()
	return b.End()
}

func copyFields(b *types.RegionValueBuilder, t *types.TStruct, rv region.RegionValue, idx []int) {
	for _, fi := range idx {
		if t.IsFieldDefined(rv.Region, rv.Offset, fi) {
			b.AddRegionValue(t.Fields[fi].Typ, rv.Region, t.LoadField(rv.Region, rv.Offset, fi))
		} else {
			b.SetMissing()
		}
	}
}

func nonKeyIdx(t *OrderedRVDType) []int {
	var out []int
	for i, f := range t.RowType.Fields {
		isKey := false
		for _, k := range t.Key {
			if k == f.Name {
				isKey = true
				break
			}
		}
		if !isKey {
			out = append(out, i)
		}
	}
	return out
}

func (m *mergeJoinIter) Value() region.RegionValue { return m.cur }
func (m *mergeJoinIter) Err() error                { return m.err }
func (m *mergeJoinIter) Close() {
	m.l.it.Close()
	m.r.it.Close()
}

// OrderedZipJoin aligns the two datasets by key and emits one row per key
// occurrence on either side, carrying the complete original rows as
// optional left and right fields.
func (rvd *OrderedRVD) OrderedZipJoin(other *OrderedRVD, leftField, rightField string) (*OrderedRVD, error) {
	if !rvd.Typ.SameKey(other.Typ) {
		return nil, fmt.Errorf("%w: zip join keys %s vs %s", ErrTypeMismatch,
			rvd.Typ.KType().String(), other.Typ.KType().String())
	}
	var fields []types.Field
	for _, name := range rvd.Typ.Key {
		f := rvd.Typ.RowType.Fields[rvd.Typ.RowType.FieldIdx(name)]
		fields = append(fields, types.Field{Name: f.Name, Typ: f.Typ.SetRequired(false)})
	}
	fields = append(fields,
		types.Field{Name: leftField, Typ: types.Type(rvd.Typ.RowType).SetRequired(false)},
		types.Field{Name: rightField, Typ: types.Type(other.Typ.RowType).SetRequired(false)},
	)
	newTyp, err := NewOrderedRVDType(types.TStructOf(fields...), rvd.Typ.Key, rvd.Typ.PartitionKey)
	if err != nil {
		return nil, err
	}
	right := other
	if !rvd.Partitioner.Same(other.Partitioner) {
		right, err = other.ConstrainToOrderedPartitioner(rvd.Partitioner)
		if err != nil {
			return nil, err
		}
	}
	lTyp, rTyp := rvd.Typ, other.Typ
	cmp := crossKeyOrd(lTyp, rTyp, len(lTyp.Key))
	zipped := rvd.RDD.ZipPartitions(right.RDD, func(pc *exec.PartitionContext, a, b exec.RVIter) exec.RVIter {
		pa, pb := newPeekIter(a), newPeekIter(b)
		build := func(l, r *region.RegionValue) region.RegionValue {
			bld := types.NewBuilder(pc.Region)
			bld.Start(newTyp.RowType)
			bld.StartStruct(true)
			if l != nil {
				copyFields(bld, lTyp.RowType, *l, lTyp.kIdx)
			} else {
				copyFields(bld, rTyp.RowType, *r, rTyp.kIdx)
			}
			if l != nil {
				bld.AddRegionValue(lTyp.RowType, l.Region, l.Offset)
			} else {
				bld.SetMissing()
			}
			if r != nil {
				bld.AddRegionValue(rTyp.RowType, r.Region, r.Offset)
			} else {
				bld.SetMissing()
			}
			bld.EndStruct()
			return region.Value(pc.Region, bld.End())
		}
		return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
			lv, lok := pa.peek()
			rv, rok := pb.peek()
			if pa.err != nil {
				return region.RegionValue{}, false, pa.err
			}
			if pb.err != nil {
				return region.RegionValue{}, false, pb.err
			}
			switch {
			case !lok && !rok:
				return region.RegionValue{}, false, nil
			case lok && (!rok || cmp(lv, rv) < 0):
				pa.pop()
				return build(&lv, nil), true, nil
			case rok && (!lok || cmp(lv, rv) > 0):
				pb.pop()
				return build(nil, &rv), true, nil
			default:
				pa.pop()
				pb.pop()
				return build(&lv, &rv), true, nil
			}
		}, func() {
			a.Close()
			b.Close()
		})
	})
	return &OrderedRVD{Typ: newTyp, Partitioner: rvd.Partitioner, RDD: zipped}, nil
}
