package types

import (
	"bytes"

	"github.com/danthegoodman1/strata/region"
)

type (
	// UnsafeOrdering compares two region values of a shared type without
	// materializing annotations.
	UnsafeOrdering func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int
)

// UnsafeOrd builds the unsafe ordering for t. Offsets passed to the ordering
// are value offsets: already dereferenced for pointer types.
func UnsafeOrd(t Type, missingGreatest bool) UnsafeOrdering {
	switch typ := t.(type) {
	case TBoolean:
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			return compareBool(r1.LoadBool(o1), r2.LoadBool(o2))
		}
	case TInt32, TCall:
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			return compareInt64(int64(r1.LoadInt32(o1)), int64(r2.LoadInt32(o2)))
		}
	case TInt64:
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			return compareInt64(r1.LoadInt64(o1), r2.LoadInt64(o2))
		}
	case TFloat32:
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			return compareFloat64(float64(r1.LoadFloat32(o1)), float64(r2.LoadFloat32(o2)))
		}
	case TFloat64:
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			return compareFloat64(r1.LoadFloat64(o1), r2.LoadFloat64(o2))
		}
	case TString, TBinary:
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			n1 := loadBinaryLength(r1, o1)
			n2 := loadBinaryLength(r2, o2)
			return bytes.Compare(r1.LoadBytes(o1+4, int64(n1)), r2.LoadBytes(o2+4, int64(n2)))
		}
	case *TLocus:
		rep := typ.Rep()
		return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
			c1 := LoadString(r1, rep.LoadField(r1, o1, 0))
			c2 := LoadString(r2, rep.LoadField(r2, o2, 0))
			if c := CompareContigs(c1, c2); c != 0 {
				return c
			}
			return compareInt64(
				int64(r1.LoadInt32(rep.LoadField(r1, o1, 1))),
				int64(r2.LoadInt32(rep.LoadField(r2, o2, 1))))
		}
	case *TArray:
		return arrayUnsafeOrd(typ, missingGreatest)
	case *TSet:
		return arrayUnsafeOrd(&TArray{Elem: typ.Elem}, missingGreatest)
	case *TDict:
		return UnsafeOrd(typ.Fundamental(), missingGreatest)
	case *TStruct:
		return StructFieldsOrd(typ, allFieldIndices(typ), missingGreatest)
	case *TTuple:
		rep := typ.Rep()
		return StructFieldsOrd(rep, allFieldIndices(rep), missingGreatest)
	case *TInterval:
		return intervalUnsafeOrd(typ, missingGreatest)
	}
	panic("unknown type in UnsafeOrd: " + t.String())
}

func allFieldIndices(t *TStruct) []int {
	idx := make([]int, len(t.Fields))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// StructFieldsOrd compares two struct values lexicographically over the
// given field indices, honoring field missingness.
func StructFieldsOrd(t *TStruct, fieldIdx []int, missingGreatest bool) UnsafeOrdering {
	ords := make([]UnsafeOrdering, len(fieldIdx))
	for i, fi := range fieldIdx {
		ords[i] = UnsafeOrd(t.Fields[fi].Typ, missingGreatest)
	}
	return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
		for i, fi := range fieldIdx {
			d1 := t.IsFieldDefined(r1, o1, fi)
			d2 := t.IsFieldDefined(r2, o2, fi)
			if !d1 || !d2 {
				if d1 == d2 {
					continue
				}
				if c := missingCompare(d1, missingGreatest); c != 0 {
					return c
				}
				continue
			}
			if c := ords[i](r1, t.LoadField(r1, o1, fi), r2, t.LoadField(r2, o2, fi)); c != 0 {
				return c
			}
		}
		return 0
	}
}

func missingCompare(firstDefined, missingGreatest bool) int {
	// exactly one side is missing here
	if firstDefined {
		if missingGreatest {
			return -1
		}
		return 1
	}
	if missingGreatest {
		return 1
	}
	return -1
}

func arrayUnsafeOrd(t *TArray, missingGreatest bool) UnsafeOrdering {
	elemOrd := UnsafeOrd(t.Elem, missingGreatest)
	return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
		n1 := t.LoadLength(r1, o1)
		n2 := t.LoadLength(r2, o2)
		n := n1
		if n2 < n {
			n = n2
		}
		for i := int32(0); i < n; i++ {
			d1 := t.IsElementDefined(r1, o1, i)
			d2 := t.IsElementDefined(r2, o2, i)
			if !d1 || !d2 {
				if d1 == d2 {
					continue
				}
				return missingCompare(d1, missingGreatest)
			}
			if c := elemOrd(r1, t.LoadElement(r1, o1, n1, i), r2, t.LoadElement(r2, o2, n2, i)); c != 0 {
				return c
			}
		}
		return compareInt64(int64(n1), int64(n2))
	}
}

// intervalUnsafeOrd orders by (start, ¬includesStart, end, includesEnd)
func intervalUnsafeOrd(t *TInterval, missingGreatest bool) UnsafeOrdering {
	rep := t.Rep()
	pointOrd := UnsafeOrd(t.Point, missingGreatest)
	endpoint := func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64, fi int) int {
		d1 := rep.IsFieldDefined(r1, o1, fi)
		d2 := rep.IsFieldDefined(r2, o2, fi)
		if !d1 || !d2 {
			if d1 == d2 {
				return 0
			}
			return missingCompare(d1, missingGreatest)
		}
		return pointOrd(r1, rep.LoadField(r1, o1, fi), r2, rep.LoadField(r2, o2, fi))
	}
	return func(r1 *region.Region, o1 int64, r2 *region.Region, o2 int64) int {
		if c := endpoint(r1, o1, r2, o2, IntervalStartFieldIdx); c != 0 {
			return c
		}
		is1 := r1.LoadBool(rep.LoadField(r1, o1, 2))
		is2 := r2.LoadBool(rep.LoadField(r2, o2, 2))
		if c := compareBool(!is1, !is2); c != 0 {
			return c
		}
		if c := endpoint(r1, o1, r2, o2, IntervalEndFieldIdx); c != 0 {
			return c
		}
		ie1 := r1.LoadBool(rep.LoadField(r1, o1, 3))
		ie2 := r2.LoadBool(rep.LoadField(r2, o2, 3))
		return compareBool(ie1, ie2)
	}
}
