package types

import (
	"bytes"
	"strconv"
	"strings"
)

// Compare is the extended ordering over annotations of type t: missing (nil)
// sorts greatest or least as configured, intervals order by (start,
// ¬includesStart, end, includesEnd), structs and tuples lexicographically
// over their fields.
func Compare(t Type, a, b Annotation, missingGreatest bool) int {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0
		}
		if a == nil {
			if missingGreatest {
				return 1
			}
			return -1
		}
		if missingGreatest {
			return -1
		}
		return 1
	}
	switch typ := t.(type) {
	case TBoolean:
		return compareBool(a.(bool), b.(bool))
	case TInt32:
		return compareInt64(int64(a.(int32)), int64(b.(int32)))
	case TInt64:
		return compareInt64(a.(int64), b.(int64))
	case TFloat32:
		return compareFloat64(float64(a.(float32)), float64(b.(float32)))
	case TFloat64:
		return compareFloat64(a.(float64), b.(float64))
	case TString:
		return strings.Compare(a.(string), b.(string))
	case TBinary:
		return bytes.Compare(a.([]byte), b.([]byte))
	case TCall:
		return compareInt64(int64(a.(Call)), int64(b.(Call)))
	case *TLocus:
		la, lb := a.(Locus), b.(Locus)
		if c := CompareContigs(la.Contig, lb.Contig); c != 0 {
			return c
		}
		return compareInt64(int64(la.Position), int64(lb.Position))
	case *TArray:
		return compareArrays(typ.Elem, a.([]Annotation), b.([]Annotation), missingGreatest)
	case *TSet:
		return compareArrays(typ.Elem, a.([]Annotation), b.([]Annotation), missingGreatest)
	case *TDict:
		ea, eb := a.([]DictEntry), b.([]DictEntry)
		n := len(ea)
		if len(eb) < n {
			n = len(eb)
		}
		for i := 0; i < n; i++ {
			if c := Compare(typ.Key, ea[i].Key, eb[i].Key, missingGreatest); c != 0 {
				return c
			}
			if c := Compare(typ.Value, ea[i].Value, eb[i].Value, missingGreatest); c != 0 {
				return c
			}
		}
		return compareInt64(int64(len(ea)), int64(len(eb)))
	case *TStruct:
		ra, rb := a.(Row), b.(Row)
		for i, f := range typ.Fields {
			if c := Compare(f.Typ, ra[i], rb[i], missingGreatest); c != 0 {
				return c
			}
		}
		return 0
	case *TTuple:
		ra, rb := a.(Row), b.(Row)
		for i, et := range typ.Types {
			if c := Compare(et, ra[i], rb[i], missingGreatest); c != 0 {
				return c
			}
		}
		return 0
	case *TInterval:
		ia, ib := a.(*IntervalValue), b.(*IntervalValue)
		if c := Compare(typ.Point, ia.Start, ib.Start, missingGreatest); c != 0 {
			return c
		}
		if c := compareBool(!ia.IncludesStart, !ib.IncludesStart); c != 0 {
			return c
		}
		if c := Compare(typ.Point, ia.End, ib.End, missingGreatest); c != 0 {
			return c
		}
		return compareBool(ia.IncludesEnd, ib.IncludesEnd)
	}
	panic("unknown type in Compare: " + t.String())
}

func compareArrays(elem Type, a, b []Annotation, missingGreatest bool) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(elem, a[i], b[i], missingGreatest); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(a)), int64(len(b)))
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if b {
		return -1
	}
	return 1
}

func compareInt64(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CompareContigs orders numeric contigs numerically before non-numeric ones,
// which themselves order lexically ("1" < "2" < "10" < "X" < "Y")
func CompareContigs(a, b string) int {
	na, aNum := strconv.Atoi(a)
	nb, bNum := strconv.Atoi(b)
	if aNum == nil && bNum == nil {
		return compareInt64(int64(na), int64(nb))
	}
	if aNum == nil {
		return -1
	}
	if bNum == nil {
		return 1
	}
	return strings.Compare(a, b)
}

// RowCompare compares two struct annotations over the leading prefix fields
// of t, used for key prefix comparisons.
func RowCompare(t *TStruct, a, b Row, nFields int, missingGreatest bool) int {
	for i := 0; i < nFields; i++ {
		if c := Compare(t.Fields[i].Typ, a[i], b[i], missingGreatest); c != 0 {
			return c
		}
	}
	return 0
}
