package types

import (
	"github.com/danthegoodman1/strata/region"
)

// Load materializes the annotation of type t at a value offset. The value
// must be defined; callers test missingness at the enclosing field or
// element first.
func Load(t Type, r *region.Region, off int64) Annotation {
	switch typ := t.(type) {
	case TBoolean:
		return r.LoadBool(off)
	case TInt32:
		return r.LoadInt32(off)
	case TInt64:
		return r.LoadInt64(off)
	case TFloat32:
		return r.LoadFloat32(off)
	case TFloat64:
		return r.LoadFloat64(off)
	case TString:
		return LoadString(r, off)
	case TBinary:
		return LoadBinary(r, off)
	case TCall:
		return Call(r.LoadInt32(off))
	case *TLocus:
		rep := typ.Rep()
		return Locus{
			Contig:   LoadString(r, rep.LoadField(r, off, 0)),
			Position: r.LoadInt32(rep.LoadField(r, off, 1)),
		}
	case *TArray:
		return loadArray(typ, r, off)
	case *TSet:
		return loadArray(&TArray{Elem: typ.Elem}, r, off)
	case *TDict:
		entryT := TStructOf(Field{"key", typ.Key}, Field{"value", typ.Value})
		arr := loadArray(&TArray{Elem: entryT}, r, off)
		entries := make([]DictEntry, len(arr))
		for i, e := range arr {
			row := e.(Row)
			entries[i] = DictEntry{Key: row[0], Value: row[1]}
		}
		return entries
	case *TStruct:
		return loadStruct(typ, r, off)
	case *TTuple:
		return loadStruct(typ.Rep(), r, off)
	case *TInterval:
		rep := typ.Rep()
		iv := &IntervalValue{
			IncludesStart: r.LoadBool(rep.LoadField(r, off, 2)),
			IncludesEnd:   r.LoadBool(rep.LoadField(r, off, 3)),
		}
		if rep.IsFieldDefined(r, off, IntervalStartFieldIdx) {
			iv.Start = Load(typ.Point, r, rep.LoadField(r, off, IntervalStartFieldIdx))
		}
		if rep.IsFieldDefined(r, off, IntervalEndFieldIdx) {
			iv.End = Load(typ.Point, r, rep.LoadField(r, off, IntervalEndFieldIdx))
		}
		return iv
	}
	panic("unknown type in Load: " + t.String())
}

func loadArray(t *TArray, r *region.Region, aoff int64) []Annotation {
	n := t.LoadLength(r, aoff)
	out := make([]Annotation, n)
	for i := int32(0); i < n; i++ {
		if t.IsElementDefined(r, aoff, i) {
			out[i] = Load(t.Elem, r, t.LoadElement(r, aoff, n, i))
		}
	}
	return out
}

func loadStruct(t *TStruct, r *region.Region, off int64) Row {
	row := make(Row, len(t.Fields))
	for i, f := range t.Fields {
		if t.IsFieldDefined(r, off, i) {
			row[i] = Load(f.Typ, r, t.LoadField(r, off, i))
		}
	}
	return row
}
