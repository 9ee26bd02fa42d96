package types

import (
	"fmt"
	"sort"

	"github.com/danthegoodman1/strata/region"
)

type (
	// RegionValueBuilder materializes a value of a target type into a
	// region, producing a layout that exactly matches the type. Misuse
	// (adding past the end of a struct, marking a required slot missing)
	// panics: those are programming errors, not data errors.
	RegionValueBuilder struct {
		r    *region.Region
		root Type

		start int64

		typestk []builderFrame
	}

	builderFrame struct {
		structT  *TStruct
		arrayT   *TArray
		off      int64
		elemsOff int64
		length   int32
		idx      int
	}
)

func NewBuilder(r *region.Region) *RegionValueBuilder {
	return &RegionValueBuilder{r: r, start: -1}
}

func (b *RegionValueBuilder) Region() *region.Region { return b.r }

// Start begins a new value of type t. Writing to a cleared region starts at
// offset 0.
func (b *RegionValueBuilder) Start(t Type) {
	b.root = t
	b.typestk = b.typestk[:0]
	b.start = -1
	f := t.Fundamental()
	if !IsPointer(f) {
		b.start = b.r.Allocate(f.Alignment(), f.ByteSize())
	}
}

func (b *RegionValueBuilder) currentType() Type {
	if len(b.typestk) == 0 {
		return b.root
	}
	top := &b.typestk[len(b.typestk)-1]
	if top.structT != nil {
		return top.structT.Fields[top.idx].Typ
	}
	return top.arrayT.Elem
}

// slotAddr is the address the current value is stored at (the pointer slot
// for pointer types)
func (b *RegionValueBuilder) slotAddr() int64 {
	if len(b.typestk) == 0 {
		return b.start
	}
	top := &b.typestk[len(b.typestk)-1]
	if top.structT != nil {
		return top.structT.FieldAddress(top.off, top.idx)
	}
	return top.elemsOff + int64(top.idx)*top.arrayT.elemStride()
}

// Advance moves to the next field or element without writing, the slot keeps
// its zeroed contents.
func (b *RegionValueBuilder) Advance() {
	if len(b.typestk) > 0 {
		b.typestk[len(b.typestk)-1].idx++
	}
}

func (b *RegionValueBuilder) setPointer(off int64) {
	if len(b.typestk) == 0 {
		b.start = off
		return
	}
	b.r.StoreInt64(b.slotAddr(), off)
}

func structRep(t Type) *TStruct {
	switch typ := t.(type) {
	case *TStruct:
		return typ
	case *TTuple:
		return typ.Rep()
	case *TInterval:
		return typ.Rep()
	case *TLocus:
		return typ.Rep()
	}
	panic(fmt.Sprintf("builder: not a struct-representable type: %s", t.String()))
}

func (b *RegionValueBuilder) StartStruct(init bool) {
	st := structRep(b.currentType())
	off := b.slotAddr()
	b.typestk = append(b.typestk, builderFrame{structT: st, off: off})
	if init {
		st.InitMissingBits(b.r, off)
	}
}

func (b *RegionValueBuilder) EndStruct() {
	top := &b.typestk[len(b.typestk)-1]
	if top.structT == nil {
		panic("builder: EndStruct outside struct")
	}
	if top.idx != len(top.structT.Fields) {
		panic(fmt.Sprintf("builder: EndStruct at field %d of %d", top.idx, len(top.structT.Fields)))
	}
	b.typestk = b.typestk[:len(b.typestk)-1]
	b.Advance()
}

func (b *RegionValueBuilder) StartArray(length int32, init bool) {
	at := ArrayRep(b.currentType())
	if at == nil {
		panic(fmt.Sprintf("builder: StartArray on %s", b.currentType().String()))
	}
	aoff := b.r.Allocate(at.ContentsAlignment(), at.ContentsByteSize(length))
	b.r.StoreInt32(aoff, length)
	if init {
		at.InitMissingBits(b.r, aoff, length)
	}
	b.setPointer(aoff)
	b.typestk = append(b.typestk, builderFrame{
		arrayT:   at,
		off:      aoff,
		elemsOff: aoff + at.ElementsOffset(length),
		length:   length,
	})
}

func (b *RegionValueBuilder) EndArray() {
	top := &b.typestk[len(b.typestk)-1]
	if top.arrayT == nil {
		panic("builder: EndArray outside array")
	}
	if int32(top.idx) != top.length {
		panic(fmt.Sprintf("builder: EndArray at element %d of %d", top.idx, top.length))
	}
	b.typestk = b.typestk[:len(b.typestk)-1]
	b.Advance()
}

// SetMissing marks the current slot missing and advances
func (b *RegionValueBuilder) SetMissing() {
	if len(b.typestk) == 0 {
		panic("builder: cannot write a missing value at the root")
	}
	top := &b.typestk[len(b.typestk)-1]
	if top.structT != nil {
		if top.structT.Fields[top.idx].Typ.Required() {
			panic(fmt.Sprintf("builder: field %s is required", top.structT.Fields[top.idx].Name))
		}
		top.structT.SetFieldMissing(b.r, top.off, top.idx)
	} else {
		if top.arrayT.Elem.Required() {
			panic("builder: array element is required")
		}
		top.arrayT.SetElementMissing(b.r, top.off, int32(top.idx))
	}
	b.Advance()
}

func (b *RegionValueBuilder) AddBoolean(v bool) {
	b.r.StoreBool(b.slotAddr(), v)
	b.Advance()
}

func (b *RegionValueBuilder) AddInt32(v int32) {
	b.r.StoreInt32(b.slotAddr(), v)
	b.Advance()
}

func (b *RegionValueBuilder) AddInt64(v int64) {
	b.r.StoreInt64(b.slotAddr(), v)
	b.Advance()
}

func (b *RegionValueBuilder) AddFloat32(v float32) {
	b.r.StoreFloat32(b.slotAddr(), v)
	b.Advance()
}

func (b *RegionValueBuilder) AddFloat64(v float64) {
	b.r.StoreFloat64(b.slotAddr(), v)
	b.Advance()
}

func (b *RegionValueBuilder) AddBinary(v []byte) {
	boff := b.r.Allocate(4, 4+int64(len(v)))
	b.r.StoreInt32(boff, int32(len(v)))
	b.r.StoreBytes(boff+4, v)
	b.setPointer(boff)
	b.Advance()
}

func (b *RegionValueBuilder) AddString(v string) {
	b.AddBinary([]byte(v))
}

// AddAnnotation is the unchecked generic write path for arbitrary logical
// types, used by import/export. Hot paths use the typed adders.
func (b *RegionValueBuilder) AddAnnotation(t Type, a Annotation) {
	if a == nil {
		b.SetMissing()
		return
	}
	switch typ := t.(type) {
	case TBoolean:
		b.AddBoolean(a.(bool))
	case TInt32:
		b.AddInt32(a.(int32))
	case TInt64:
		b.AddInt64(a.(int64))
	case TFloat32:
		b.AddFloat32(a.(float32))
	case TFloat64:
		b.AddFloat64(a.(float64))
	case TString:
		b.AddString(a.(string))
	case TBinary:
		b.AddBinary(a.([]byte))
	case TCall:
		b.AddInt32(int32(a.(Call)))
	case *TLocus:
		l := a.(Locus)
		b.StartStruct(true)
		b.AddString(l.Contig)
		b.AddInt32(l.Position)
		b.EndStruct()
	case *TStruct:
		row := a.(Row)
		b.StartStruct(true)
		for i, f := range typ.Fields {
			b.AddAnnotation(f.Typ, row[i])
		}
		b.EndStruct()
	case *TTuple:
		row := a.(Row)
		b.StartStruct(true)
		for i, et := range typ.Types {
			b.AddAnnotation(et, row[i])
		}
		b.EndStruct()
	case *TInterval:
		iv := a.(*IntervalValue)
		b.StartStruct(true)
		b.AddAnnotation(typ.Point, iv.Start)
		b.AddAnnotation(typ.Point, iv.End)
		b.AddBoolean(iv.IncludesStart)
		b.AddBoolean(iv.IncludesEnd)
		b.EndStruct()
	case *TArray:
		elems := a.([]Annotation)
		b.StartArray(int32(len(elems)), true)
		for _, e := range elems {
			b.AddAnnotation(typ.Elem, e)
		}
		b.EndArray()
	case *TSet:
		elems := append([]Annotation(nil), a.([]Annotation)...)
		sort.SliceStable(elems, func(i, j int) bool {
			return Compare(typ.Elem, elems[i], elems[j], true) < 0
		})
		b.StartArray(int32(len(elems)), true)
		for _, e := range elems {
			b.AddAnnotation(typ.Elem, e)
		}
		b.EndArray()
	case *TDict:
		entries := append([]DictEntry(nil), a.([]DictEntry)...)
		sort.SliceStable(entries, func(i, j int) bool {
			return Compare(typ.Key, entries[i].Key, entries[j].Key, true) < 0
		})
		entryT := TStructOf(Field{"key", typ.Key}, Field{"value", typ.Value})
		b.StartArray(int32(len(entries)), true)
		for _, e := range entries {
			b.AddAnnotation(entryT, Row{e.Key, e.Value})
		}
		b.EndArray()
	default:
		panic("builder: unknown type in AddAnnotation: " + t.String())
	}
}

// AddRegionValue deep-copies a value of type srcT from another region into
// the current slot.
func (b *RegionValueBuilder) AddRegionValue(srcT Type, srcR *region.Region, srcOff int64) {
	switch typ := srcT.(type) {
	case TBoolean:
		b.AddBoolean(srcR.LoadBool(srcOff))
	case TInt32:
		b.AddInt32(srcR.LoadInt32(srcOff))
	case TInt64:
		b.AddInt64(srcR.LoadInt64(srcOff))
	case TFloat32:
		b.AddFloat32(srcR.LoadFloat32(srcOff))
	case TFloat64:
		b.AddFloat64(srcR.LoadFloat64(srcOff))
	case TString, TBinary:
		n := loadBinaryLength(srcR, srcOff)
		b.AddBinary(srcR.LoadBytes(srcOff+4, int64(n)))
	case TCall:
		b.AddInt32(srcR.LoadInt32(srcOff))
	case *TLocus, *TStruct, *TTuple, *TInterval:
		st := structRep(typ)
		b.StartStruct(true)
		for i, f := range st.Fields {
			if st.IsFieldDefined(srcR, srcOff, i) {
				b.AddRegionValue(f.Typ, srcR, st.LoadField(srcR, srcOff, i))
			} else {
				b.SetMissing()
			}
		}
		b.EndStruct()
	case *TArray, *TSet, *TDict:
		at := ArrayRep(typ)
		n := at.LoadLength(srcR, srcOff)
		b.StartArray(n, true)
		for i := int32(0); i < n; i++ {
			if at.IsElementDefined(srcR, srcOff, i) {
				b.AddRegionValue(at.Elem, srcR, at.LoadElement(srcR, srcOff, n, i))
			} else {
				b.SetMissing()
			}
		}
		b.EndArray()
	default:
		panic("builder: unknown type in AddRegionValue: " + srcT.String())
	}
}

// End finishes the value and returns its offset
func (b *RegionValueBuilder) End() int64 {
	if len(b.typestk) != 0 {
		panic("builder: End with unclosed containers")
	}
	if b.start < 0 {
		panic("builder: End before any value was added")
	}
	return b.start
}

// Write materializes annotation a of type t into r and returns its offset
func Write(r *region.Region, t Type, a Annotation) int64 {
	b := NewBuilder(r)
	b.Start(t)
	b.AddAnnotation(t, a)
	return b.End()
}

// WriteValue deep-copies a region value of type t into r and returns the new
// offset, used when rows must outlive their source region's next Clear.
func WriteValue(r *region.Region, t Type, srcR *region.Region, srcOff int64) int64 {
	b := NewBuilder(r)
	b.Start(t)
	b.AddRegionValue(t, srcR, srcOff)
	return b.End()
}

type (
	// WritableRegionValue owns a region for materializing a selection, e.g.
	// projecting key fields out of a row.
	WritableRegionValue struct {
		T      Type
		Offset int64

		r *region.Region
	}
)

func NewWritableRegionValue(t Type) *WritableRegionValue {
	return &WritableRegionValue{T: t, r: region.New(), Offset: -1}
}

func (w *WritableRegionValue) Region() *region.Region { return w.r }

func (w *WritableRegionValue) Value() region.RegionValue {
	return region.Value(w.r, w.Offset)
}

// Set replaces the held value with a deep copy of (srcR, srcOff)
func (w *WritableRegionValue) Set(srcR *region.Region, srcOff int64) {
	w.r.Clear()
	w.Offset = WriteValue(w.r, w.T, srcR, srcOff)
}

// SetSelect projects the given fields of a struct value into this value,
// whose type must be the corresponding selection struct.
func (w *WritableRegionValue) SetSelect(srcT *TStruct, fieldIdx []int, srcR *region.Region, srcOff int64) {
	w.r.Clear()
	dstT := w.T.(*TStruct)
	b := NewBuilder(w.r)
	b.Start(dstT)
	b.StartStruct(true)
	for j, fi := range fieldIdx {
		if srcT.IsFieldDefined(srcR, srcOff, fi) {
			b.AddRegionValue(dstT.Fields[j].Typ, srcR, srcT.LoadField(srcR, srcOff, fi))
		} else {
			b.SetMissing()
		}
	}
	b.EndStruct()
	w.Offset = b.End()
}
