package types

import (
	"github.com/danthegoodman1/strata/region"
)

type (
	// TStruct lays out as a header of missing bits (one per non-required
	// field, absent when all fields are required) followed by the fields at
	// fixed offsets honoring alignment.
	TStruct struct {
		Fields []Field
		Req    bool

		byteOffsets []int64
		missingIdx  []int64 // -1 for required fields
		nMissing    int64
		size        int64
		alignment   int64
	}

	// TTuple is a positional struct
	TTuple struct {
		Types []Type
		Req   bool

		rep *TStruct
	}
)

func TStructOf(fields ...Field) *TStruct {
	t := &TStruct{Fields: fields}
	t.computeLayout()
	return t
}

func TStructRequired(fields ...Field) *TStruct {
	t := &TStruct{Fields: fields, Req: true}
	t.computeLayout()
	return t
}

func (t *TStruct) computeLayout() {
	n := len(t.Fields)
	t.byteOffsets = make([]int64, n)
	t.missingIdx = make([]int64, n)
	t.nMissing = 0
	for i, f := range t.Fields {
		if f.Typ.Required() {
			t.missingIdx[i] = -1
		} else {
			t.missingIdx[i] = t.nMissing
			t.nMissing++
		}
	}
	off := (t.nMissing + 7) / 8
	t.alignment = 1
	for i, f := range t.Fields {
		a := f.Typ.Alignment()
		if a > t.alignment {
			t.alignment = a
		}
		off = alignUp(off, a)
		t.byteOffsets[i] = off
		off += f.Typ.ByteSize()
	}
	t.size = alignUp(off, t.alignment)
	if t.size == 0 {
		t.size = 1
	}
}

func (t *TStruct) Required() bool { return t.Req }
func (t *TStruct) SetRequired(req bool) Type {
	c := TStructOf(t.Fields...)
	c.Req = req
	return c
}
func (t *TStruct) ByteSize() int64  { return t.size }
func (t *TStruct) Alignment() int64 { return t.alignment }
func (t *TStruct) Fundamental() Type {
	changed := false
	fields := make([]Field, len(t.Fields))
	for i, f := range t.Fields {
		ft := f.Typ.Fundamental()
		if ft != f.Typ {
			changed = true
		}
		fields[i] = Field{Name: f.Name, Typ: ft}
	}
	if !changed {
		return t
	}
	c := TStructOf(fields...)
	c.Req = t.Req
	return c
}
func (t *TStruct) String() string {
	return reqPrefix(t.Req) + "Struct{" + prettyFields(t.Fields) + "}"
}

func (t *TStruct) NumFields() int { return len(t.Fields) }

// FieldIdx returns the index of the named field, or -1
func (t *TStruct) FieldIdx(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldOffset is field i's offset relative to the struct offset
func (t *TStruct) FieldOffset(i int) int64 {
	return t.byteOffsets[i]
}

// FieldAddress is the absolute address of field i's slot
func (t *TStruct) FieldAddress(structOff int64, i int) int64 {
	return structOff + t.byteOffsets[i]
}

// LoadField returns the offset of field i's value, dereferencing the stored
// offset for pointer-typed fields. The field must be defined.
func (t *TStruct) LoadField(r *region.Region, structOff int64, i int) int64 {
	a := t.FieldAddress(structOff, i)
	if IsPointer(t.Fields[i].Typ) {
		return r.LoadInt64(a)
	}
	return a
}

func (t *TStruct) IsFieldDefined(r *region.Region, structOff int64, i int) bool {
	mi := t.missingIdx[i]
	if mi < 0 {
		return true
	}
	return !r.LoadBit(structOff, mi)
}

func (t *TStruct) IsFieldMissing(r *region.Region, structOff int64, i int) bool {
	return !t.IsFieldDefined(r, structOff, i)
}

func (t *TStruct) SetFieldMissing(r *region.Region, structOff int64, i int) {
	r.SetBit(structOff, t.missingIdx[i])
}

func (t *TStruct) nMissingBytes() int64 {
	return (t.nMissing + 7) / 8
}

// InitMissingBits zeroes the missing-bit header
func (t *TStruct) InitMissingBits(r *region.Region, structOff int64) {
	for i := int64(0); i < t.nMissingBytes(); i++ {
		r.StoreByte(structOff+i, 0)
	}
}

// SelectFields returns a new struct of the named fields in the given order
func (t *TStruct) SelectFields(names []string) *TStruct {
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = t.Fields[t.FieldIdx(name)]
	}
	s := TStructOf(fields...)
	s.Req = t.Req
	return s
}

// AppendFields returns a new struct with extra fields appended; an existing
// field of the same name is replaced in place instead.
func (t *TStruct) AppendFields(extra ...Field) *TStruct {
	fields := make([]Field, len(t.Fields), len(t.Fields)+len(extra))
	copy(fields, t.Fields)
	for _, e := range extra {
		replaced := false
		for i := range fields {
			if fields[i].Name == e.Name {
				fields[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			fields = append(fields, e)
		}
	}
	s := TStructOf(fields...)
	s.Req = t.Req
	return s
}

func TTupleOf(ts ...Type) *TTuple {
	return &TTuple{Types: ts, rep: tupleRep(ts)}
}

func tupleRep(ts []Type) *TStruct {
	fields := make([]Field, len(ts))
	for i, et := range ts {
		fields[i] = Field{Name: tupleFieldName(i), Typ: et}
	}
	return TStructOf(fields...)
}

func tupleFieldName(i int) string {
	// positional names keep the struct layout machinery shared
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	return tupleFieldName(i/10) + digits[i%10:i%10+1]
}

func (t *TTuple) Required() bool { return t.Req }
func (t *TTuple) SetRequired(req bool) Type {
	c := TTupleOf(t.Types...)
	c.Req = req
	return c
}
func (t *TTuple) ByteSize() int64  { return t.rep.ByteSize() }
func (t *TTuple) Alignment() int64 { return t.rep.Alignment() }
func (t *TTuple) Fundamental() Type {
	f := t.rep.Fundamental().(*TStruct)
	c := TStructOf(f.Fields...)
	c.Req = t.Req
	return c
}
func (t *TTuple) String() string {
	var s string
	for i, et := range t.Types {
		if i > 0 {
			s += ","
		}
		s += et.String()
	}
	return reqPrefix(t.Req) + "Tuple[" + s + "]"
}

// Rep is the struct layout backing the tuple
func (t *TTuple) Rep() *TStruct { return t.rep }
