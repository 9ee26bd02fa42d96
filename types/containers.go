package types

import (
	"github.com/danthegoodman1/strata/region"
)

type (
	// TArray lays out as: 4-byte length, missing bits (absent for required
	// elements), then elements aligned at their stride.
	TArray struct {
		Elem Type
		Req  bool
	}

	// TSet's fundamental representation is a sorted TArray of its element
	TSet struct {
		Elem Type
		Req  bool
	}

	// TDict's fundamental representation is a TArray of (key, value) structs
	// sorted by key
	TDict struct {
		Key   Type
		Value Type
		Req   bool
	}
)

func (t *TArray) Required() bool            { return t.Req }
func (t *TArray) SetRequired(req bool) Type { return &TArray{Elem: t.Elem, Req: req} }
func (t *TArray) ByteSize() int64           { return 8 }
func (t *TArray) Alignment() int64          { return 8 }
func (t *TArray) Fundamental() Type {
	ef := t.Elem.Fundamental()
	if ef == t.Elem {
		return t
	}
	return &TArray{Elem: ef, Req: t.Req}
}
func (t *TArray) String() string { return reqPrefix(t.Req) + "Array[" + t.Elem.String() + "]" }

func (t *TSet) Required() bool            { return t.Req }
func (t *TSet) SetRequired(req bool) Type { return &TSet{Elem: t.Elem, Req: req} }
func (t *TSet) ByteSize() int64           { return 8 }
func (t *TSet) Alignment() int64          { return 8 }
func (t *TSet) Fundamental() Type {
	return (&TArray{Elem: t.Elem, Req: t.Req}).Fundamental()
}
func (t *TSet) String() string { return reqPrefix(t.Req) + "Set[" + t.Elem.String() + "]" }

func (t *TDict) Required() bool            { return t.Req }
func (t *TDict) SetRequired(req bool) Type { return &TDict{Key: t.Key, Value: t.Value, Req: req} }
func (t *TDict) ByteSize() int64           { return 8 }
func (t *TDict) Alignment() int64          { return 8 }
func (t *TDict) Fundamental() Type {
	entry := TStructOf(Field{"key", t.Key}, Field{"value", t.Value})
	return (&TArray{Elem: entry, Req: t.Req}).Fundamental()
}
func (t *TDict) String() string {
	return reqPrefix(t.Req) + "Dict[" + t.Key.String() + "," + t.Value.String() + "]"
}

// elemStride is the per-element byte stride, the element size rounded up to
// its alignment
func (t *TArray) elemStride() int64 {
	return alignUp(t.Elem.ByteSize(), t.Elem.Alignment())
}

func (t *TArray) elemsRequired() bool {
	return t.Elem.Required()
}

func (t *TArray) nMissingBytes(n int32) int64 {
	if t.elemsRequired() {
		return 0
	}
	return (int64(n) + 7) / 8
}

// ElementsOffset is the offset of element storage relative to the array
// offset for an array of length n
func (t *TArray) ElementsOffset(n int32) int64 {
	return alignUp(4+t.nMissingBytes(n), t.Elem.Alignment())
}

// ContentsByteSize is the total byte size of an array of length n
func (t *TArray) ContentsByteSize(n int32) int64 {
	return t.ElementsOffset(n) + int64(n)*t.elemStride()
}

func (t *TArray) ContentsAlignment() int64 {
	a := t.Elem.Alignment()
	if a < 4 {
		a = 4
	}
	return a
}

func (t *TArray) LoadLength(r *region.Region, aoff int64) int32 {
	return r.LoadInt32(aoff)
}

func (t *TArray) IsElementDefined(r *region.Region, aoff int64, i int32) bool {
	if t.elemsRequired() {
		return true
	}
	return !r.LoadBit(aoff+4, int64(i))
}

func (t *TArray) IsElementMissing(r *region.Region, aoff int64, i int32) bool {
	return !t.IsElementDefined(r, aoff, i)
}

func (t *TArray) SetElementMissing(r *region.Region, aoff int64, i int32) {
	r.SetBit(aoff+4, int64(i))
}

// ElementOffset is the address of element i's slot within an array of length
// n at aoff
func (t *TArray) ElementOffset(aoff int64, n, i int32) int64 {
	return aoff + t.ElementsOffset(n) + int64(i)*t.elemStride()
}

// LoadElement returns the offset of element i's value, dereferencing the
// stored offset for pointer-typed elements. The element must be defined.
func (t *TArray) LoadElement(r *region.Region, aoff int64, n, i int32) int64 {
	slot := t.ElementOffset(aoff, n, i)
	if IsPointer(t.Elem) {
		return r.LoadInt64(slot)
	}
	return slot
}

// InitMissingBits zeroes the missing-bit block of an array of length n
func (t *TArray) InitMissingBits(r *region.Region, aoff int64, n int32) {
	nb := t.nMissingBytes(n)
	for i := int64(0); i < nb; i++ {
		r.StoreByte(aoff+4+i, 0)
	}
}

// ArrayRep returns the fundamental array representation of an array-backed
// container type, or nil if t is not one.
func ArrayRep(t Type) *TArray {
	arr, _ := t.Fundamental().(*TArray)
	return arr
}

func loadBinaryLength(r *region.Region, boff int64) int32 {
	return r.LoadInt32(boff)
}

// LoadString reads a TString/TBinary value at boff
func LoadString(r *region.Region, boff int64) string {
	n := loadBinaryLength(r, boff)
	return string(r.LoadBytes(boff+4, int64(n)))
}

func LoadBinary(r *region.Region, boff int64) []byte {
	n := loadBinaryLength(r, boff)
	b := make([]byte, n)
	copy(b, r.LoadBytes(boff+4, int64(n)))
	return b
}
