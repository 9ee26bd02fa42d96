package types

import (
	"fmt"
	"strings"
)

type (
	// Annotation is the dynamic value carrier for a logical type:
	// TBoolean=bool, TInt32=int32, TInt64=int64, TFloat32=float32,
	// TFloat64=float64, TString=string, TArray/TSet=[]Annotation,
	// TDict=[]DictEntry, TStruct/TTuple=Row, TInterval=*IntervalValue,
	// TLocus=Locus, TCall=Call. Missing is nil.
	Annotation = interface{}

	// Row is the positional value of a struct or tuple
	Row []Annotation

	DictEntry struct {
		Key   Annotation
		Value Annotation
	}

	Locus struct {
		Contig   string
		Position int32
	}

	// Call is a diploid genotype call encoded as an int
	Call int32

	// IntervalValue is the annotation form of a TInterval, endpoints are
	// annotations of the point type.
	IntervalValue struct {
		Start         Annotation
		End           Annotation
		IncludesStart bool
		IncludesEnd   bool
	}

	// Type describes a logical type plus a required flag. ByteSize and
	// Alignment describe the value as stored in a struct field or array
	// element: container and binary types store an 8-byte region offset,
	// everything else is stored inline.
	Type interface {
		Required() bool
		// SetRequired returns a copy of the type with the required flag set
		SetRequired(required bool) Type
		ByteSize() int64
		Alignment() int64
		// Fundamental is the on-wire representation used by the codec, e.g.
		// intervals represent as a struct of (start, end, includesStart,
		// includesEnd)
		Fundamental() Type
		String() string
	}

	Field struct {
		Name string
		Typ  Type
	}

	TBoolean struct{ Req bool }
	TInt32   struct{ Req bool }
	TInt64   struct{ Req bool }
	TFloat32 struct{ Req bool }
	TFloat64 struct{ Req bool }

	// TString is a byte string, fundamental representation TBinary
	TString struct{ Req bool }
	TBinary struct{ Req bool }

	// TCall's fundamental representation is TInt32
	TCall struct{ Req bool }
)

func (t TBoolean) Required() bool            { return t.Req }
func (t TBoolean) SetRequired(req bool) Type { return TBoolean{Req: req} }
func (t TBoolean) ByteSize() int64           { return 1 }
func (t TBoolean) Alignment() int64          { return 1 }
func (t TBoolean) Fundamental() Type         { return t }
func (t TBoolean) String() string            { return reqPrefix(t.Req) + "Boolean" }

func (t TInt32) Required() bool            { return t.Req }
func (t TInt32) SetRequired(req bool) Type { return TInt32{Req: req} }
func (t TInt32) ByteSize() int64           { return 4 }
func (t TInt32) Alignment() int64          { return 4 }
func (t TInt32) Fundamental() Type         { return t }
func (t TInt32) String() string            { return reqPrefix(t.Req) + "Int32" }

func (t TInt64) Required() bool            { return t.Req }
func (t TInt64) SetRequired(req bool) Type { return TInt64{Req: req} }
func (t TInt64) ByteSize() int64           { return 8 }
func (t TInt64) Alignment() int64          { return 8 }
func (t TInt64) Fundamental() Type         { return t }
func (t TInt64) String() string            { return reqPrefix(t.Req) + "Int64" }

func (t TFloat32) Required() bool            { return t.Req }
func (t TFloat32) SetRequired(req bool) Type { return TFloat32{Req: req} }
func (t TFloat32) ByteSize() int64           { return 4 }
func (t TFloat32) Alignment() int64          { return 4 }
func (t TFloat32) Fundamental() Type         { return t }
func (t TFloat32) String() string            { return reqPrefix(t.Req) + "Float32" }

func (t TFloat64) Required() bool            { return t.Req }
func (t TFloat64) SetRequired(req bool) Type { return TFloat64{Req: req} }
func (t TFloat64) ByteSize() int64           { return 8 }
func (t TFloat64) Alignment() int64          { return 8 }
func (t TFloat64) Fundamental() Type         { return t }
func (t TFloat64) String() string            { return reqPrefix(t.Req) + "Float64" }

func (t TString) Required() bool            { return t.Req }
func (t TString) SetRequired(req bool) Type { return TString{Req: req} }
func (t TString) ByteSize() int64           { return 8 }
func (t TString) Alignment() int64          { return 8 }
func (t TString) Fundamental() Type         { return TBinary{Req: t.Req} }
func (t TString) String() string            { return reqPrefix(t.Req) + "String" }

func (t TBinary) Required() bool            { return t.Req }
func (t TBinary) SetRequired(req bool) Type { return TBinary{Req: req} }
func (t TBinary) ByteSize() int64           { return 8 }
func (t TBinary) Alignment() int64          { return 8 }
func (t TBinary) Fundamental() Type         { return t }
func (t TBinary) String() string            { return reqPrefix(t.Req) + "Binary" }

func (t TCall) Required() bool            { return t.Req }
func (t TCall) SetRequired(req bool) Type { return TCall{Req: req} }
func (t TCall) ByteSize() int64           { return 4 }
func (t TCall) Alignment() int64          { return 4 }
func (t TCall) Fundamental() Type         { return TInt32{Req: t.Req} }
func (t TCall) String() string            { return reqPrefix(t.Req) + "Call" }

func reqPrefix(req bool) string {
	if req {
		return "+"
	}
	return ""
}

// IsPointer reports whether values of t are stored as an 8-byte region
// offset rather than inline.
func IsPointer(t Type) bool {
	switch t.Fundamental().(type) {
	case *TArray, TBinary:
		return true
	}
	return false
}

// IsPrimitive reports whether t is a fixed-size scalar
func IsPrimitive(t Type) bool {
	switch t.Fundamental().(type) {
	case TBoolean, TInt32, TInt64, TFloat32, TFloat64:
		return true
	}
	return false
}

func alignUp(off, alignment int64) int64 {
	if alignment <= 1 {
		return off
	}
	return (off + alignment - 1) / alignment * alignment
}

// TypeCheck reports whether annotation a is a legal value of t. nil is legal
// iff t is not required.
func TypeCheck(t Type, a Annotation) bool {
	if a == nil {
		return !t.Required()
	}
	switch typ := t.(type) {
	case TBoolean:
		_, ok := a.(bool)
		return ok
	case TInt32:
		_, ok := a.(int32)
		return ok
	case TInt64:
		_, ok := a.(int64)
		return ok
	case TFloat32:
		_, ok := a.(float32)
		return ok
	case TFloat64:
		_, ok := a.(float64)
		return ok
	case TString:
		_, ok := a.(string)
		return ok
	case TBinary:
		_, ok := a.([]byte)
		return ok
	case TCall:
		_, ok := a.(Call)
		return ok
	case *TLocus:
		_, ok := a.(Locus)
		return ok
	case *TArray:
		elems, ok := a.([]Annotation)
		if !ok {
			return false
		}
		for _, e := range elems {
			if !TypeCheck(typ.Elem, e) {
				return false
			}
		}
		return true
	case *TSet:
		elems, ok := a.([]Annotation)
		if !ok {
			return false
		}
		for _, e := range elems {
			if !TypeCheck(typ.Elem, e) {
				return false
			}
		}
		return true
	case *TDict:
		entries, ok := a.([]DictEntry)
		if !ok {
			return false
		}
		for _, e := range entries {
			if !TypeCheck(typ.Key, e.Key) || !TypeCheck(typ.Value, e.Value) {
				return false
			}
		}
		return true
	case *TStruct:
		row, ok := a.(Row)
		if !ok || len(row) != len(typ.Fields) {
			return false
		}
		for i, f := range typ.Fields {
			if !TypeCheck(f.Typ, row[i]) {
				return false
			}
		}
		return true
	case *TTuple:
		row, ok := a.(Row)
		if !ok || len(row) != len(typ.Types) {
			return false
		}
		for i, et := range typ.Types {
			if !TypeCheck(et, row[i]) {
				return false
			}
		}
		return true
	case *TInterval:
		iv, ok := a.(*IntervalValue)
		if !ok {
			return false
		}
		return TypeCheck(typ.Point, iv.Start) && TypeCheck(typ.Point, iv.End)
	}
	return false
}

// Same reports structural type equality including required flags
func Same(a, b Type) bool {
	return a.String() == b.String()
}

func prettyFields(fields []Field) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(f.Name)
		sb.WriteString(":")
		sb.WriteString(f.Typ.String())
	}
	return sb.String()
}

func (l Locus) String() string {
	return fmt.Sprintf("%s:%d", l.Contig, l.Position)
}
