package types

type (
	// TInterval stores inline as a struct of (start, end, includesStart,
	// includesEnd) over the point type.
	TInterval struct {
		Point Type
		Req   bool

		rep *TStruct
	}

	// TLocus stores inline as a struct of (contig, position)
	TLocus struct {
		Req bool

		rep *TStruct
	}
)

func TIntervalOf(point Type) *TInterval {
	return &TInterval{Point: point, rep: intervalRep(point)}
}

func intervalRep(point Type) *TStruct {
	return TStructOf(
		Field{"start", point},
		Field{"end", point},
		Field{"includesStart", TBoolean{Req: true}},
		Field{"includesEnd", TBoolean{Req: true}},
	)
}

func (t *TInterval) Required() bool { return t.Req }
func (t *TInterval) SetRequired(req bool) Type {
	c := TIntervalOf(t.Point)
	c.Req = req
	return c
}
func (t *TInterval) ByteSize() int64  { return t.rep.ByteSize() }
func (t *TInterval) Alignment() int64 { return t.rep.Alignment() }
func (t *TInterval) Fundamental() Type {
	f := t.rep.Fundamental().(*TStruct)
	c := TStructOf(f.Fields...)
	c.Req = t.Req
	return c
}
func (t *TInterval) String() string {
	return reqPrefix(t.Req) + "Interval[" + t.Point.String() + "]"
}

// Rep is the struct layout backing the interval
func (t *TInterval) Rep() *TStruct { return t.rep }

// StartFieldIdx and EndFieldIdx index the representation struct; the end
// loads field index 1, not a second copy of the start.
const (
	IntervalStartFieldIdx = 0
	IntervalEndFieldIdx   = 1
)

func TLocusOf() *TLocus {
	return &TLocus{rep: locusRep()}
}

func locusRep() *TStruct {
	return TStructOf(
		Field{"contig", TString{Req: true}},
		Field{"position", TInt32{Req: true}},
	)
}

func (t *TLocus) Required() bool { return t.Req }
func (t *TLocus) SetRequired(req bool) Type {
	c := TLocusOf()
	c.Req = req
	return c
}
func (t *TLocus) ByteSize() int64  { return t.rep.ByteSize() }
func (t *TLocus) Alignment() int64 { return t.rep.Alignment() }
func (t *TLocus) Fundamental() Type {
	f := t.rep.Fundamental().(*TStruct)
	c := TStructOf(f.Fields...)
	c.Req = t.Req
	return c
}
func (t *TLocus) String() string { return reqPrefix(t.Req) + "Locus" }

// Rep is the struct layout backing the locus
func (t *TLocus) Rep() *TStruct { return t.rep }
