package types

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

// round trip through actual JSON text so the importer sees what
// encoding/json produces
func jsonRoundTrip(t *testing.T, typ Type, a Annotation) Annotation {
	t.Helper()
	b, err := json.Marshal(ExportJSON(typ, a))
	if err != nil {
		t.Fatal(err)
	}
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	got, err := NewJSONImporter().Import(typ, raw)
	if err != nil {
		t.Fatalf("import of %s: %s", string(b), err)
	}
	return got
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []struct {
		typ Type
		val Annotation
	}{
		{TInt32{}, int32(42)},
		{TInt64{}, int64(1 << 40)},
		{TFloat64{}, 1.25},
		{TFloat64{}, math.Inf(1)},
		{TFloat64{}, math.Inf(-1)},
		{TBoolean{}, true},
		{TString{}, "hello"},
		{TCall{}, Call(2)},
		{TLocusOf(), Locus{Contig: "1", Position: 123}},
		{&TArray{Elem: TInt32{}}, []Annotation{int32(1), nil, int32(3)}},
		{TStructOf(Field{"a", TInt32{}}, Field{"b", TString{}}), Row{int32(1), "x"}},
		{TTupleOf(TInt32{}, TString{}), Row{int32(9), "y"}},
		{TIntervalOf(TInt32{}), &IntervalValue{Start: int32(5), End: int32(10), IncludesStart: true, IncludesEnd: false}},
		{&TDict{Key: TString{}, Value: TInt32{}}, []DictEntry{{Key: "k", Value: int32(7)}}},
	}
	for _, c := range cases {
		got := jsonRoundTrip(t, c.typ, c.val)
		if !reflect.DeepEqual(got, c.val) {
			t.Fatalf("%s: exported %v, imported %v", c.typ.String(), c.val, got)
		}
	}
}

func TestJSONIntFromString(t *testing.T) {
	im := NewJSONImporter()
	got, err := im.Import(TInt32{}, "123")
	if err != nil {
		t.Fatal(err)
	}
	if got.(int32) != 123 {
		t.Fatal("numeric string did not parse")
	}
	got, err = im.Import(TFloat64{}, "Infinity")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(got.(float64), 1) {
		t.Fatal("Infinity did not parse")
	}
}

func TestJSONRequiredNull(t *testing.T) {
	im := NewJSONImporter()
	st := TStructOf(Field{"a", TInt32{Req: true}})
	if _, err := im.Import(st, map[string]interface{}{"a": nil}); err == nil {
		t.Fatal("null for a required field must be fatal")
	}
}

func TestJSONUnknownFieldIgnored(t *testing.T) {
	im := NewJSONImporter()
	st := TStructOf(Field{"a", TInt32{}})
	got, err := im.Import(st, map[string]interface{}{"a": 1.0, "mystery": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, Row{int32(1)}) {
		t.Fatalf("unexpected row %v", got)
	}
}

func TestJSONBadIntervalShapeCoercesToMissing(t *testing.T) {
	im := NewJSONImporter()
	it := TIntervalOf(TInt32{})
	got, err := im.Import(it, map[string]interface{}{"wat": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("unrecognized interval shape must coerce to missing")
	}
}
