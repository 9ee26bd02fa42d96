package rowio

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

func testType() *types.TStruct {
	return types.TStructOf(
		types.Field{Name: "k", Typ: types.TInt32{Req: true}},
		types.Field{Name: "s", Typ: types.TString{}},
		types.Field{Name: "vals", Typ: &types.TArray{Elem: types.TFloat64{}}},
	)
}

func TestEncodeDecodeStream(t *testing.T) {
	typ := testType()
	rows := []types.Row{
		{int32(1), "a", []types.Annotation{1.0, nil}},
		{int32(2), nil, nil},
		{int32(3), "ccc", []types.Annotation{}},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf, typ)
	src := region.New()
	for _, row := range rows {
		src.Clear()
		off := types.Write(src, typ, row)
		if err := enc.Encode(region.Value(src, off)); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(&buf, typ)
	for i := 0; ; i++ {
		rv, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			if i != len(rows) {
				t.Fatalf("decoded %d rows, want %d", i, len(rows))
			}
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got := types.Load(typ, rv.Region, rv.Offset)
		if !reflect.DeepEqual(got, types.Annotation(rows[i])) {
			t.Fatalf("row %d: wrote %v, read %v", i, rows[i], got)
		}
	}
}

func TestEncodeBytesRoundTrip(t *testing.T) {
	typ := testType()
	row := types.Row{int32(7), "x", []types.Annotation{2.5}}
	src := region.New()
	off := types.Write(src, typ, row)
	b := EncodeBytes(typ, region.Value(src, off))
	// the frame must be self-contained
	src.Clear()
	rv, err := DecodeBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	got := types.Load(typ, rv.Region, rv.Offset)
	if !reflect.DeepEqual(got, types.Annotation(row)) {
		t.Fatalf("wrote %v, read %v", row, got)
	}
}
