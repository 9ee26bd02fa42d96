package parquetexport

import (
	"strings"
	"testing"

	"github.com/danthegoodman1/strata/types"
)

func TestSchemaFor(t *testing.T) {
	rowT := types.TStructOf(
		types.Field{Name: "Contig", Typ: types.TString{Req: true}},
		types.Field{Name: "Pos", Typ: types.TInt32{Req: true}},
		types.Field{Name: "Qual", Typ: types.TFloat64{}},
		types.Field{Name: "Alleles", Typ: &types.TArray{Elem: types.TString{}}},
	)
	s, err := SchemaFor(rowT).SchemaString()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"name=parquet_go_root",
		"type=BYTE_ARRAY, convertedtype=UTF8, name=Contig, repetitiontype=REQUIRED",
		"type=INT32, name=Pos, repetitiontype=REQUIRED",
		"type=DOUBLE, name=Qual, repetitiontype=OPTIONAL",
		"type=LIST, name=Alleles",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("schema %s missing %q", s, want)
		}
	}
}

func TestRowToParquetJSON(t *testing.T) {
	rowT := types.TStructOf(
		types.Field{Name: "A", Typ: types.TInt32{}},
		types.Field{Name: "B", Typ: types.TString{}},
		types.Field{Name: "C", Typ: &types.TArray{Elem: types.TInt32{}}},
	)
	doc, err := rowToParquetJSON(rowT, types.Row{int32(1), nil, []types.Annotation{int32(2), int32(3)}})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"A":1`, `"B":null`, `"Element":[2,3]`} {
		if !strings.Contains(doc, want) {
			t.Fatalf("doc %s missing %q", doc, want)
		}
	}
}
