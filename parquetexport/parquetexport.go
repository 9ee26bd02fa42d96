package parquetexport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/gologger"
	"github.com/danthegoodman1/strata/rvd"
	"github.com/danthegoodman1/strata/types"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/writer"
)

var logger = gologger.NewLogger()

type (
	// ParquetSchema is the tag-struct JSON schema parquet-go's JSON writer
	// consumes.
	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

// SchemaFor maps a row struct onto a parquet schema. Types parquet has no
// natural shape for (intervals, dicts, calls) serialize as UTF8 JSON.
func SchemaFor(rowType *types.TStruct) *ParquetSchema {
	root := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           "parquet_go_root",
			RepetitionType: Required,
		},
	}
	for _, f := range rowType.Fields {
		root.Fields = append(root.Fields, fieldSchema(f.Name, f.Typ))
	}
	return root
}

func fieldSchema(name string, t types.Type) *ParquetSchema {
	s := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           name,
			RepetitionType: Optional,
		},
	}
	if t.Required() {
		s.TagStructs.RepetitionType = Required
	}
	switch typ := t.(type) {
	case types.TBoolean:
		s.TagStructs.Type = "BOOLEAN"
	case types.TInt32:
		s.TagStructs.Type = "INT32"
	case types.TInt64:
		s.TagStructs.Type = "INT64"
	case types.TFloat32:
		s.TagStructs.Type = "FLOAT"
	case types.TFloat64:
		s.TagStructs.Type = "DOUBLE"
	case types.TString:
		s.TagStructs.Type = "BYTE_ARRAY"
		s.TagStructs.ConvertedType = "UTF8"
	case types.TCall:
		s.TagStructs.Type = "INT32"
	case *types.TLocus:
		s.TagStructs.RepetitionType = Optional
		s.Fields = []*ParquetSchema{
			fieldSchema("Contig", types.TString{Req: true}),
			fieldSchema("Position", types.TInt32{Req: true}),
		}
	case *types.TStruct:
		for _, f := range typ.Fields {
			s.Fields = append(s.Fields, fieldSchema(f.Name, f.Typ))
		}
	case *types.TArray:
		s.TagStructs.Type = "LIST"
		s.Fields = []*ParquetSchema{fieldSchema("Element", typ.Elem)}
	case *types.TSet:
		s.TagStructs.Type = "LIST"
		s.Fields = []*ParquetSchema{fieldSchema("Element", typ.Elem)}
	default:
		// no parquet shape, serialize as JSON text
		s.TagStructs.Type = "BYTE_ARRAY"
		s.TagStructs.ConvertedType = "UTF8"
	}
	return s
}

func (ps *ParquetSchema) toJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.toJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// SchemaString renders the JSON schema string for parquet-go
func (ps *ParquetSchema) SchemaString() (string, error) {
	b, err := json.Marshal(ps.toJSONSchema())
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// rowToParquetJSON renders one row as the JSON document the parquet JSON
// writer expects, matching SchemaFor's shapes.
func rowToParquetJSON(rowType *types.TStruct, row types.Row) (string, error) {
	out := make(map[string]interface{}, len(rowType.Fields))
	for i, f := range rowType.Fields {
		v, err := valueToParquetJSON(f.Typ, row[i])
		if err != nil {
			return "", err
		}
		out[f.Name] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

func valueToParquetJSON(t types.Type, a types.Annotation) (interface{}, error) {
	if a == nil {
		return nil, nil
	}
	switch typ := t.(type) {
	case types.TBoolean, types.TInt32, types.TInt64, types.TFloat32, types.TFloat64, types.TString:
		return types.ExportJSON(t, a), nil
	case types.TCall:
		return int32(a.(types.Call)), nil
	case *types.TLocus:
		l := a.(types.Locus)
		return map[string]interface{}{"Contig": l.Contig, "Position": l.Position}, nil
	case *types.TStruct:
		row := a.(types.Row)
		out := make(map[string]interface{}, len(typ.Fields))
		for i, f := range typ.Fields {
			v, err := valueToParquetJSON(f.Typ, row[i])
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil
	case *types.TArray:
		return elemsToParquetJSON(typ.Elem, a.([]types.Annotation))
	case *types.TSet:
		return elemsToParquetJSON(typ.Elem, a.([]types.Annotation))
	default:
		b, err := json.Marshal(types.ExportJSON(t, a))
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal: %w", err)
		}
		return string(b), nil
	}
}

func elemsToParquetJSON(elem types.Type, elems []types.Annotation) (interface{}, error) {
	out := make(map[string]interface{}, 1)
	list := make([]interface{}, len(elems))
	for i, e := range elems {
		v, err := valueToParquetJSON(elem, e)
		if err != nil {
			return nil, err
		}
		list[i] = v
	}
	out["Element"] = list
	return out, nil
}

// ExportDataset writes every row of the dataset as one parquet file, rows
// in global key order.
func ExportDataset(ctx context.Context, rt exec.Runtime, ds *rvd.OrderedRVD, w io.Writer) (int64, error) {
	schema, err := SchemaFor(ds.Typ.RowType).SchemaString()
	if err != nil {
		return 0, fmt.Errorf("error building parquet schema: %w", err)
	}
	pf := writerfile.NewWriterFile(w)
	jw, err := writer.NewJSONWriter(schema, pf, 4)
	if err != nil {
		return 0, fmt.Errorf("error in writer.NewJSONWriter: %w", err)
	}
	rows, err := ds.Collect(ctx, rt)
	if err != nil {
		return 0, fmt.Errorf("error collecting dataset: %w", err)
	}
	var n int64
	for _, a := range rows {
		doc, err := rowToParquetJSON(ds.Typ.RowType, a.(types.Row))
		if err != nil {
			return n, err
		}
		if err := jw.Write(doc); err != nil {
			return n, fmt.Errorf("error writing parquet row: %w", err)
		}
		n++
	}
	if err := jw.WriteStop(); err != nil {
		return n, fmt.Errorf("error in WriteStop: %w", err)
	}
	logger.Debug().Int64("rows", n).Msg("exported dataset to parquet")
	return n, nil
}
