package types

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/danthegoodman1/strata/gologger"
)

var (
	logger = gologger.NewLogger()

	ErrRequiredNull = errors.New("required value is null")
)

// ExportJSON converts an annotation of type t into an encoding/json-ready
// value. Non-finite floats export as "Infinity"/"-Infinity"/"NaN" strings.
func ExportJSON(t Type, a Annotation) interface{} {
	if a == nil {
		return nil
	}
	switch typ := t.(type) {
	case TBoolean:
		return a.(bool)
	case TInt32:
		return a.(int32)
	case TInt64:
		return a.(int64)
	case TFloat32:
		return exportFloat(float64(a.(float32)))
	case TFloat64:
		return exportFloat(a.(float64))
	case TString:
		return a.(string)
	case TBinary:
		return base64.StdEncoding.EncodeToString(a.([]byte))
	case TCall:
		return int32(a.(Call))
	case *TLocus:
		l := a.(Locus)
		return map[string]interface{}{"contig": l.Contig, "position": l.Position}
	case *TArray:
		return exportElems(typ.Elem, a.([]Annotation))
	case *TSet:
		return exportElems(typ.Elem, a.([]Annotation))
	case *TDict:
		entries := a.([]DictEntry)
		out := make([]interface{}, len(entries))
		for i, e := range entries {
			out[i] = map[string]interface{}{
				"key":   ExportJSON(typ.Key, e.Key),
				"value": ExportJSON(typ.Value, e.Value),
			}
		}
		return out
	case *TStruct:
		row := a.(Row)
		out := make(map[string]interface{}, len(typ.Fields))
		for i, f := range typ.Fields {
			out[f.Name] = ExportJSON(f.Typ, row[i])
		}
		return out
	case *TTuple:
		row := a.(Row)
		out := make([]interface{}, len(typ.Types))
		for i, et := range typ.Types {
			out[i] = ExportJSON(et, row[i])
		}
		return out
	case *TInterval:
		iv := a.(*IntervalValue)
		return map[string]interface{}{
			"start":        ExportJSON(typ.Point, iv.Start),
			"end":          ExportJSON(typ.Point, iv.End),
			"includeStart": iv.IncludesStart,
			"includeEnd":   iv.IncludesEnd,
		}
	}
	panic("unknown type in ExportJSON: " + t.String())
}

func exportElems(elem Type, elems []Annotation) []interface{} {
	out := make([]interface{}, len(elems))
	for i, e := range elems {
		out[i] = ExportJSON(elem, e)
	}
	return out
}

func exportFloat(f float64) interface{} {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	return f
}

type (
	// JSONImporter converts decoded JSON values into annotations. Warnings
	// for unknown struct fields and malformed interval shapes are
	// rate-limited per importer (one importer per partition).
	JSONImporter struct {
		warnings    int
		maxWarnings int
	}
)

func NewJSONImporter() *JSONImporter {
	return &JSONImporter{maxWarnings: 10}
}

func (im *JSONImporter) warn(format string, args ...interface{}) {
	im.warnings++
	if im.warnings <= im.maxWarnings {
		logger.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Import converts v (as decoded by encoding/json) into an annotation of
// type t. Integers parse from both numbers and numeric strings; a null for
// a required type is a fatal error.
func (im *JSONImporter) Import(t Type, v interface{}) (Annotation, error) {
	if v == nil {
		if t.Required() {
			return nil, fmt.Errorf("%w: type %s", ErrRequiredNull, t.String())
		}
		return nil, nil
	}
	switch typ := t.(type) {
	case TBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case TInt32:
		n, err := importInt(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d out of range for Int32", n)
		}
		return int32(n), nil
	case TInt64:
		n, err := importInt(v)
		if err != nil {
			return nil, err
		}
		return n, nil
	case TFloat32:
		f, err := importFloat(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case TFloat64:
		return importFloat(v)
	case TString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case TBinary:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected base64 string, got %T", v)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("error in base64.DecodeString: %w", err)
		}
		return b, nil
	case TCall:
		n, err := importInt(v)
		if err != nil {
			return nil, err
		}
		return Call(int32(n)), nil
	case *TLocus:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected locus object, got %T", v)
		}
		contig, ok := m["contig"].(string)
		if !ok {
			return nil, fmt.Errorf("locus is missing a contig")
		}
		pos, err := importInt(m["position"])
		if err != nil {
			return nil, fmt.Errorf("error importing locus position: %w", err)
		}
		return Locus{Contig: contig, Position: int32(pos)}, nil
	case *TArray:
		return im.importElems(typ.Elem, v)
	case *TSet:
		return im.importElems(typ.Elem, v)
	case *TDict:
		arr, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected dict entry array, got %T", v)
		}
		entries := make([]DictEntry, len(arr))
		for i, ev := range arr {
			m, ok := ev.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("expected dict entry object, got %T", ev)
			}
			k, err := im.Import(typ.Key, m["key"])
			if err != nil {
				return nil, fmt.Errorf("error importing dict key: %w", err)
			}
			val, err := im.Import(typ.Value, m["value"])
			if err != nil {
				return nil, fmt.Errorf("error importing dict value: %w", err)
			}
			entries[i] = DictEntry{Key: k, Value: val}
		}
		return entries, nil
	case *TStruct:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected struct object, got %T", v)
		}
		for name := range m {
			if typ.FieldIdx(name) < 0 {
				im.warn("ignoring unknown field %q for %s", name, typ.String())
			}
		}
		row := make(Row, len(typ.Fields))
		for i, f := range typ.Fields {
			a, err := im.Import(f.Typ, m[f.Name])
			if err != nil {
				return nil, fmt.Errorf("error importing field %s: %w", f.Name, err)
			}
			row[i] = a
		}
		return row, nil
	case *TTuple:
		arr, ok := v.([]interface{})
		if !ok || len(arr) != len(typ.Types) {
			return nil, fmt.Errorf("expected tuple array of %d, got %T", len(typ.Types), v)
		}
		row := make(Row, len(typ.Types))
		for i, et := range typ.Types {
			a, err := im.Import(et, arr[i])
			if err != nil {
				return nil, fmt.Errorf("error importing tuple element %d: %w", i, err)
			}
			row[i] = a
		}
		return row, nil
	case *TInterval:
		m, ok := v.(map[string]interface{})
		if !ok {
			im.warn("unrecognized interval shape %T, coercing to missing", v)
			return nil, nil
		}
		_, hasStart := m["start"]
		_, hasEnd := m["end"]
		if !hasStart || !hasEnd {
			im.warn("unrecognized interval shape (missing start/end), coercing to missing")
			return nil, nil
		}
		start, err := im.Import(typ.Point, m["start"])
		if err != nil {
			return nil, fmt.Errorf("error importing interval start: %w", err)
		}
		end, err := im.Import(typ.Point, m["end"])
		if err != nil {
			return nil, fmt.Errorf("error importing interval end: %w", err)
		}
		includeStart, _ := m["includeStart"].(bool)
		includeEnd, _ := m["includeEnd"].(bool)
		return &IntervalValue{
			Start:         start,
			End:           end,
			IncludesStart: includeStart,
			IncludesEnd:   includeEnd,
		}, nil
	}
	return nil, fmt.Errorf("cannot import type %s", t.String())
}

func (im *JSONImporter) importElems(elem Type, v interface{}) (Annotation, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	elems := make([]Annotation, len(arr))
	for i, ev := range arr {
		a, err := im.Import(elem, ev)
		if err != nil {
			return nil, fmt.Errorf("error importing element %d: %w", i, err)
		}
		elems[i] = a
	}
	return elems, nil
}

func importInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("error in strconv.ParseInt: %w", err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func importFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		switch n {
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "NaN":
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("error in strconv.ParseFloat: %w", err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected float, got %T", v)
}
