package types

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadTypeDescriptor = errors.New("bad type descriptor")

type typeParser struct {
	s   string
	pos int
}

// Parse parses the String() form of a type, used to round-trip the `type`
// field of persisted manifests.
func Parse(s string) (Type, error) {
	p := &typeParser{s: s}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("%w: trailing input at %d in %q", ErrBadTypeDescriptor, p.pos, s)
	}
	return t, nil
}

// MustParse panics on a bad descriptor, for static schemas
func MustParse(s string) Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *typeParser) eat(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("%w: expected %q at %d in %q", ErrBadTypeDescriptor, string(c), p.pos, p.s)
	}
	p.pos++
	return nil
}

func (p *typeParser) peek(c byte) bool {
	p.skipSpace()
	return p.pos < len(p.s) && p.s[p.pos] == c
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '[' || c == ']' || c == '{' || c == '}' || c == ',' || c == ':' || c == ' ' {
			break
		}
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *typeParser) parseType() (Type, error) {
	p.skipSpace()
	required := false
	if p.pos < len(p.s) && p.s[p.pos] == '+' {
		required = true
		p.pos++
	}
	name := p.ident()
	var t Type
	switch name {
	case "Boolean":
		t = TBoolean{}
	case "Int32":
		t = TInt32{}
	case "Int64":
		t = TInt64{}
	case "Float32":
		t = TFloat32{}
	case "Float64":
		t = TFloat64{}
	case "String":
		t = TString{}
	case "Binary":
		t = TBinary{}
	case "Call":
		t = TCall{}
	case "Locus":
		t = TLocusOf()
	case "Array", "Set", "Interval":
		if err := p.eat('['); err != nil {
			return nil, err
		}
		inner, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.eat(']'); err != nil {
			return nil, err
		}
		switch name {
		case "Array":
			t = &TArray{Elem: inner}
		case "Set":
			t = &TSet{Elem: inner}
		case "Interval":
			t = TIntervalOf(inner)
		}
	case "Dict":
		if err := p.eat('['); err != nil {
			return nil, err
		}
		key, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.eat(','); err != nil {
			return nil, err
		}
		value, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.eat(']'); err != nil {
			return nil, err
		}
		t = &TDict{Key: key, Value: value}
	case "Tuple":
		if err := p.eat('['); err != nil {
			return nil, err
		}
		var ts []Type
		for {
			inner, err := p.parseType()
			if err != nil {
				return nil, err
			}
			ts = append(ts, inner)
			if !p.peek(',') {
				break
			}
			p.pos++
		}
		if err := p.eat(']'); err != nil {
			return nil, err
		}
		t = TTupleOf(ts...)
	case "Struct":
		if err := p.eat('{'); err != nil {
			return nil, err
		}
		var fields []Field
		if !p.peek('}') {
			for {
				fname := p.ident()
				if fname == "" {
					return nil, fmt.Errorf("%w: empty field name at %d in %q", ErrBadTypeDescriptor, p.pos, p.s)
				}
				if err := p.eat(':'); err != nil {
					return nil, err
				}
				ftyp, err := p.parseType()
				if err != nil {
					return nil, err
				}
				fields = append(fields, Field{Name: fname, Typ: ftyp})
				if !p.peek(',') {
					break
				}
				p.pos++
			}
		}
		if err := p.eat('}'); err != nil {
			return nil, err
		}
		t = TStructOf(fields...)
	default:
		return nil, fmt.Errorf("%w: unknown type %q in %q", ErrBadTypeDescriptor, name, p.s)
	}
	if required {
		t = t.SetRequired(true)
	}
	return t, nil
}

// FieldNames returns the names of a struct's fields
func FieldNames(t *TStruct) []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// PrettyRow formats a row for error messages
func PrettyRow(row Row) string {
	parts := make([]string, len(row))
	for i, a := range row {
		if a == nil {
			parts[i] = "NA"
		} else {
			parts[i] = fmt.Sprint(a)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
