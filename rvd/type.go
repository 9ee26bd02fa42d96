package rvd

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

var (
	ErrBadKey = errors.New("bad key definition")
)

type (
	// OrderedRVDType describes an ordered dataset's rows: the full sort key
	// K and its prefix PK used for partitioning. Within each partition rows
	// are non-decreasing by K; each row's PK lies within the partitioner's
	// bound for that partition.
	OrderedRVDType struct {
		RowType      *types.TStruct
		Key          []string
		PartitionKey []string

		kIdx  []int
		pkIdx []int
		kOrd  types.UnsafeOrdering
		pkOrd types.UnsafeOrdering
	}
)

func NewOrderedRVDType(rowType *types.TStruct, key, partitionKey []string) (*OrderedRVDType, error) {
	if len(partitionKey) == 0 || len(partitionKey) > len(key) {
		return nil, fmt.Errorf("%w: partition key must be a non-empty prefix of the key", ErrBadKey)
	}
	for i, pk := range partitionKey {
		if key[i] != pk {
			return nil, fmt.Errorf("%w: partition key %v is not a prefix of key %v", ErrBadKey, partitionKey, key)
		}
	}
	t := &OrderedRVDType{RowType: rowType, Key: key, PartitionKey: partitionKey}
	t.kIdx = make([]int, len(key))
	for i, name := range key {
		fi := rowType.FieldIdx(name)
		if fi < 0 {
			return nil, fmt.Errorf("%w: row type %s has no key field %q", ErrBadKey, rowType.String(), name)
		}
		t.kIdx[i] = fi
	}
	t.pkIdx = t.kIdx[:len(partitionKey)]
	t.kOrd = types.StructFieldsOrd(rowType, t.kIdx, true)
	t.pkOrd = types.StructFieldsOrd(rowType, t.pkIdx, true)
	return t, nil
}

// KType is the struct of the key fields in key order
func (t *OrderedRVDType) KType() *types.TStruct {
	return t.RowType.SelectFields(t.Key)
}

// PKType is the struct of the partition-key fields
func (t *OrderedRVDType) PKType() *types.TStruct {
	return t.RowType.SelectFields(t.PartitionKey)
}

// KCompare orders two rows by the full key K
func (t *OrderedRVDType) KCompare(a, b region.RegionValue) int {
	return t.kOrd(a.Region, a.Offset, b.Region, b.Offset)
}

// PKCompare orders two rows by the partition-key prefix
func (t *OrderedRVDType) PKCompare(a, b region.RegionValue) int {
	return t.pkOrd(a.Region, a.Offset, b.Region, b.Offset)
}

// PKOfRow projects the partition key of a row as an annotation
func (t *OrderedRVDType) PKOfRow(rv region.RegionValue) types.Row {
	return t.projectRow(rv, t.pkIdx)
}

// KOfRow projects the full key of a row as an annotation
func (t *OrderedRVDType) KOfRow(rv region.RegionValue) types.Row {
	return t.projectRow(rv, t.kIdx)
}

func (t *OrderedRVDType) projectRow(rv region.RegionValue, idx []int) types.Row {
	out := make(types.Row, len(idx))
	for i, fi := range idx {
		if t.RowType.IsFieldDefined(rv.Region, rv.Offset, fi) {
			out[i] = types.Load(t.RowType.Fields[fi].Typ, rv.Region, t.RowType.LoadField(rv.Region, rv.Offset, fi))
		}
	}
	return out
}

// SameKey reports whether two dataset types share row type and keys
func (t *OrderedRVDType) SameKey(o *OrderedRVDType) bool {
	if len(t.Key) != len(o.Key) || len(t.PartitionKey) != len(o.PartitionKey) {
		return false
	}
	for i := range t.Key {
		if t.Key[i] != o.Key[i] {
			return false
		}
	}
	for i := range t.PartitionKey {
		if t.PartitionKey[i] != o.PartitionKey[i] {
			return false
		}
	}
	return types.Same(t.KType(), o.KType())
}

// crossKeyOrd compares the key projections of rows of two different row
// types sharing a key type, used by merges and joins.
func crossKeyOrd(lt *OrderedRVDType, rt *OrderedRVDType, nFields int) func(l, r region.RegionValue) int {
	lRow, rRow := lt.RowType, rt.RowType
	ords := make([]types.UnsafeOrdering, nFields)
	for i := 0; i < nFields; i++ {
		ords[i] = types.UnsafeOrd(lRow.Fields[lt.kIdx[i]].Typ.SetRequired(false), true)
	}
	return func(l, r region.RegionValue) int {
		for i := 0; i < nFields; i++ {
			li, ri := lt.kIdx[i], rt.kIdx[i]
			ld := lRow.IsFieldDefined(l.Region, l.Offset, li)
			rd := rRow.IsFieldDefined(r.Region, r.Offset, ri)
			if !ld || !rd {
				if ld == rd {
					continue
				}
				// missing sorts greatest
				if ld {
					return -1
				}
				return 1
			}
			c := ords[i](l.Region, lRow.LoadField(l.Region, l.Offset, li),
				r.Region, rRow.LoadField(r.Region, r.Offset, ri))
			if c != 0 {
				return c
			}
		}
		return 0
	}
}
