package exec

import (
	"context"
	"reflect"
	"testing"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

func intType() types.Type {
	return types.TStructOf(types.Field{Name: "n", Typ: types.TInt32{Req: true}})
}

func intRows(n int) []types.Annotation {
	rows := make([]types.Annotation, n)
	for i := range rows {
		rows[i] = types.Row{int32(i)}
	}
	return rows
}

func TestParallelizeCollect(t *testing.T) {
	rt, err := NewLocalRuntime(4)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()

	typ := intType()
	rdd := Parallelize(typ, intRows(50), 7)
	if rdd.NumPartitions != 7 {
		t.Fatal("wrong partition count")
	}
	got, err := Collect(context.Background(), rt, rdd, typ)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 50 {
		t.Fatalf("collected %d rows", len(got))
	}
	// collect preserves partition order, and parallelize preserves input
	// order across partitions
	for i, a := range got {
		if a.(types.Row)[0].(int32) != int32(i) {
			t.Fatalf("row %d out of order: %v", i, a)
		}
	}
}

func TestMapPartitionsAndConcat(t *testing.T) {
	rt, err := NewLocalRuntime(2)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()

	typ := intType()
	rdd := Parallelize(typ, intRows(20), 4)
	doubled := rdd.MapPartitions(func(pc *PartitionContext, it RVIter) RVIter {
		return NewFuncIter(func() (region.RegionValue, bool, error) {
			if !it.Next() {
				return region.RegionValue{}, false, it.Err()
			}
			rv := it.Value()
			row := types.Load(typ, rv.Region, rv.Offset).(types.Row)
			off := types.Write(pc.Region, typ, types.Row{row[0].(int32) * 2})
			return region.Value(pc.Region, off), true, nil
		}, it.Close)
	})
	got, err := Collect(context.Background(), rt, doubled, typ)
	if err != nil {
		t.Fatal(err)
	}
	if got[3].(types.Row)[0].(int32) != 6 {
		t.Fatalf("map partitions: %v", got[3])
	}

	merged := rdd.Concat([][]int{{0, 1}, {2, 3}})
	if merged.NumPartitions != 2 {
		t.Fatal("concat partition count")
	}
	all, err := Collect(context.Background(), rt, merged, typ)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 20 {
		t.Fatal("concat lost rows")
	}
}

func TestShuffleByKey(t *testing.T) {
	rt, err := NewLocalRuntime(4)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()

	typ := intType()
	st := typ.(*types.TStruct)
	rdd := Parallelize(typ, intRows(40), 5)
	shuffled, err := rt.ShuffleByKey(context.Background(), rdd, typ, 4, func(_ int, rv region.RegionValue) (int, error) {
		n := rv.Region.LoadInt32(st.LoadField(rv.Region, rv.Offset, 0))
		return int(n) % 4, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	perPart := make([][]types.Annotation, 4)
	err = rt.ForeachPartition(context.Background(), shuffled, func(part int, it RVIter) error {
		for it.Next() {
			rv := it.Value()
			perPart[part] = append(perPart[part], types.Load(typ, rv.Region, rv.Offset))
		}
		return it.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for part, rows := range perPart {
		total += len(rows)
		for _, a := range rows {
			if int(a.(types.Row)[0].(int32))%4 != part {
				t.Fatalf("row %v landed in partition %d", a, part)
			}
		}
	}
	if total != 40 {
		t.Fatalf("shuffle lost rows: %d", total)
	}
}

func TestBroadcast(t *testing.T) {
	rt, err := NewLocalRuntime(1)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()
	b := rt.Broadcast([]int{1, 2, 3})
	if !reflect.DeepEqual(b.Value(), []int{1, 2, 3}) {
		t.Fatal("broadcast value mismatch")
	}
}
