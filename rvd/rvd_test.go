package rvd

import (
	"context"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/interval"
	"github.com/danthegoodman1/strata/partstore"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

func testRuntime(t *testing.T) *exec.LocalRuntime {
	t.Helper()
	rt, err := exec.NewLocalRuntime(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Shutdown)
	return rt
}

func kvType(t *testing.T) *OrderedRVDType {
	t.Helper()
	rowT := types.TStructOf(
		types.Field{Name: "k", Typ: types.TInt32{Req: true}},
		types.Field{Name: "v", Typ: types.TInt32{Req: true}},
	)
	typ, err := NewOrderedRVDType(rowT, []string{"k", "v"}, []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	return typ
}

func kv(k, v int32) types.Row {
	return types.Row{k, v}
}

// manualDataset builds a dataset from pre-partitioned sorted rows and an
// explicit partitioner
func manualDataset(t *testing.T, typ *OrderedRVDType, p *OrderedPartitioner, parts [][]types.Row) *OrderedRVD {
	t.Helper()
	rdd := exec.NewRDD(len(parts), func(_ context.Context, part int, pc *exec.PartitionContext) exec.RVIter {
		rows := parts[part]
		i := 0
		return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
			if i >= len(rows) {
				return region.RegionValue{}, false, nil
			}
			off := types.Write(pc.Region, typ.RowType, rows[i])
			i++
			return region.Value(pc.Region, off), true, nil
		}, nil)
	})
	ds, err := New(typ, p, rdd)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func collectRows(t *testing.T, rt exec.Runtime, ds *OrderedRVD) []types.Row {
	t.Helper()
	anns, err := ds.Collect(context.Background(), rt)
	if err != nil {
		t.Fatal(err)
	}
	rows := make([]types.Row, len(anns))
	for i, a := range anns {
		rows[i] = a.(types.Row)
	}
	return rows
}

func TestCoerceShuffledInput(t *testing.T) {
	// scenario: a shuffled input of 10 partitions with PK type int takes
	// the SHUFFLE path, emits partitions whose key ranges cover min..max,
	// and every row lands in its assigned range
	rt := testRuntime(t)
	typ := kvType(t)
	const n = 1000
	rows := make([]types.Annotation, n)
	for i := 0; i < n; i++ {
		rows[i] = kv(int32(i), int32(i*2))
	}
	rand.New(rand.NewSource(42)).Shuffle(n, func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})
	rdd := exec.Parallelize(typ.RowType, rows, 10)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	if ds.RDD.NumPartitions != 10 {
		t.Fatalf("expected 10 partitions, got %d", ds.RDD.NumPartitions)
	}
	if err := ds.VerifyPartitioning(context.Background(), rt); err != nil {
		t.Fatalf("partitioning violated: %s", err)
	}
	got := collectRows(t, rt, ds)
	if len(got) != n {
		t.Fatalf("row count changed: %d != %d", len(got), n)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1][0].(int32) > got[i][0].(int32) {
			t.Fatal("global order not established")
		}
	}
	// range bounds cover min..max
	r := ds.Partitioner.Range()
	if ds.Partitioner.ord(r.Start, types.Row{int32(0)}) > 0 ||
		ds.Partitioner.ord(r.End, types.Row{int32(n - 1)}) < 0 {
		t.Fatal("partitioner range does not cover the keys")
	}
}

func TestCoerceSortedInputAsIs(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 100; i++ {
		rows = append(rows, kv(int32(i), int32(i)))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 4)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	// sorted non-overlapping input keeps its 4 partitions
	if ds.RDD.NumPartitions != 4 {
		t.Fatalf("AS_IS coercion changed partitioning: %d", ds.RDD.NumPartitions)
	}
	if err := ds.VerifyPartitioning(context.Background(), rt); err != nil {
		t.Fatal(err)
	}
	if len(collectRows(t, rt, ds)) != 100 {
		t.Fatal("rows lost")
	}
}

func TestCoerceLocalSort(t *testing.T) {
	// PK-sorted but K-unsorted within PK runs: LOCAL_SORT path
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 50; i++ {
		// same k appears with descending v
		rows = append(rows, kv(int32(i), 3), kv(int32(i), 1), kv(int32(i), 2))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 3)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.VerifyPartitioning(context.Background(), rt); err != nil {
		t.Fatalf("local sort did not establish K order: %s", err)
	}
	got := collectRows(t, rt, ds)
	if len(got) != 150 {
		t.Fatal("rows lost")
	}
}

func contigType(t *testing.T) *OrderedRVDType {
	t.Helper()
	rowT := types.TStructOf(
		types.Field{Name: "contig", Typ: types.TString{Req: true}},
		types.Field{Name: "pos", Typ: types.TInt32{Req: true}},
		types.Field{Name: "val", Typ: types.TInt32{}},
	)
	typ, err := NewOrderedRVDType(rowT, []string{"contig", "pos"}, []string{"contig", "pos"})
	if err != nil {
		t.Fatal(err)
	}
	return typ
}

func contigPartitioner(t *testing.T, typ *OrderedRVDType, cuts []int32) *OrderedPartitioner {
	t.Helper()
	bounds := make([]interval.Interval, 0, len(cuts))
	var prev types.Row
	for i, c := range cuts {
		end := types.Row{"1", c}
		if i == 0 {
			bounds = append(bounds, interval.New(types.Row{"1", int32(0)}, end, true, true))
		} else {
			bounds = append(bounds, interval.New(prev, end, false, true))
		}
		prev = end
	}
	p, err := NewOrderedPartitioner(typ.PKType(), bounds)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPartitionSortedUnion(t *testing.T) {
	// two datasets partitioned identically over contig "1", positions
	// 1..1000 split at {250, 500, 750, 1000}; union interleaves sorted and
	// counts add exactly
	rt := testRuntime(t)
	typ := contigType(t)
	p := contigPartitioner(t, typ, []int32{250, 500, 750, 1000})

	splitAt := func(pos int32) int {
		switch {
		case pos <= 250:
			return 0
		case pos <= 500:
			return 1
		case pos <= 750:
			return 2
		default:
			return 3
		}
	}
	odd := make([][]types.Row, 4)
	even := make([][]types.Row, 4)
	for pos := int32(1); pos <= 1000; pos++ {
		row := types.Row{"1", pos, pos}
		if pos%2 == 1 {
			odd[splitAt(pos)] = append(odd[splitAt(pos)], row)
		} else {
			even[splitAt(pos)] = append(even[splitAt(pos)], row)
		}
	}
	a := manualDataset(t, typ, p, odd)
	b := manualDataset(t, typ, p, even)

	u, err := a.PartitionSortedUnion(b)
	if err != nil {
		t.Fatal(err)
	}
	got := collectRows(t, rt, u)
	if len(got) != 1000 {
		t.Fatalf("union count %d != 1000", len(got))
	}
	for i, row := range got {
		if row[1].(int32) != int32(i+1) {
			t.Fatalf("union not a sorted interleave at %d: %v", i, row)
		}
	}
}

func TestFilterIntervals(t *testing.T) {
	// scenario: intervals [{contig 1, 100..200}, {contig 2, 50..150}] on a
	// 20-partition dataset narrows to overlapping partitions only, and
	// every output row lies inside a requested interval
	rt := testRuntime(t)
	typ := contigType(t)

	var rows []types.Annotation
	for _, contig := range []string{"1", "2"} {
		for pos := int32(1); pos <= 500; pos++ {
			rows = append(rows, types.Row{contig, pos, pos})
		}
	}
	rdd := exec.Parallelize(typ.RowType, rows, 20)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}

	qs := []interval.Interval{
		interval.New(types.Row{"1", int32(100)}, types.Row{"1", int32(200)}, true, true),
		interval.New(types.Row{"2", int32(50)}, types.Row{"2", int32(150)}, true, true),
	}
	filtered, err := ds.FilterIntervals(qs)
	if err != nil {
		t.Fatal(err)
	}
	if filtered.RDD.NumPartitions >= ds.RDD.NumPartitions {
		t.Fatalf("interval filter did not narrow partitions: %d of %d",
			filtered.RDD.NumPartitions, ds.RDD.NumPartitions)
	}
	got := collectRows(t, rt, filtered)
	want := 101 + 101
	if len(got) != want {
		t.Fatalf("filtered count %d != %d", len(got), want)
	}
	ord := filtered.Partitioner.ord
	for _, row := range got {
		pk := types.Row{row[0], row[1]}
		in := false
		for _, q := range qs {
			if q.Contains(ord, pk) {
				in = true
			}
		}
		if !in {
			t.Fatalf("row %v escaped the requested intervals", row)
		}
	}
}

func TestCoalesceNoShuffle(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 200; i++ {
		rows = append(rows, kv(int32(i), 0))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 10)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	// n >= current is a no-op
	same, err := ds.Coalesce(context.Background(), rt, 50, false)
	if err != nil {
		t.Fatal(err)
	}
	if same != ds {
		t.Fatal("coalesce above the partition count must be a no-op")
	}
	small, err := ds.Coalesce(context.Background(), rt, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if small.RDD.NumPartitions > 3 {
		t.Fatalf("coalesce produced %d partitions", small.RDD.NumPartitions)
	}
	if len(collectRows(t, rt, small)) != 200 {
		t.Fatal("coalesce changed the row count")
	}
	if err := small.VerifyPartitioning(context.Background(), rt); err != nil {
		t.Fatal(err)
	}
}

func TestHead(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 100; i++ {
		rows = append(rows, kv(int32(i), 0))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 5)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	head, err := ds.Head(context.Background(), rt, 37)
	if err != nil {
		t.Fatal(err)
	}
	got := collectRows(t, rt, head)
	if len(got) != 37 {
		t.Fatalf("head kept %d rows", len(got))
	}
	for i, row := range got {
		if row[0].(int32) != int32(i) {
			t.Fatal("head must keep the first rows in order")
		}
	}
	if head.RDD.NumPartitions >= ds.RDD.NumPartitions {
		t.Fatal("head must drop tail partitions")
	}
}

func TestGroupByKey(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	p, err := NewOrderedPartitioner(typ.PKType(), []interval.Interval{
		interval.New(types.Row{int32(0)}, types.Row{int32(100)}, true, true),
	})
	if err != nil {
		t.Fatal(err)
	}
	ds := manualDataset(t, typ, p, [][]types.Row{{
		kv(1, 10), kv(1, 11), kv(2, 20), kv(3, 30), kv(3, 31), kv(3, 32),
	}})
	grouped, err := ds.GroupByKey("values")
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, grouped)
	// grouping is by the full key K here and K = (k, v), so every row is
	// its own group
	if len(rows) != 6 {
		t.Fatalf("expected 6 groups, got %d", len(rows))
	}
	for _, row := range rows {
		if len(row[2].([]types.Annotation)) != 1 {
			t.Fatalf("unexpected group %v", row)
		}
	}
}

func TestGroupByKeyRuns(t *testing.T) {
	rt := testRuntime(t)
	rowT := types.TStructOf(
		types.Field{Name: "k", Typ: types.TInt32{Req: true}},
		types.Field{Name: "v", Typ: types.TInt32{Req: true}},
	)
	// key only on k so duplicate ks form runs
	typ, err := NewOrderedRVDType(rowT, []string{"k"}, []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewOrderedPartitioner(typ.PKType(), []interval.Interval{
		interval.New(types.Row{int32(0)}, types.Row{int32(100)}, true, true),
	})
	if err != nil {
		t.Fatal(err)
	}
	ds := manualDataset(t, typ, p, [][]types.Row{{
		kv(1, 10), kv(1, 11), kv(2, 20), kv(3, 30), kv(3, 31), kv(3, 32),
	}})
	grouped, err := ds.GroupByKey("values")
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, grouped)
	if len(rows) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(rows))
	}
	sizes := map[int32]int{}
	for _, row := range rows {
		sizes[row[0].(int32)] = len(row[1].([]types.Annotation))
	}
	if sizes[1] != 2 || sizes[2] != 1 || sizes[3] != 3 {
		t.Fatalf("unexpected group sizes %v", sizes)
	}

	distinct := ds.DistinctByKey()
	drows := collectRows(t, rt, distinct)
	if len(drows) != 3 {
		t.Fatalf("distinctByKey kept %d rows", len(drows))
	}
	if drows[0][1].(int32) != 10 {
		t.Fatal("distinctByKey must keep the first row of each run")
	}
}

func joinFixtures(t *testing.T) (*OrderedRVD, *OrderedRVD, *exec.LocalRuntime) {
	rt := testRuntime(t)
	leftT := types.TStructOf(
		types.Field{Name: "k", Typ: types.TInt32{Req: true}},
		types.Field{Name: "lv", Typ: types.TInt32{}},
	)
	rightT := types.TStructOf(
		types.Field{Name: "k", Typ: types.TInt32{Req: true}},
		types.Field{Name: "rv", Typ: types.TInt32{}},
	)
	lTyp, err := NewOrderedRVDType(leftT, []string{"k"}, []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	rTyp, err := NewOrderedRVDType(rightT, []string{"k"}, []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewOrderedPartitioner(lTyp.PKType(), []interval.Interval{
		interval.New(types.Row{int32(0)}, types.Row{int32(100)}, true, true),
	})
	if err != nil {
		t.Fatal(err)
	}
	left := manualDataset(t, lTyp, p, [][]types.Row{{
		{int32(1), int32(100)}, {int32(2), int32(200)}, {int32(3), int32(300)}, {int32(5), int32(500)},
	}})
	right := manualDataset(t, rTyp, p.Copy(), [][]types.Row{{
		{int32(2), int32(-2)}, {int32(3), int32(-3)}, {int32(3), int32(-33)}, {int32(6), int32(-6)},
	}})
	return left, right, rt
}

func joinKeys(rows []types.Row) []int32 {
	out := make([]int32, len(rows))
	for i, r := range rows {
		out[i] = r[0].(int32)
	}
	return out
}

func TestOrderedJoinInner(t *testing.T) {
	left, right, rt := joinFixtures(t)
	j, err := left.OrderedJoin(right, JoinInner, false)
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, j)
	// k=2 matches once, k=3 matches twice
	if !reflect.DeepEqual(joinKeys(rows), []int32{2, 3, 3}) {
		t.Fatalf("inner join keys %v", joinKeys(rows))
	}
	if rows[0][1].(int32) != 200 || rows[0][2].(int32) != -2 {
		t.Fatalf("inner join row %v", rows[0])
	}
}

func TestOrderedJoinLeft(t *testing.T) {
	left, right, rt := joinFixtures(t)
	j, err := left.OrderedJoin(right, JoinLeft, false)
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, j)
	if !reflect.DeepEqual(joinKeys(rows), []int32{1, 2, 3, 3, 5}) {
		t.Fatalf("left join keys %v", joinKeys(rows))
	}
	// unmatched left rows carry a missing right side
	if rows[0][2] != nil {
		t.Fatal("unmatched left row must have a missing right value")
	}
}

func TestOrderedJoinOuter(t *testing.T) {
	left, right, rt := joinFixtures(t)
	j, err := left.OrderedJoin(right, JoinOuter, false)
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, j)
	if !reflect.DeepEqual(joinKeys(rows), []int32{1, 2, 3, 3, 5, 6}) {
		t.Fatalf("outer join keys %v", joinKeys(rows))
	}
	last := rows[len(rows)-1]
	if last[1] != nil || last[2].(int32) != -6 {
		t.Fatalf("right-only outer row %v", last)
	}
}

func TestOrderedJoinDistinct(t *testing.T) {
	left, right, rt := joinFixtures(t)
	j, err := left.OrderedJoinDistinct(right, JoinLeft)
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, j)
	// duplicate right keys collapse: k=3 joins once
	if !reflect.DeepEqual(joinKeys(rows), []int32{1, 2, 3, 5}) {
		t.Fatalf("left distinct join keys %v", joinKeys(rows))
	}
}

func TestOrderedZipJoin(t *testing.T) {
	left, right, rt := joinFixtures(t)
	z, err := left.OrderedZipJoin(right, "left", "right")
	if err != nil {
		t.Fatal(err)
	}
	rows := collectRows(t, rt, z)
	// 1, 2, 3, 3, 5, 6: every key occurrence on either side
	if len(rows) != 6 {
		t.Fatalf("zip join emitted %d rows", len(rows))
	}
	if rows[0][1] == nil || rows[0][2] != nil {
		t.Fatalf("left-only zip row %v", rows[0])
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 100; i++ {
		rows = append(rows, kv(int32(i), int32(i*3)))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 4)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	store, err := partstore.NewDiskPartStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := ds.Write(context.Background(), rt, store, "ds1")
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Codec != "snappy" || len(manifest.PartFiles) != ds.RDD.NumPartitions {
		t.Fatalf("bad manifest %+v", manifest)
	}
	back, err := Read(context.Background(), store, "ds1")
	if err != nil {
		t.Fatal(err)
	}
	if !types.Same(back.Typ.RowType, typ.RowType) {
		t.Fatalf("type round trip: %s vs %s", back.Typ.RowType.String(), typ.RowType.String())
	}
	got := collectRows(t, rt, back)
	want := collectRows(t, rt, ds)
	if !reflect.DeepEqual(got, want) {
		t.Fatal("read rows differ from written rows")
	}
	if !back.Partitioner.Same(ds.Partitioner) {
		t.Fatal("range bounds did not round trip")
	}
}

func TestMapPreservesOrdering(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 60; i++ {
		rows = append(rows, kv(int32(i), 0))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 3)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	bumped := ds.MapPartitionsPreservesPartitioning(typ, func(pc *exec.PartitionContext, it exec.RVIter) exec.RVIter {
		return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
			if !it.Next() {
				return region.RegionValue{}, false, it.Err()
			}
			rv := it.Value()
			row := types.Load(typ.RowType, rv.Region, rv.Offset).(types.Row)
			row[1] = row[1].(int32) + 1
			off := types.Write(pc.Region, typ.RowType, row)
			return region.Value(pc.Region, off), true, nil
		}, it.Close)
	})
	if err := bumped.VerifyPartitioning(context.Background(), rt); err != nil {
		t.Fatalf("key-preserving map broke ordering: %s", err)
	}
}

func TestFilterAndSampleKeepPartitioner(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 100; i++ {
		rows = append(rows, kv(int32(i), 0))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 4)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	filtered := ds.Filter(func(rv region.RegionValue) (bool, error) {
		return typ.PKOfRow(rv)[0].(int32)%2 == 0, nil
	})
	if filtered.Partitioner != ds.Partitioner {
		t.Fatal("filter must keep the partitioner")
	}
	got := collectRows(t, rt, filtered)
	if len(got) != 50 {
		t.Fatalf("filter kept %d rows", len(got))
	}

	sampled := ds.Sample(0.5, 7)
	srows := collectRows(t, rt, sampled)
	if len(srows) == 0 || len(srows) == 100 {
		t.Fatalf("sample of p=0.5 kept %d rows", len(srows))
	}
	// deterministic under the same seed
	again := collectRows(t, rt, ds.Sample(0.5, 7))
	if !reflect.DeepEqual(srows, again) {
		t.Fatal("sampling must be deterministic per seed")
	}
}

func TestBlockAndNaiveCoalesce(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 80; i++ {
		rows = append(rows, kv(int32(i), 0))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 8)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	blocked, err := ds.BlockCoalesce([]int{3, 7})
	if err != nil {
		t.Fatal(err)
	}
	if blocked.RDD.NumPartitions != 2 {
		t.Fatalf("block coalesce gave %d partitions", blocked.RDD.NumPartitions)
	}
	if len(collectRows(t, rt, blocked)) != 80 {
		t.Fatal("block coalesce lost rows")
	}
	naive, err := ds.NaiveCoalesce(3)
	if err != nil {
		t.Fatal(err)
	}
	if naive.RDD.NumPartitions != 3 {
		t.Fatalf("naive coalesce gave %d partitions", naive.RDD.NumPartitions)
	}
	if err := naive.VerifyPartitioning(context.Background(), rt); err != nil {
		t.Fatal(err)
	}
}

func TestCoalesceShuffle(t *testing.T) {
	rt := testRuntime(t)
	typ := kvType(t)
	var rows []types.Annotation
	for i := 0; i < 300; i++ {
		rows = append(rows, kv(int32(i), 0))
	}
	rdd := exec.Parallelize(typ.RowType, rows, 10)
	ds, err := Coerce(context.Background(), rt, typ, rdd)
	if err != nil {
		t.Fatal(err)
	}
	small, err := ds.Coalesce(context.Background(), rt, 4, true)
	if err != nil {
		t.Fatal(err)
	}
	if small.RDD.NumPartitions > 4 {
		t.Fatalf("shuffle coalesce gave %d partitions", small.RDD.NumPartitions)
	}
	got := collectRows(t, rt, small)
	if len(got) != 300 {
		t.Fatal("shuffle coalesce changed the row count")
	}
	sorted := sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i][0].(int32) < got[j][0].(int32)
	})
	if !sorted {
		t.Fatal("shuffle coalesce must re-establish global order")
	}
}
