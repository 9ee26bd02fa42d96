package rvd

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/interval"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

// Sortedness classifies what order a scanned partition exhibited
type Sortedness int

const (
	Unsorted Sortedness = iota
	// PSorted: PK-sorted within the partition, K not
	PSorted
	// TSorted: PK-sorted and, globally, PK ranges line up across partitions
	TSorted
	// KSorted: fully K-sorted
	KSorted
)

const maxGlobalSamples = 1_000_000

type (
	partitionInfo struct {
		part       int
		size       int64
		min        types.Row // PK of the first-sorting row
		max        types.Row // PK of the last-sorting row
		sortedness Sortedness
		samples    []types.Row
	}
)

// scanPartitions samples each partition: per-partition (min, max,
// sortedness, samples), k samples per partition bounded globally.
func scanPartitions(ctx context.Context, rt exec.Runtime, typ *OrderedRVDType, rdd *exec.RDD) ([]*partitionInfo, error) {
	k := 100
	if rdd.NumPartitions > 0 && maxGlobalSamples/rdd.NumPartitions < k {
		k = maxGlobalSamples / rdd.NumPartitions
	}
	if k < 1 {
		k = 1
	}
	infos := make([]*partitionInfo, rdd.NumPartitions)
	err := rt.ForeachPartition(ctx, rdd, func(part int, it exec.RVIter) error {
		info := &partitionInfo{part: part, sortedness: KSorted}
		rng := rand.New(rand.NewSource(int64(part)))
		prev := types.NewWritableRegionValue(typ.RowType)
		first := true
		for it.Next() {
			rv := it.Value()
			pk := typ.PKOfRow(rv)
			if first {
				info.min = pk
				info.max = pk
			} else {
				if types.RowCompare(typ.PKType(), pk, info.max, len(pk), true) > 0 {
					info.max = pk
				}
				if types.RowCompare(typ.PKType(), pk, info.min, len(pk), true) < 0 {
					info.min = pk
				}
				if typ.KCompare(prev.Value(), rv) > 0 {
					if typ.PKCompare(prev.Value(), rv) > 0 {
						info.sortedness = Unsorted
					} else if info.sortedness > PSorted {
						info.sortedness = PSorted
					}
				}
			}
			// reservoir of k PK samples
			if len(info.samples) < k {
				info.samples = append(info.samples, pk)
			} else if j := rng.Int63n(info.size + 1); j < int64(k) {
				info.samples[j] = pk
			}
			info.size++
			prev.Set(rv.Region, rv.Offset)
			first = false
		}
		infos[part] = info
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// emptyPartitioner is a single degenerate bound used for datasets with no
// rows; both endpoints inclusive so the bound is not definitely empty.
func emptyPartitioner(pkType *types.TStruct) (*OrderedPartitioner, error) {
	pt := make(types.Row, len(pkType.Fields))
	return NewOrderedPartitioner(pkType, []interval.Interval{
		interval.New(pt, pt, true, true),
	})
}

// Coerce builds an ordered dataset from an arbitrary partitioned stream,
// choosing AS_IS, AS_IS + LOCAL_SORT, or SHUFFLE based on the observed
// sortedness.
func Coerce(ctx context.Context, rt exec.Runtime, typ *OrderedRVDType, rdd *exec.RDD) (*OrderedRVD, error) {
	if rdd.NumPartitions == 0 {
		p, err := emptyPartitioner(typ.PKType())
		if err != nil {
			return nil, err
		}
		return New(typ, p, exec.NewRDD(1, func(context.Context, int, *exec.PartitionContext) exec.RVIter {
			return exec.NewSliceIter(nil)
		}))
	}
	infos, err := scanPartitions(ctx, rt, typ, rdd)
	if err != nil {
		return nil, fmt.Errorf("error scanning partitions: %w", err)
	}
	var nonEmpty []*partitionInfo
	var total int64
	for _, info := range infos {
		if info.size > 0 {
			nonEmpty = append(nonEmpty, info)
		}
		total += info.size
	}
	if total == 0 {
		p, err := emptyPartitioner(typ.PKType())
		if err != nil {
			return nil, err
		}
		return New(typ, p, exec.NewRDD(1, func(context.Context, int, *exec.PartitionContext) exec.RVIter {
			return exec.NewSliceIter(nil)
		}))
	}

	pkT := typ.PKType()
	cmpPK := func(a, b types.Row) int {
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		return types.RowCompare(pkT, a, b, n, true)
	}
	sort.SliceStable(nonEmpty, func(i, j int) bool {
		if c := cmpPK(nonEmpty[i].min, nonEmpty[j].min); c != 0 {
			return c < 0
		}
		return cmpPK(nonEmpty[i].max, nonEmpty[j].max) < 0
	})

	sortable := true
	overlapping := false
	for _, info := range nonEmpty {
		if info.sortedness == Unsorted {
			sortable = false
		}
	}
	for i := 0; i+1 < len(nonEmpty); i++ {
		if cmpPK(nonEmpty[i].max, nonEmpty[i+1].min) > 0 {
			overlapping = true
		}
	}

	if !sortable || overlapping {
		logger.Debug().Bool("sortable", sortable).Bool("overlapping", overlapping).Msg("coercion falling back to shuffle")
		return shuffleToRanges(ctx, rt, typ, rdd, infos, rdd.NumPartitions)
	}

	allKSorted := true
	for _, info := range nonEmpty {
		if info.sortedness < KSorted {
			allKSorted = false
		}
	}
	return adoptAsIs(typ, rdd, nonEmpty, cmpPK, allKSorted)
}

// adoptAsIs reuses the existing partitions: sorted by min, boundary-equal
// rows resolved by adjustments (the first occurrence keeps the boundary,
// later partitions' leading equal rows shift to the predecessor's tail),
// and a per-run local K-sort interposed when partitions were only PK-sorted
// or an adjustment moved rows.
func adoptAsIs(typ *OrderedRVDType, rdd *exec.RDD, ordered []*partitionInfo,
	cmpPK func(a, b types.Row) int, allKSorted bool) (*OrderedRVD, error) {
	// keep partitions with strictly increasing max; a partition whose rows
	// all equal the previous kept boundary is absorbed into it
	var kept []int // indices into ordered
	for i, info := range ordered {
		if len(kept) == 0 || cmpPK(info.max, ordered[kept[len(kept)-1]].max) > 0 {
			kept = append(kept, i)
		}
	}

	bounds := make([]interval.Interval, len(kept))
	for j, i := range kept {
		if j == 0 {
			bounds[j] = interval.New(ordered[0].min, ordered[i].max, true, true)
		} else {
			bounds[j] = interval.New(ordered[kept[j-1]].max, ordered[i].max, false, true)
		}
	}
	partitioner, err := NewOrderedPartitioner(typ.PKType(), bounds)
	if err != nil {
		return nil, err
	}

	adjusted := false
	for j, i := range kept {
		// absorbed partitions or a boundary-equal head in the next group
		// mean rows moved
		next := len(ordered)
		if j+1 < len(kept) {
			next = kept[j+1]
		}
		if next-i > 1 {
			adjusted = true
		}
		if j+1 < len(kept) && cmpPK(ordered[kept[j+1]].min, ordered[i].max) == 0 {
			adjusted = true
		}
	}

	base := rdd
	newRDD := exec.NewRDD(len(kept), func(ctx context.Context, part int, pc *exec.PartitionContext) exec.RVIter {
		i := kept[part]
		boundEnd := ordered[i].max
		var prevMax types.Row
		if part > 0 {
			prevMax = ordered[kept[part-1]].max
		}
		var its []exec.RVIter
		main := base.Compute(ctx, ordered[i].part, pc)
		if prevMax != nil && cmpPK(ordered[i].min, prevMax) == 0 {
			// this partition's leading boundary-equal rows were claimed by
			// the predecessor
			main = dropLeadingPKEqual(typ, main, prevMax, cmpPK)
		}
		its = append(its, main)
		// absorbed partitions between this group and the next kept one
		next := len(ordered)
		if part+1 < len(kept) {
			next = kept[part+1]
		}
		for j := i + 1; j < next; j++ {
			its = append(its, base.Compute(ctx, ordered[j].part, pc))
		}
		// the next kept partition's leading boundary-equal rows belong here
		if part+1 < len(kept) && cmpPK(ordered[kept[part+1]].min, boundEnd) == 0 {
			its = append(its, takeLeadingPKEqual(typ, base.Compute(ctx, ordered[kept[part+1]].part, pc), boundEnd, cmpPK))
		}
		out := exec.NewConcatIter(its)
		return out
	})

	out, err := New(typ, partitioner, newRDD)
	if err != nil {
		return nil, err
	}
	if !allKSorted || adjusted {
		out = out.localKSort()
	}
	return out, nil
}

func dropLeadingPKEqual(typ *OrderedRVDType, it exec.RVIter, boundary types.Row,
	cmpPK func(a, b types.Row) int) exec.RVIter {
	dropping := true
	return exec.NewFilterIter(it, func(rv region.RegionValue) (bool, error) {
		if !dropping {
			return true, nil
		}
		if cmpPK(typ.PKOfRow(rv), boundary) == 0 {
			return false, nil
		}
		dropping = false
		return true, nil
	})
}

func takeLeadingPKEqual(typ *OrderedRVDType, it exec.RVIter, boundary types.Row,
	cmpPK func(a, b types.Row) int) exec.RVIter {
	done := false
	return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
		if done {
			return region.RegionValue{}, false, nil
		}
		if !it.Next() {
			done = true
			return region.RegionValue{}, false, it.Err()
		}
		rv := it.Value()
		if cmpPK(typ.PKOfRow(rv), boundary) != 0 {
			done = true
			return region.RegionValue{}, false, nil
		}
		return rv, true, nil
	}, it.Close)
}

type rowHeap struct {
	rows []*types.WritableRegionValue
	typ  *OrderedRVDType
}

func (h *rowHeap) Len() int { return len(h.rows) }
func (h *rowHeap) Less(i, j int) bool {
	return h.typ.KCompare(h.rows[i].Value(), h.rows[j].Value()) < 0
}
func (h *rowHeap) Swap(i, j int)      { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *rowHeap) Push(x interface{}) { h.rows = append(h.rows, x.(*types.WritableRegionValue)) }
func (h *rowHeap) Pop() interface{} {
	old := h.rows
	n := len(old)
	x := old[n-1]
	h.rows = old[:n-1]
	return x
}

// localKSort lazily K-sorts PK-equivalent runs: each run buffers into a
// small priority queue, then drains in K order before the next run starts.
func (rvd *OrderedRVD) localKSort() *OrderedRVD {
	typ := rvd.Typ
	return rvd.MapPartitionsPreservesPartitioning(typ,
		func(_ *exec.PartitionContext, it exec.RVIter) exec.RVIter {
			pi := newPeekIter(it)
			h := &rowHeap{typ: typ}
			return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
				if h.Len() == 0 {
					// pull the next PK run
					first, ok := pi.pop()
					if !ok {
						return region.RegionValue{}, false, pi.err
					}
					heap.Push(h, copyRow(typ.RowType, first))
					runHead := h.rows[0].Value()
					for {
						next, ok := pi.peek()
						if !ok || typ.PKCompare(runHead, next) != 0 {
							break
						}
						pi.pop()
						heap.Push(h, copyRow(typ.RowType, next))
					}
				}
				w := heap.Pop(h).(*types.WritableRegionValue)
				v := w.Value()
				return v, true, nil
			}, it.Close)
		})
}

// shuffleToRanges computes target key ranges from the scan samples (evenly
// spaced, ties extended so no two partitions share a PK), ships rows
// through the shuffle keyed by K, and enforces per-partition monotonicity.
func shuffleToRanges(ctx context.Context, rt exec.Runtime, typ *OrderedRVDType,
	rdd *exec.RDD, infos []*partitionInfo, nOut int) (*OrderedRVD, error) {
	pkT := typ.PKType()
	cmpPK := pkOrdering(pkT)
	var samples []types.Row
	for _, info := range infos {
		if info.size == 0 {
			continue
		}
		samples = append(samples, info.min, info.max)
		samples = append(samples, info.samples...)
	}
	sort.SliceStable(samples, func(i, j int) bool { return cmpPK(samples[i], samples[j]) < 0 })
	// distinct sample values
	distinct := samples[:0]
	for i, s := range samples {
		if i == 0 || cmpPK(samples[i-1], s) != 0 {
			distinct = append(distinct, s)
		}
	}
	if nOut < 1 {
		nOut = 1
	}
	if nOut > len(distinct) {
		nOut = len(distinct)
	}
	globalMin := distinct[0]
	globalMax := distinct[len(distinct)-1]
	// evenly spaced cut points over the distinct samples; distinctness
	// guarantees no two partitions share a PK
	bounds := make([]interval.Interval, 0, nOut)
	prev := globalMin
	prevInclusive := true
	for i := 1; i <= nOut; i++ {
		var end types.Row
		if i == nOut {
			end = globalMax
		} else {
			end = distinct[i*len(distinct)/nOut-1]
		}
		if cmpPK(prev, end) > 0 || (cmpPK(prev, end) == 0 && !prevInclusive) {
			continue
		}
		bounds = append(bounds, interval.New(prev, end, prevInclusive, true))
		prev = end
		prevInclusive = false
	}
	partitioner, err := NewOrderedPartitioner(pkT, bounds)
	if err != nil {
		return nil, err
	}
	shuffled, err := rt.ShuffleByKey(ctx, rdd, typ.RowType, partitioner.NumPartitions(),
		func(_ int, rv region.RegionValue) (int, error) {
			return partitioner.GetPartition(typ.PKOfRow(rv)), nil
		})
	if err != nil {
		return nil, fmt.Errorf("error in ShuffleByKey: %w", err)
	}
	sorted := shuffled.MapPartitions(func(_ *exec.PartitionContext, it exec.RVIter) exec.RVIter {
		return sortPartition(typ, it)
	})
	return New(typ, partitioner, sorted)
}

// sortPartition buffers a partition and emits it in K order
func sortPartition(typ *OrderedRVDType, it exec.RVIter) exec.RVIter {
	var rows []*types.WritableRegionValue
	loaded := false
	i := 0
	return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
		if !loaded {
			for it.Next() {
				rows = append(rows, copyRow(typ.RowType, it.Value()))
			}
			if err := it.Err(); err != nil {
				return region.RegionValue{}, false, err
			}
			sort.SliceStable(rows, func(a, b int) bool {
				return typ.KCompare(rows[a].Value(), rows[b].Value()) < 0
			})
			loaded = true
		}
		if i >= len(rows) {
			return region.RegionValue{}, false, nil
		}
		rv := rows[i].Value()
		i++
		return rv, true, nil
	}, it.Close)
}

// shuffleCoalesce redistributes into at most maxPartitions ranges
func shuffleCoalesce(ctx context.Context, rt exec.Runtime, rvd *OrderedRVD, maxPartitions int) (*OrderedRVD, error) {
	infos, err := scanPartitions(ctx, rt, rvd.Typ, rvd.RDD)
	if err != nil {
		return nil, fmt.Errorf("error scanning partitions: %w", err)
	}
	var total int64
	for _, info := range infos {
		total += info.size
	}
	if total == 0 {
		p, err := emptyPartitioner(rvd.Typ.PKType())
		if err != nil {
			return nil, err
		}
		return New(rvd.Typ, p, exec.NewRDD(1, func(context.Context, int, *exec.PartitionContext) exec.RVIter {
			return exec.NewSliceIter(nil)
		}))
	}
	return shuffleToRanges(ctx, rt, rvd.Typ, rvd.RDD, infos, maxPartitions)
}
