package exec

import (
	"context"

	"github.com/danthegoodman1/strata/region"
)

type (
	// RVIter is the cooperative pull iterator over one partition's rows.
	// The consumer drives one row at a time; Err is checked after Next
	// returns false.
	RVIter interface {
		Next() bool
		Value() region.RegionValue
		Err() error
		Close()
	}

	// PartitionContext carries per-partition execution state. The Region is
	// owned by the partition's iterator pipeline.
	PartitionContext struct {
		Region *region.Region
	}

	// ComputeFn produces one partition's row stream
	ComputeFn func(ctx context.Context, part int, pc *PartitionContext) RVIter

	// RDD is a lazily computed partitioned stream of region values
	RDD struct {
		NumPartitions int
		compute       ComputeFn
	}
)

func NewRDD(numPartitions int, compute ComputeFn) *RDD {
	return &RDD{NumPartitions: numPartitions, compute: compute}
}

func Empty() *RDD {
	return &RDD{NumPartitions: 0, compute: func(context.Context, int, *PartitionContext) RVIter {
		return NewSliceIter(nil)
	}}
}

func (r *RDD) Compute(ctx context.Context, part int, pc *PartitionContext) RVIter {
	return r.compute(ctx, part, pc)
}

// MapPartitions rewrites each partition's stream
func (r *RDD) MapPartitions(f func(pc *PartitionContext, it RVIter) RVIter) *RDD {
	return NewRDD(r.NumPartitions, func(ctx context.Context, part int, pc *PartitionContext) RVIter {
		return f(pc, r.compute(ctx, part, pc))
	})
}

// MapPartitionsWithIndex rewrites each partition's stream with its index
func (r *RDD) MapPartitionsWithIndex(f func(part int, pc *PartitionContext, it RVIter) RVIter) *RDD {
	return NewRDD(r.NumPartitions, func(ctx context.Context, part int, pc *PartitionContext) RVIter {
		return f(part, pc, r.compute(ctx, part, pc))
	})
}

// ZipPartitions pairs partitions elementwise; both sides must have the same
// partition count.
func (r *RDD) ZipPartitions(other *RDD, f func(pc *PartitionContext, a, b RVIter) RVIter) *RDD {
	return NewRDD(r.NumPartitions, func(ctx context.Context, part int, pc *PartitionContext) RVIter {
		return f(pc, r.compute(ctx, part, pc), other.compute(ctx, part, pc))
	})
}

// Subset keeps the given partitions, renumbered in order
func (r *RDD) Subset(keep []int) *RDD {
	kept := append([]int(nil), keep...)
	return NewRDD(len(kept), func(ctx context.Context, part int, pc *PartitionContext) RVIter {
		return r.compute(ctx, kept[part], pc)
	})
}

// Concat builds each output partition by concatenating a group of input
// partitions in order, the backbone of block coalescing.
func (r *RDD) Concat(groups [][]int) *RDD {
	gs := make([][]int, len(groups))
	for i, g := range groups {
		gs[i] = append([]int(nil), g...)
	}
	return NewRDD(len(gs), func(ctx context.Context, part int, pc *PartitionContext) RVIter {
		its := make([]RVIter, len(gs[part]))
		for i, src := range gs[part] {
			its[i] = r.compute(ctx, src, pc)
		}
		return NewConcatIter(its)
	})
}
