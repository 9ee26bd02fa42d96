package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/danthegoodman1/strata/gologger"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/rowio"
	"github.com/danthegoodman1/strata/types"
	"github.com/panjf2000/ants/v2"
)

var logger = gologger.NewLogger()

type (
	// Runtime is the single seam where a concrete parallel execution
	// service binds: partitioned iterators, broadcast, shuffle-by-key and
	// collect. Everything above it is runtime-agnostic.
	Runtime interface {
		// ForeachPartition drives every partition's iterator, possibly
		// concurrently; f observes partitions in arbitrary order.
		ForeachPartition(ctx context.Context, rdd *RDD, f func(part int, it RVIter) error) error
		// Broadcast shares an immutable value by reference across workers
		Broadcast(v interface{}) *Broadcast
		// ShuffleByKey routes every row to a target partition and returns
		// the redistributed RDD; rows cross the boundary serialized.
		ShuffleByKey(ctx context.Context, rdd *RDD, rowType types.Type, nOut int,
			route func(part int, rv region.RegionValue) (int, error)) (*RDD, error)
		Shutdown()
	}

	// Broadcast wraps an immutable shared value
	Broadcast struct {
		v interface{}
	}

	// LocalRuntime runs partitions on a bounded worker pool in-process
	LocalRuntime struct {
		pool *ants.Pool
	}
)

func (b *Broadcast) Value() interface{} { return b.v }

func NewLocalRuntime(parallelism int) (*LocalRuntime, error) {
	pool, err := ants.NewPool(parallelism, ants.WithPanicHandler(func(v any) {
		logger.Error().Interface("panic", v).Msg("partition task panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("error in ants.NewPool: %w", err)
	}
	return &LocalRuntime{pool: pool}, nil
}

func (rt *LocalRuntime) Shutdown() {
	rt.pool.Release()
}

func (rt *LocalRuntime) Broadcast(v interface{}) *Broadcast {
	return &Broadcast{v: v}
}

func (rt *LocalRuntime) ForeachPartition(ctx context.Context, rdd *RDD, f func(part int, it RVIter) error) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	for part := 0; part < rdd.NumPartitions; part++ {
		part := part
		wg.Add(1)
		err := rt.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				setErr(ctx.Err())
				return
			}
			pc := &PartitionContext{Region: region.New()}
			it := rdd.Compute(ctx, part, pc)
			defer it.Close()
			if err := f(part, it); err != nil {
				setErr(fmt.Errorf("partition %d: %w", part, err))
				return
			}
			if err := it.Err(); err != nil {
				setErr(fmt.Errorf("partition %d: %w", part, err))
			}
		})
		if err != nil {
			wg.Done()
			setErr(fmt.Errorf("error in pool.Submit: %w", err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

// ShuffleByKey materializes every input partition, routing each row's
// serialized bytes into its target bucket. The output RDD decodes bucket
// rows into fresh regions on demand.
func (rt *LocalRuntime) ShuffleByKey(ctx context.Context, rdd *RDD, rowType types.Type, nOut int,
	route func(part int, rv region.RegionValue) (int, error)) (*RDD, error) {
	buckets := make([][][]byte, nOut)
	var mu sync.Mutex
	err := rt.ForeachPartition(ctx, rdd, func(part int, it RVIter) error {
		local := make([][][]byte, nOut)
		for it.Next() {
			rv := it.Value()
			target, err := route(part, rv)
			if err != nil {
				return err
			}
			if target < 0 || target >= nOut {
				return fmt.Errorf("shuffle routed a row to partition %d of %d", target, nOut)
			}
			local[target] = append(local[target], rowio.EncodeBytes(rowType, rv))
		}
		if err := it.Err(); err != nil {
			return err
		}
		mu.Lock()
		for i := range local {
			buckets[i] = append(buckets[i], local[i]...)
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewRDD(nOut, func(_ context.Context, part int, _ *PartitionContext) RVIter {
		rows := buckets[part]
		i := 0
		return NewFuncIter(func() (region.RegionValue, bool, error) {
			if i >= len(rows) {
				return region.RegionValue{}, false, nil
			}
			rv, err := rowio.DecodeBytes(rows[i])
			if err != nil {
				return region.RegionValue{}, false, err
			}
			i++
			return rv, true, nil
		}, nil)
	}), nil
}

// Parallelize distributes local annotation rows of the given type over
// nParts partitions, preserving order.
func Parallelize(t types.Type, rows []types.Annotation, nParts int) *RDD {
	if nParts < 1 {
		nParts = 1
	}
	bounds := make([]int, nParts+1)
	for i := 0; i <= nParts; i++ {
		bounds[i] = i * len(rows) / nParts
	}
	return NewRDD(nParts, func(_ context.Context, part int, pc *PartitionContext) RVIter {
		chunk := rows[bounds[part]:bounds[part+1]]
		i := 0
		return NewFuncIter(func() (region.RegionValue, bool, error) {
			if i >= len(chunk) {
				return region.RegionValue{}, false, nil
			}
			off := types.Write(pc.Region, t, chunk[i])
			i++
			return region.Value(pc.Region, off), true, nil
		}, nil)
	})
}

// Collect gathers every row as annotations in partition order
func Collect(ctx context.Context, rt Runtime, rdd *RDD, t types.Type) ([]types.Annotation, error) {
	parts := make([][]types.Annotation, rdd.NumPartitions)
	err := rt.ForeachPartition(ctx, rdd, func(part int, it RVIter) error {
		var rows []types.Annotation
		for it.Next() {
			rv := it.Value()
			rows = append(rows, types.Load(t, rv.Region, rv.Offset))
		}
		parts[part] = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []types.Annotation
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}
