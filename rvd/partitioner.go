package rvd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/interval"
	"github.com/danthegoodman1/strata/types"
)

var (
	ErrBadRangeBounds      = errors.New("invalid range bounds")
	ErrPointTypeMismatch   = errors.New("cannot enlarge a partitioner to a different point type")
	ErrPartitionerMismatch = errors.New("partitioners do not match")
)

type (
	// OrderedPartitioner maps a partition key to a partition index through
	// an ordered sequence of pairwise non-overlapping, weakly adjacent
	// interval bounds over the PK type. Keys below or above the overall
	// range clamp to the first or last partition.
	OrderedPartitioner struct {
		PKType      *types.TStruct
		RangeBounds []interval.Interval // endpoints are types.Row over PKType

		ord interval.Ordering

		treeOnce sync.Once
		tree     *interval.Tree

		bcMu sync.Mutex
		bc   *exec.Broadcast
	}
)

// pkOrdering builds the point ordering for partitioner endpoints; shorter
// prefixes of the PK compare over their shared fields.
func pkOrdering(pkType *types.TStruct) interval.Ordering {
	return func(a, b interval.Point) int {
		ra, rb := a.(types.Row), b.(types.Row)
		n := len(ra)
		if len(rb) < n {
			n = len(rb)
		}
		return types.RowCompare(pkType, ra, rb, n, true)
	}
}

func NewOrderedPartitioner(pkType *types.TStruct, bounds []interval.Interval) (*OrderedPartitioner, error) {
	p := &OrderedPartitioner{
		PKType:      pkType,
		RangeBounds: bounds,
		ord:         pkOrdering(pkType),
	}
	if err := p.checkInvariants(); err != nil {
		return nil, err
	}
	return p, nil
}

// checkInvariants enforces the partitioner contract: bounds strictly
// ordered, pairwise non-overlapping, transitively adjacent with exactly one
// inclusive endpoint at each adjacency, and no definitely-empty bound.
func (p *OrderedPartitioner) checkInvariants() error {
	for i, b := range p.RangeBounds {
		if p.ord(b.Start, b.End) > 0 {
			return fmt.Errorf("%w: bound %d start exceeds end", ErrBadRangeBounds, i)
		}
		if b.DefinitelyEmpty(p.ord) {
			return fmt.Errorf("%w: bound %d is definitely empty", ErrBadRangeBounds, i)
		}
	}
	for i := 0; i+1 < len(p.RangeBounds); i++ {
		cur, next := p.RangeBounds[i], p.RangeBounds[i+1]
		if p.ord(cur.End, next.Start) != 0 {
			return fmt.Errorf("%w: bound %d end does not meet bound %d start", ErrBadRangeBounds, i, i+1)
		}
		if cur.IncludesEnd == next.IncludesStart {
			return fmt.Errorf("%w: adjacency %d/%d must include the endpoint on exactly one side", ErrBadRangeBounds, i, i+1)
		}
	}
	return nil
}

func (p *OrderedPartitioner) NumPartitions() int {
	return len(p.RangeBounds)
}

// Range is the spanning interval over all bounds
func (p *OrderedPartitioner) Range() interval.Interval {
	first := p.RangeBounds[0]
	last := p.RangeBounds[len(p.RangeBounds)-1]
	return interval.New(first.Start, last.End, first.IncludesStart, last.IncludesEnd)
}

func (p *OrderedPartitioner) buildTree() {
	p.treeOnce.Do(func() {
		p.tree = interval.NewTree(p.ord, p.RangeBounds)
	})
}

// GetPartition maps a key to its partition index. A prefix key (PK a prefix
// of K) is honored by projecting to the PK fields; out-of-range keys clamp
// to 0 or N-1.
func (p *OrderedPartitioner) GetPartition(key types.Row) int {
	pk := key
	if len(pk) > len(p.PKType.Fields) {
		pk = pk[:len(p.PKType.Fields)]
	}
	r := p.Range()
	if r.IsAbovePoint(p.ord, pk) {
		return 0
	}
	if r.IsBelowPoint(p.ord, pk) {
		return len(p.RangeBounds) - 1
	}
	p.buildTree()
	if i, ok := p.tree.ContainingIndex(pk); ok {
		return i
	}
	// adjacency means every in-range point is covered
	return 0
}

// GetPartitionRange returns the indices of every partition whose bound may
// overlap the query interval, in order.
func (p *OrderedPartitioner) GetPartitionRange(q interval.Interval) []int {
	p.buildTree()
	return p.tree.QueryOverlapping(q)
}

// EnlargeToRange extends the first bound's start and the last bound's end
// (with inclusive endpoints) so the partitioner covers newRange. Enlarging
// to a differently-typed point is unsupported.
func (p *OrderedPartitioner) EnlargeToRange(pointType types.Type, newRange interval.Interval) (*OrderedPartitioner, error) {
	if !types.Same(pointType.SetRequired(false), types.Type(p.PKType).SetRequired(false)) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrPointTypeMismatch, pointType.String(), p.PKType.String())
	}
	bounds := append([]interval.Interval(nil), p.RangeBounds...)
	first := &bounds[0]
	if p.ord(newRange.Start, first.Start) < 0 {
		first.Start = newRange.Start
		first.IncludesStart = true
	}
	last := &bounds[len(bounds)-1]
	if p.ord(newRange.End, last.End) > 0 {
		last.End = newRange.End
		last.IncludesEnd = true
	}
	return NewOrderedPartitioner(p.PKType, bounds)
}

// CoalesceRangeBounds merges contiguous partitions into groups whose final
// member indices are given by newPartEnd.
func (p *OrderedPartitioner) CoalesceRangeBounds(newPartEnd []int) (*OrderedPartitioner, error) {
	if len(newPartEnd) == 0 || newPartEnd[len(newPartEnd)-1] != len(p.RangeBounds)-1 {
		return nil, fmt.Errorf("%w: coalesce groups must cover every partition", ErrBadRangeBounds)
	}
	bounds := make([]interval.Interval, len(newPartEnd))
	prev := -1
	for i, end := range newPartEnd {
		if end <= prev || end >= len(p.RangeBounds) {
			return nil, fmt.Errorf("%w: coalesce group end %d out of order", ErrBadRangeBounds, end)
		}
		lo, hi := p.RangeBounds[prev+1], p.RangeBounds[end]
		bounds[i] = interval.New(lo.Start, hi.End, lo.IncludesStart, hi.IncludesEnd)
		prev = end
	}
	return NewOrderedPartitioner(p.PKType, bounds)
}

// Subset keeps the given partitions in order; each kept bound's start
// stretches back to the previous kept bound's end so adjacency holds across
// dropped ranges.
func (p *OrderedPartitioner) Subset(keep []int) (*OrderedPartitioner, error) {
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: empty partition subset", ErrBadRangeBounds)
	}
	bounds := make([]interval.Interval, len(keep))
	for j, i := range keep {
		if j > 0 && i <= keep[j-1] {
			return nil, fmt.Errorf("%w: subset indices must be increasing", ErrBadRangeBounds)
		}
		if i < 0 || i >= len(p.RangeBounds) {
			return nil, fmt.Errorf("%w: subset index %d out of range", ErrBadRangeBounds, i)
		}
		b := p.RangeBounds[i]
		if j > 0 && keep[j-1] != i-1 {
			prev := p.RangeBounds[keep[j-1]]
			b.Start = prev.End
			b.IncludesStart = !prev.IncludesEnd
		}
		bounds[j] = b
	}
	return NewOrderedPartitioner(p.PKType, bounds)
}

func (p *OrderedPartitioner) Copy() *OrderedPartitioner {
	bounds := append([]interval.Interval(nil), p.RangeBounds...)
	c, err := NewOrderedPartitioner(p.PKType, bounds)
	if err != nil {
		// a valid partitioner copies to a valid partitioner
		panic(err)
	}
	return c
}

// Broadcast lazily shares the partitioner through the runtime, with
// double-checked initialization on first use.
func (p *OrderedPartitioner) Broadcast(rt exec.Runtime) *exec.Broadcast {
	if p.bc != nil {
		return p.bc
	}
	p.bcMu.Lock()
	defer p.bcMu.Unlock()
	if p.bc == nil {
		p.bc = rt.Broadcast(p)
	}
	return p.bc
}

// Same reports bound-for-bound equality
func (p *OrderedPartitioner) Same(o *OrderedPartitioner) bool {
	if len(p.RangeBounds) != len(o.RangeBounds) {
		return false
	}
	for i, b := range p.RangeBounds {
		ob := o.RangeBounds[i]
		if p.ord(b.Start, ob.Start) != 0 || p.ord(b.End, ob.End) != 0 ||
			b.IncludesStart != ob.IncludesStart || b.IncludesEnd != ob.IncludesEnd {
			return false
		}
	}
	return true
}
