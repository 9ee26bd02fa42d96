package interval

type (
	// Tree is a balanced augmented interval tree keyed by start with max-end
	// annotations, built from sorted inputs in linear time using the
	// median-split variant. Indices returned by queries are positions in the
	// build input.
	Tree struct {
		ord  Ordering
		root *treeNode
		n    int
	}

	treeNode struct {
		iv    Interval
		idx   int
		left  *treeNode
		right *treeNode
		// maxEnd is the latest end bound in this subtree
		maxEnd     Point
		maxEndIncl bool
	}
)

// NewTree builds a tree over intervals sorted by start. The intervals need
// not be disjoint; partition-bound trees are.
func NewTree(ord Ordering, ivs []Interval) *Tree {
	t := &Tree{ord: ord, n: len(ivs)}
	idx := make([]int, len(ivs))
	for i := range idx {
		idx[i] = i
	}
	t.root = buildMedian(ord, ivs, idx)
	return t
}

func buildMedian(ord Ordering, ivs []Interval, idx []int) *treeNode {
	if len(ivs) == 0 {
		return nil
	}
	mid := len(ivs) / 2
	n := &treeNode{
		iv:         ivs[mid],
		idx:        idx[mid],
		left:       buildMedian(ord, ivs[:mid], idx[:mid]),
		right:      buildMedian(ord, ivs[mid+1:], idx[mid+1:]),
		maxEnd:     ivs[mid].End,
		maxEndIncl: ivs[mid].IncludesEnd,
	}
	n.absorbMaxEnd(ord, n.left)
	n.absorbMaxEnd(ord, n.right)
	return n
}

func (n *treeNode) absorbMaxEnd(ord Ordering, child *treeNode) {
	if child == nil {
		return
	}
	c := ord(child.maxEnd, n.maxEnd)
	if c > 0 || (c == 0 && child.maxEndIncl && !n.maxEndIncl) {
		n.maxEnd = child.maxEnd
		n.maxEndIncl = child.maxEndIncl
	}
}

func (t *Tree) Len() int { return t.n }

// subtree can't contain p if its max end bound is below p
func (n *treeNode) subtreeBelow(ord Ordering, p Point) bool {
	c := ord(n.maxEnd, p)
	return c < 0 || (c == 0 && !n.maxEndIncl)
}

// ContainingIndex returns the index of an interval containing p. When the
// tree holds pairwise non-overlapping intervals the result is unique.
func (t *Tree) ContainingIndex(p Point) (int, bool) {
	return containingIn(t.ord, t.root, p)
}

func containingIn(ord Ordering, n *treeNode, p Point) (int, bool) {
	if n == nil || n.subtreeBelow(ord, p) {
		return 0, false
	}
	if i, ok := containingIn(ord, n.left, p); ok {
		return i, true
	}
	if n.iv.Contains(ord, p) {
		return n.idx, true
	}
	if !n.iv.IsAbovePoint(ord, p) {
		return containingIn(ord, n.right, p)
	}
	return 0, false
}

// QueryPoint returns the sorted indices of all intervals containing p
func (t *Tree) QueryPoint(p Point) []int {
	var out []int
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		if n == nil || n.subtreeBelow(t.ord, p) {
			return
		}
		walk(n.left)
		if n.iv.Contains(t.ord, p) {
			out = append(out, n.idx)
		}
		if !n.iv.IsAbovePoint(t.ord, p) {
			walk(n.right)
		}
	}
	walk(t.root)
	return out
}

// QueryOverlapping returns the sorted indices of all intervals that may
// overlap q
func (t *Tree) QueryOverlapping(q Interval) []int {
	var out []int
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		if n == nil {
			return
		}
		// prune subtrees entirely below q's start
		c := t.ord(n.maxEnd, q.Start)
		if c < 0 || (c == 0 && !(n.maxEndIncl && q.IncludesStart)) {
			return
		}
		walk(n.left)
		if n.iv.MayOverlap(t.ord, q) {
			out = append(out, n.idx)
		}
		// starts strictly right of q's end can't overlap
		cs := t.ord(n.iv.Start, q.End)
		if cs < 0 || (cs == 0 && q.IncludesEnd) {
			walk(n.right)
		}
	}
	walk(t.root)
	return out
}
