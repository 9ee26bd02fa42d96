package exec

import (
	"github.com/danthegoodman1/strata/region"
)

type (
	sliceIter struct {
		rvs []region.RegionValue
		i   int
	}

	concatIter struct {
		its []RVIter
		i   int
		err error
	}

	funcIter struct {
		next  func() (region.RegionValue, bool, error)
		close func()
		cur   region.RegionValue
		err   error
		done  bool
	}

	filterIter struct {
		inner RVIter
		pred  func(region.RegionValue) (bool, error)
		err   error
	}
)

func NewSliceIter(rvs []region.RegionValue) RVIter {
	return &sliceIter{rvs: rvs}
}

func (s *sliceIter) Next() bool {
	if s.i >= len(s.rvs) {
		return false
	}
	s.i++
	return true
}

func (s *sliceIter) Value() region.RegionValue { return s.rvs[s.i-1] }
func (s *sliceIter) Err() error                { return nil }
func (s *sliceIter) Close()                    {}

func NewConcatIter(its []RVIter) RVIter {
	return &concatIter{its: its}
}

func (c *concatIter) Next() bool {
	for c.i < len(c.its) {
		if c.its[c.i].Next() {
			return true
		}
		if err := c.its[c.i].Err(); err != nil {
			c.err = err
			return false
		}
		c.its[c.i].Close()
		c.i++
	}
	return false
}

func (c *concatIter) Value() region.RegionValue { return c.its[c.i].Value() }
func (c *concatIter) Err() error                { return c.err }
func (c *concatIter) Close() {
	for ; c.i < len(c.its); c.i++ {
		c.its[c.i].Close()
	}
}

// NewFuncIter adapts a pull function into an RVIter; next returns ok=false
// at end of stream.
func NewFuncIter(next func() (region.RegionValue, bool, error), close func()) RVIter {
	if close == nil {
		close = func() {}
	}
	return &funcIter{next: next, close: close}
}

func (f *funcIter) Next() bool {
	if f.done {
		return false
	}
	rv, ok, err := f.next()
	if err != nil {
		f.err = err
		f.done = true
		return false
	}
	if !ok {
		f.done = true
		return false
	}
	f.cur = rv
	return true
}

func (f *funcIter) Value() region.RegionValue { return f.cur }
func (f *funcIter) Err() error                { return f.err }
func (f *funcIter) Close()                    { f.close() }

// NewFilterIter keeps rows matching pred
func NewFilterIter(inner RVIter, pred func(region.RegionValue) (bool, error)) RVIter {
	return &filterIter{inner: inner, pred: pred}
}

func (f *filterIter) Next() bool {
	if f.err != nil {
		return false
	}
	for f.inner.Next() {
		keep, err := f.pred(f.inner.Value())
		if err != nil {
			f.err = err
			return false
		}
		if keep {
			return true
		}
	}
	return false
}

func (f *filterIter) Value() region.RegionValue { return f.inner.Value() }
func (f *filterIter) Err() error {
	if f.err != nil {
		return f.err
	}
	return f.inner.Err()
}
func (f *filterIter) Close() { f.inner.Close() }
