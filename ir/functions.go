package ir

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
)

type (
	// fnImpl is a registered user function. Strict: the routine is only
	// invoked when every argument is defined; a missing argument makes the
	// call missing.
	fnImpl struct {
		Name     string
		ArgTypes []types.Type
		RetType  types.Type
		Impl     func(r *region.Region, args []uint64) (uint64, error)
	}
)

var (
	fnMu       sync.RWMutex
	fnRegistry = map[string][]*fnImpl{}
	// fnCache memoizes resolved impls per call-site signature
	fnCache = map[string]*fnImpl{}
)

// RegisterFn adds a function implementation to the registry, keyed by name
// and declared argument types.
func RegisterFn(name string, argTypes []types.Type, retType types.Type,
	impl func(r *region.Region, args []uint64) (uint64, error)) {
	fnMu.Lock()
	defer fnMu.Unlock()
	fnRegistry[name] = append(fnRegistry[name], &fnImpl{
		Name:     name,
		ArgTypes: argTypes,
		RetType:  retType,
		Impl:     impl,
	})
}

func fnSignature(name string, argTypes []types.Type) string {
	s := name + "("
	for i, t := range argTypes {
		if i > 0 {
			s += ","
		}
		s += t.SetRequired(false).String()
	}
	return s + ")"
}

// lookupFn resolves a function by unifying declared argument types against
// the actual ones; resolutions are memoized by call signature.
func lookupFn(name string, argTypes []types.Type) (*fnImpl, error) {
	sig := fnSignature(name, argTypes)
	fnMu.RLock()
	if impl, ok := fnCache[sig]; ok {
		fnMu.RUnlock()
		return impl, nil
	}
	impls := fnRegistry[name]
	fnMu.RUnlock()
	for _, impl := range impls {
		if len(impl.ArgTypes) != len(argTypes) {
			continue
		}
		ok := true
		for i, dt := range impl.ArgTypes {
			if !types.Same(dt.SetRequired(false), argTypes[i].SetRequired(false)) {
				ok = false
				break
			}
		}
		if ok {
			fnMu.Lock()
			fnCache[sig] = impl
			fnMu.Unlock()
			return impl, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, sig)
}

func init() {
	i32 := types.TInt32{}
	i64 := types.TInt64{}
	f64 := types.TFloat64{}
	str := types.TString{}

	RegisterFn("abs", []types.Type{i32}, i32, func(_ *region.Region, args []uint64) (uint64, error) {
		v := int32(args[0])
		if v < 0 {
			v = -v
		}
		return uint64(int64(v)), nil
	})
	RegisterFn("abs", []types.Type{i64}, i64, func(_ *region.Region, args []uint64) (uint64, error) {
		v := int64(args[0])
		if v < 0 {
			v = -v
		}
		return uint64(v), nil
	})
	RegisterFn("abs", []types.Type{f64}, f64, func(_ *region.Region, args []uint64) (uint64, error) {
		return math.Float64bits(math.Abs(math.Float64frombits(args[0]))), nil
	})
	RegisterFn("min", []types.Type{i32, i32}, i32, func(_ *region.Region, args []uint64) (uint64, error) {
		a, b := int32(args[0]), int32(args[1])
		if b < a {
			a = b
		}
		return uint64(int64(a)), nil
	})
	RegisterFn("max", []types.Type{i32, i32}, i32, func(_ *region.Region, args []uint64) (uint64, error) {
		a, b := int32(args[0]), int32(args[1])
		if b > a {
			a = b
		}
		return uint64(int64(a)), nil
	})
	RegisterFn("min", []types.Type{f64, f64}, f64, func(_ *region.Region, args []uint64) (uint64, error) {
		return math.Float64bits(math.Min(math.Float64frombits(args[0]), math.Float64frombits(args[1]))), nil
	})
	RegisterFn("max", []types.Type{f64, f64}, f64, func(_ *region.Region, args []uint64) (uint64, error) {
		return math.Float64bits(math.Max(math.Float64frombits(args[0]), math.Float64frombits(args[1]))), nil
	})
	RegisterFn("str", []types.Type{i32}, str, func(r *region.Region, args []uint64) (uint64, error) {
		s := strconv.FormatInt(int64(int32(args[0])), 10)
		boff := r.Allocate(4, 4+int64(len(s)))
		r.StoreInt32(boff, int32(len(s)))
		r.StoreBytes(boff+4, []byte(s))
		return uint64(boff), nil
	})
	RegisterFn("len", []types.Type{str}, i32, func(r *region.Region, args []uint64) (uint64, error) {
		return uint64(int64(r.LoadInt32(int64(args[0])))), nil
	})
}
