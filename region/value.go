package region

type (
	// RegionValue is a (region, offset) handle to a value whose logical type
	// is known contextually.
	RegionValue struct {
		Region *Region
		Offset int64
	}
)

func Value(r *Region, off int64) RegionValue {
	return RegionValue{Region: r, Offset: off}
}
