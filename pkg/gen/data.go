package gen

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

type Float interface {
	~float32 | ~float64
}

type Ordered interface {
	Integer | Float | ~string
}

// DeleteFromSliceUnordered removes element i by moving the last element into its place.
// The order of the remaining elements is not preserved.
func DeleteFromSliceUnordered[T any](s []T, i int) []T {
	last := len(s) - 1
	s[i] = s[last]
	var zero T
	s[last] = zero
	return s[:last]
}

// Clamp returns v, limited to the range [lo, hi]
func Clamp[T Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
