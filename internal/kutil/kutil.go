// Package kutil holds small generic numeric helpers shared by the memory and
// file-system layers, adapted from biscuit's util package
// (biscuit/src/util/util.go), which defines the same Min/Rounddown/Roundup
// trio over a generic integer constraint for exactly this purpose.
package kutil

// Int is satisfied by all built-in integer types, matching util.Int in the
// teacher package.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// RoundDown aligns v down to the nearest multiple of b.
func RoundDown[T Int](v, b T) T {
	return v - (v % b)
}

// RoundUp aligns v up to the nearest multiple of b.
func RoundUp[T Int](v, b T) T {
	return RoundDown(v+b-1, b)
}

// IsPowerOfTwo reports whether v is a power of two (v > 0).
func IsPowerOfTwo[T Int](v T) bool {
	return v > 0 && v&(v-1) == 0
}

// CeilDiv returns ceil(a/b) for positive a, b.
func CeilDiv[T Int](a, b T) T {
	return (a + b - 1) / b
}
