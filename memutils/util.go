package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that sizes and alignments may be expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns a wrapped PowerOfTwoError if number is zero or not a power of two.
// The name parameter is used to identify the offending value in the error message.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// IsPow2 reports whether number is a non-zero power of two
func IsPow2[T Number](number T) bool {
	return number > 0 && number&(number-1) == 0
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// AlignUpPtr is AlignUp for address-sized values. It wraps on overflow, so callers
// that accept arbitrary sizes should use CheckedAlignUp instead.
func AlignUpPtr(value, alignment uintptr) uintptr {
	return (value + alignment - 1) &^ (alignment - 1)
}

// CheckedMul multiplies two sizes, returning OverflowError if the product does not fit in a uintptr
func CheckedMul(a, b uintptr) (uintptr, error) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || uint64(uintptr(lo)) != lo {
		return 0, cerrors.Wrapf(OverflowError, "%d * %d", a, b)
	}
	return uintptr(lo), nil
}

// CheckedAdd adds two sizes, returning OverflowError if the sum does not fit in a uintptr
func CheckedAdd(a, b uintptr) (uintptr, error) {
	sum := a + b
	if sum < a {
		return 0, cerrors.Wrapf(OverflowError, "%d + %d", a, b)
	}
	return sum, nil
}

// CheckedAlignUp aligns value up to alignment (which must be a power of two), returning
// OverflowError if the aligned value does not fit in a uintptr
func CheckedAlignUp(value, alignment uintptr) (uintptr, error) {
	padded, err := CheckedAdd(value, alignment-1)
	if err != nil {
		return 0, err
	}
	return padded &^ (alignment - 1), nil
}
