package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// OverflowError is the error returned from CheckedMul and CheckedAdd when the result does not fit in a uintptr
var OverflowError error = errors.New("arithmetic overflow")
