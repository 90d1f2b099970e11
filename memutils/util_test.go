package memutils_test

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostalloc/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(uint(4096), "page"))

	err := memutils.CheckPow2(0, "zero")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	err = memutils.CheckPow2(uintptr(24), "alignment")
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.Contains(t, err.Error(), "alignment is 24")
}

func TestIsPow2(t *testing.T) {
	require.True(t, memutils.IsPow2(uintptr(1)))
	require.True(t, memutils.IsPow2(64))
	require.False(t, memutils.IsPow2(0))
	require.False(t, memutils.IsPow2(-8))
	require.False(t, memutils.IsPow2(uint32(12)))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 16))
	require.Equal(t, 16, memutils.AlignUp(1, 16))
	require.Equal(t, 32, memutils.AlignUp(32, 16))
	require.Equal(t, 32, memutils.AlignDown(47, 16))
	require.Equal(t, uintptr(4096), memutils.AlignUpPtr(10, 4096))
}

func TestCheckedMul(t *testing.T) {
	product, err := memutils.CheckedMul(1<<10, 1<<10)
	require.NoError(t, err)
	require.Equal(t, uintptr(1<<20), product)

	_, err = memutils.CheckedMul(math.MaxUint>>1, 3)
	require.ErrorIs(t, err, memutils.OverflowError)

	product, err = memutils.CheckedMul(math.MaxUint, 0)
	require.NoError(t, err)
	require.Equal(t, uintptr(0), product)
}

func TestCheckedAdd(t *testing.T) {
	_, err := memutils.CheckedAdd(math.MaxUint, 1)
	require.ErrorIs(t, err, memutils.OverflowError)

	_, err = memutils.CheckedAlignUp(math.MaxUint-2, 16)
	require.ErrorIs(t, err, memutils.OverflowError)

	aligned, err := memutils.CheckedAlignUp(17, 16)
	require.NoError(t, err)
	require.Equal(t, uintptr(32), aligned)
}
