// SPDX-License-Identifier: Unlicense OR MIT

package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dscoduto/sv39vm/pkg/riscv"
)

func TestAllocReturnsZeroedPageAlignedFrames(t *testing.T) {
	a, err := NewArena(4)
	require.NoError(t, err)
	defer a.Close()

	pa, ok := a.Alloc()
	require.True(t, ok)
	require.Zero(t, uint64(pa)%riscv.PageSize)

	buf := a.Bytes(pa, riscv.PageSize)
	for _, b := range buf {
		require.Zero(t, b)
	}
}

func TestAllocExhaustion(t *testing.T) {
	a, err := NewArena(2)
	require.NoError(t, err)
	defer a.Close()

	_, ok1 := a.Alloc()
	_, ok2 := a.Alloc()
	_, ok3 := a.Alloc()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestFreeThenReallocate(t *testing.T) {
	a, err := NewArena(1)
	require.NoError(t, err)
	defer a.Close()

	pa, ok := a.Alloc()
	require.True(t, ok)
	a.Free(pa)

	pa2, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, pa, pa2)
}

func TestDoubleFreePanics(t *testing.T) {
	a, err := NewArena(1)
	require.NoError(t, err)
	defer a.Close()

	pa, _ := a.Alloc()
	a.Free(pa)
	require.Panics(t, func() { a.Free(pa) })
}

func TestTableViewIsWritableAndShared(t *testing.T) {
	a, err := NewArena(2)
	require.NoError(t, err)
	defer a.Close()

	pa, _ := a.Alloc()
	tbl := a.Table(pa)
	tbl[3] = riscv.PTE(0xdeadbeef)

	tbl2 := a.Table(pa)
	require.EqualValues(t, 0xdeadbeef, tbl2[3])
}
