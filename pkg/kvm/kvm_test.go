// SPDX-License-Identifier: Unlicense OR MIT

package kvm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dscoduto/sv39vm/internal/config"
	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/pagetable"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

type fakeHart struct {
	root  riscv.PA
	fence int
}

func (f *fakeHart) LoadRoot(root riscv.PA) { f.root = root }
func (f *fakeHart) Fence()                 { f.fence++ }

func newArena(t *testing.T, pages int) *frame.Arena {
	a, err := frame.NewArena(pages)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestInitBuildsExpectedMappings(t *testing.T) {
	arena := newArena(t, 4096)
	mm := config.Default()
	trampoline, ok := arena.Alloc()
	require.True(t, ok)

	s := Init(arena, arena, mm, trampoline)

	pte := pagetable.Walk(arena, nil, s.Root, riscv.VA(mm.UART0), false)
	require.NotNil(t, pte)
	require.True(t, riscv.IsValid(*pte))

	tpte := pagetable.Walk(arena, nil, s.Root, riscv.VA(config.Trampoline), false)
	require.NotNil(t, tpte)
	require.Equal(t, trampoline, riscv.PTE2PA(*tpte))
}

func TestInitHartProgramsRootAndFences(t *testing.T) {
	arena := newArena(t, 4096)
	mm := config.Default()
	trampoline, _ := arena.Alloc()
	s := Init(arena, arena, mm, trampoline)

	h := &fakeHart{}
	InitHart(h, s)

	require.Equal(t, s.Root, h.root)
	require.Equal(t, 1, h.fence)
}

func TestPAWalksKernelTable(t *testing.T) {
	arena := newArena(t, 4096)
	mm := config.Default()
	trampoline, _ := arena.Alloc()
	s := Init(arena, arena, mm, trampoline)

	pa := s.PA(riscv.VA(mm.KernBase) + 0x123)
	require.EqualValues(t, mm.KernBase+0x123, pa)
}

func TestPAPanicsOnUnmapped(t *testing.T) {
	arena := newArena(t, 4096)
	mm := config.Default()
	trampoline, _ := arena.Alloc()
	s := Init(arena, arena, mm, trampoline)

	require.Panics(t, func() { s.PA(0x1) })
}
