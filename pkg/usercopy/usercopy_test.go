// SPDX-License-Identifier: Unlicense OR MIT

package usercopy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/fs"
	"github.com/dscoduto/sv39vm/pkg/proc"
	"github.com/dscoduto/sv39vm/pkg/riscv"
	"github.com/dscoduto/sv39vm/pkg/uvm"
	"github.com/dscoduto/sv39vm/pkg/vma"
)

func newArena(t *testing.T, pages int) *frame.Arena {
	a, err := frame.NewArena(pages)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// TestCopyOutPreFaultsDestination is the copy-out pre-faulting scenario:
// CopyOut succeeds against a VMA that was never explicitly faulted in.
func TestCopyOutPreFaultsDestination(t *testing.T) {
	arena := newArena(t, 8)
	root := uvm.Create(arena)
	p := proc.New(1, root)
	p.VMAs.Add(&vma.VMA{VABegin: 0x1000, VAEnd: 0x3000, Flags: riscv.FlagR | riscv.FlagW})

	err := CopyOut(arena, arena, fs.NewMemFS(), root, p, 0x1000, []byte("hello"))
	require.NoError(t, err)

	var dst [5]byte
	err = CopyIn(arena, arena, fs.NewMemFS(), root, p, dst[:], 0x1000)
	require.NoError(t, err)
	require.Equal(t, "hello", string(dst[:]))
}

// TestCopyOutSpansPageBoundary copies across two pages, exercising the
// per-page chunking loop.
func TestCopyOutSpansPageBoundary(t *testing.T) {
	arena := newArena(t, 8)
	root := uvm.Create(arena)
	p := proc.New(1, root)
	p.VMAs.Add(&vma.VMA{VABegin: 0, VAEnd: 2 * riscv.PageSize, Flags: riscv.FlagR | riscv.FlagW})

	src := make([]byte, 16)
	for i := range src {
		src[i] = byte(i)
	}
	start := riscv.VA(riscv.PageSize - 8)
	require.NoError(t, CopyOut(arena, arena, fs.NewMemFS(), root, p, start, src))

	var dst [16]byte
	require.NoError(t, CopyIn(arena, arena, fs.NewMemFS(), root, p, dst[:], start))
	require.Equal(t, src, dst[:])
}

func TestCopyOutFailsWithoutVMA(t *testing.T) {
	arena := newArena(t, 8)
	root := uvm.Create(arena)
	p := proc.New(1, root)

	err := CopyOut(arena, arena, fs.NewMemFS(), root, p, 0x1000, []byte("x"))
	require.Error(t, err)
}

// TestCopyInStrStopsAtNUL exercises termination on an embedded NUL.
func TestCopyInStrStopsAtNUL(t *testing.T) {
	arena := newArena(t, 8)
	root := uvm.Create(arena)
	p := proc.New(1, root)
	p.VMAs.Add(&vma.VMA{VABegin: 0, VAEnd: riscv.PageSize, Flags: riscv.FlagR | riscv.FlagW})

	require.NoError(t, CopyOut(arena, arena, fs.NewMemFS(), root, p, 0, []byte("hi\x00garbage")))

	dst := make([]byte, 32)
	err := CopyInStr(arena, arena, fs.NewMemFS(), root, p, dst, 0, 32)
	require.NoError(t, err)
	require.Equal(t, byte(0), dst[2])
	require.Equal(t, "hi", string(dst[:2]))
}

func TestCopyInStrUnterminatedWithinMax(t *testing.T) {
	arena := newArena(t, 8)
	root := uvm.Create(arena)
	p := proc.New(1, root)
	p.VMAs.Add(&vma.VMA{VABegin: 0, VAEnd: riscv.PageSize, Flags: riscv.FlagR | riscv.FlagW})

	full := make([]byte, riscv.PageSize)
	for i := range full {
		full[i] = 'a'
	}
	require.NoError(t, CopyOut(arena, arena, fs.NewMemFS(), root, p, 0, full))

	dst := make([]byte, 4)
	err := CopyInStr(arena, arena, fs.NewMemFS(), root, p, dst, 0, 4)
	require.Error(t, err)
}

func TestCopyInStrPanicsOnFileBackedPage(t *testing.T) {
	arena := newArena(t, 8)
	root := uvm.Create(arena)
	p := proc.New(1, root)

	memfs := fs.NewMemFS()
	memfs.Put("/f", []byte("payload\x00"))
	ino, _ := memfs.Lookup("/f")
	p.VMAs.Add(&vma.VMA{VABegin: 0, VAEnd: riscv.PageSize, Flags: riscv.FlagR, File: ino, FileNBytes: 8})

	dst := make([]byte, 32)
	require.Panics(t, func() {
		CopyInStr(arena, arena, memfs, root, p, dst, 0, 32)
	})
}
