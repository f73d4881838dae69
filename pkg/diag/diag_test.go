// SPDX-License-Identifier: Unlicense OR MIT

package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/pagetable"
	"github.com/dscoduto/sv39vm/pkg/riscv"
	"github.com/dscoduto/sv39vm/pkg/vma"
)

func TestPrintFormatsMappedLeaves(t *testing.T) {
	arena, err := frame.NewArena(8)
	require.NoError(t, err)
	defer arena.Close()

	root, _ := arena.Alloc()
	data, _ := arena.Alloc()
	require.NoError(t, pagetable.MapPages(arena, arena, root, 0x1000, riscv.PageSize, data, riscv.FlagR|riscv.FlagU))

	var buf bytes.Buffer
	Print(&buf, arena, root, 7, "demo")

	out := buf.String()
	require.Contains(t, out, "pid=7, cmd=demo")
	require.Contains(t, out, "V=1 R=1 W=0 X=0 U=1")
	require.Contains(t, out, "VAs=[0x1000; 0x1fff]")
}

func TestPrintSkipsEmptyPageTable(t *testing.T) {
	arena, err := frame.NewArena(4)
	require.NoError(t, err)
	defer arena.Close()

	root, _ := arena.Alloc()
	var buf bytes.Buffer
	Print(&buf, arena, root, 1, "empty")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
}

func TestPrintVMAsOrdersByStartAddress(t *testing.T) {
	set := vma.NewSet()
	set.Add(&vma.VMA{VABegin: 0x2000, VAEnd: 0x3000, Flags: riscv.FlagR})
	set.Add(&vma.VMA{VABegin: 0x1000, VAEnd: 0x2000, Flags: riscv.FlagR | riscv.FlagW})

	var buf bytes.Buffer
	PrintVMAs(&buf, set)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "0x1000")
	require.Contains(t, lines[1], "0x2000")
}
