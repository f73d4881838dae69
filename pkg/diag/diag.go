// SPDX-License-Identifier: Unlicense OR MIT

// Package diag implements the page-table pretty-printer, grounded on the
// original's vmprint (vm.c:573-602) and the recursive dumpPageTable in
// kernel/debug.go:71-120.
package diag

import (
	"fmt"
	"io"

	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/riscv"
	"github.com/dscoduto/sv39vm/pkg/vma"
)

// Print writes a three-level textual dump of the page table rooted at
// root to w: for each non-zero level-2 entry, its index; under it, each
// non-zero level-1 entry's index; under that, each non-zero leaf's index,
// flag bits and the inclusive VA range it covers.
func Print(w io.Writer, mem frame.Memory, root riscv.PA, pid int, cmd string) {
	fmt.Fprintf(w, "page table for pid=%d, cmd=%s, @%#x\n", pid, cmd, root)
	l2 := mem.Table(root)
	for i, pgd := range l2 {
		if pgd == 0 {
			continue
		}
		fmt.Fprintf(w, "..%#x:\n", i)
		l1 := mem.Table(riscv.PTE2PA(pgd))
		for j, pmd := range l1 {
			if pmd == 0 {
				continue
			}
			fmt.Fprintf(w, ".. ..%#x:\n", j)
			l0 := mem.Table(riscv.PTE2PA(pmd))
			for k, pte := range l0 {
				if pte == 0 {
					continue
				}
				start := ((((i << 9) + j) << 9) + k) << 12
				end := start + riscv.PageSize - 1
				flags := riscv.Flags(pte)
				fmt.Fprintf(w, ".. .. ..%#x:\tV=%d R=%d W=%d X=%d U=%d VAs=[%#x; %#x]\n",
					k,
					b2i(flags&riscv.FlagV != 0),
					b2i(flags&riscv.FlagR != 0),
					b2i(flags&riscv.FlagW != 0),
					b2i(flags&riscv.FlagX != 0),
					b2i(flags&riscv.FlagU != 0),
					start, end)
			}
		}
	}
}

// PrintVMAs writes one line per VMA in set, ordered by starting address,
// for pairing with Print when diagnosing a fault.
func PrintVMAs(w io.Writer, set *vma.Set) {
	set.Lock.Lock()
	ranges := set.Snapshot()
	set.Lock.Unlock()

	for _, v := range ranges {
		kind := "anon"
		if v.File != nil {
			kind = "file"
		}
		fmt.Fprintf(w, "vma [%#x; %#x) %s R=%d W=%d X=%d\n",
			v.VABegin, v.VAEnd, kind,
			b2i(v.Flags&riscv.FlagR != 0),
			b2i(v.Flags&riscv.FlagW != 0),
			b2i(v.Flags&riscv.FlagX != 0))
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
