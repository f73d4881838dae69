// SPDX-License-Identifier: Unlicense OR MIT

package pagetable

import (
	"fmt"

	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// MapPages installs leaf mappings for the page range covering
// [va, va+size) at consecutive physical addresses starting at pa, with the
// given permission bits. va and va+size-1 are rounded down to page
// boundaries first, matching the original's PGROUNDDOWN(va) /
// PGROUNDDOWN(va+size-1) (vm.c:161-162).
//
// Installing over an already-valid leaf panics ("remap"). The caller is
// expected to Unmap first.
func MapPages(mem frame.Memory, alloc frame.Allocator, root riscv.PA, va riscv.VA, size uint64, pa riscv.PA, perm riscv.Perm) error {
	if size == 0 {
		return fmt.Errorf("pagetable: MapPages: zero size")
	}
	a := riscv.RoundDown(va)
	last := riscv.RoundDown(va + riscv.VA(size) - 1)
	for {
		pte := Walk(mem, alloc, root, a, true)
		if pte == nil {
			return fmt.Errorf("pagetable: MapPages: walk failed at va=%#x", a)
		}
		if riscv.IsValid(*pte) {
			remapPanic(a)
		}
		*pte = riscv.WithPerm(pa, perm)
		if a == last {
			break
		}
		a += riscv.PageSize
		pa += riscv.PageSize
	}
	return nil
}

// Unmap removes the mappings covering [va, va+size). Unmapped addresses in
// the range are skipped silently. If doFree is true, the underlying frame
// of each valid leaf is returned to alloc. An interior PTE encountered
// where a leaf is expected (flags == V exactly) is a fatal caller error,
// since bad bounds were passed (vm.c:194-195, "uvmunmap: not a leaf").
func Unmap(mem frame.Memory, alloc frame.Allocator, root riscv.PA, va riscv.VA, size uint64, doFree bool) {
	if size == 0 {
		return
	}
	a := riscv.RoundDown(va)
	last := riscv.RoundDown(va + riscv.VA(size) - 1)
	for ; a <= last; a += riscv.PageSize {
		pte := Walk(mem, nil, root, a, false)
		if pte == nil {
			continue
		}
		if !riscv.IsValid(*pte) {
			continue
		}
		if riscv.Flags(*pte) == riscv.FlagV {
			panic(fmt.Sprintf("pagetable: unmap: not a leaf at va=%#x", a))
		}
		if doFree {
			alloc.Free(riscv.PTE2PA(*pte))
		}
		*pte = 0
	}
}

// FreeWalk recursively frees every page-table page reachable from root.
// Precondition: every leaf has already been unmapped (typically via
// Unmap(..., doFree=true) over the full address range). Any entry still
// flagged as a leaf is fatal ("freewalk: leaf", vm.c:290-292).
func FreeWalk(mem frame.Memory, alloc frame.Allocator, root riscv.PA) {
	table := mem.Table(root)
	for i := 0; i < riscv.PTEsPerPage; i++ {
		pte := table[i]
		if !riscv.IsValid(pte) {
			continue
		}
		if riscv.Flags(pte)&riscv.RWX != 0 {
			panic("pagetable: freewalk: leaf")
		}
		FreeWalk(mem, alloc, riscv.PTE2PA(pte))
		table[i] = 0
	}
	alloc.Free(root)
}
