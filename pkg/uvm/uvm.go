// SPDX-License-Identifier: Unlicense OR MIT

// Package uvm implements the lifecycle of a user address space: creation,
// growth, shrinkage, fork-style duplication and destruction. Grounded
// directly on the original's uvmcreate/uvminit/uvmalloc/uvmdealloc/
// uvmcopy/uvmfree/uvmclear (vm.c:203-353).
package uvm

import (
	"github.com/pkg/errors"

	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/pagetable"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// Create allocates a zeroed root page for a new, empty user page table.
// It panics on allocator failure ("uvmcreate: out of memory", vm.c:210),
// since there is no way to make progress without a root page table.
func Create(alc frame.Allocator) riscv.PA {
	root, ok := alc.Alloc()
	if !ok {
		panic("uvm: uvmcreate: out of memory")
	}
	return root
}

// InitImage loads the first process's initial program image at VA 0.
// sz must be smaller than one page (vm.c:223, "inituvm: more than a
// page").
func InitImage(mem frame.Memory, alc frame.Allocator, root riscv.PA, src []byte, sz int) {
	if sz >= riscv.PageSize {
		panic("uvm: uvminit: more than a page")
	}
	page, ok := alc.Alloc()
	if !ok {
		panic("uvm: uvminit: out of memory")
	}
	perm := riscv.FlagW | riscv.FlagR | riscv.FlagX | riscv.FlagU
	if err := pagetable.MapPages(mem, alc, root, 0, riscv.PageSize, page, perm); err != nil {
		panic(errors.Wrap(err, "uvm: uvminit: map failed"))
	}
	copy(mem.Bytes(page, riscv.PageSize), src[:sz])
}

// Alloc grows the process from oldSz to newSz, allocating and mapping one
// frame at a time starting from round_up(oldSz). On any failure partway
// through, it undoes the frames installed by this call (via Dealloc) and
// returns 0, mirroring vm.c:233-258 exactly, including the "shrinking is
// not this function's job" early return.
func Alloc(mem frame.Memory, alc frame.Allocator, root riscv.PA, oldSz, newSz uint64) uint64 {
	if newSz < oldSz {
		return oldSz
	}
	oldSz = uint64(riscv.RoundUp(riscv.VA(oldSz)))
	perm := riscv.FlagW | riscv.FlagX | riscv.FlagR | riscv.FlagU
	a := oldSz
	for ; a < newSz; a += riscv.PageSize {
		page, ok := alc.Alloc()
		if !ok {
			Dealloc(mem, alc, root, a, oldSz)
			return 0
		}
		if err := pagetable.MapPages(mem, alc, root, riscv.VA(a), riscv.PageSize, page, perm); err != nil {
			alc.Free(page)
			Dealloc(mem, alc, root, a, oldSz)
			return 0
		}
	}
	return newSz
}

// Dealloc shrinks the process from oldSz to newSz, unmapping and freeing
// [round_up(newSz), round_up(oldSz)). newSz need not be less than oldSz;
// if it isn't, oldSz is returned unchanged (vm.c:264-275).
func Dealloc(mem frame.Memory, alc frame.Allocator, root riscv.PA, oldSz, newSz uint64) uint64 {
	if newSz >= oldSz {
		return oldSz
	}
	newUp := uint64(riscv.RoundUp(riscv.VA(newSz)))
	if oldUp := uint64(riscv.RoundUp(riscv.VA(oldSz))); newUp < oldUp {
		pagetable.Unmap(mem, alc, root, riscv.VA(newUp), oldUp-newUp, true)
	}
	return newSz
}

// Copy duplicates the first sz bytes of src into dst: for each valid leaf
// PTE present under a VA < sz, it allocates a fresh frame, copies the
// contents and maps it into dst with the same flags. Absent source PTEs
// are skipped silently, supporting sparse address spaces. On failure,
// whatever was already installed into dst is unmapped and freed
// (vm.c:312-340).
func Copy(mem frame.Memory, alc frame.Allocator, src, dst riscv.PA, sz uint64) error {
	var i uint64
	for i = 0; i < sz; i += riscv.PageSize {
		pte := pagetable.Walk(mem, nil, src, riscv.VA(i), false)
		if pte == nil || !riscv.IsValid(*pte) {
			continue
		}
		flags := riscv.Flags(*pte)
		pa := riscv.PTE2PA(*pte)

		page, ok := alc.Alloc()
		if !ok {
			pagetable.Unmap(mem, alc, dst, 0, i, true)
			return errors.New("uvm: uvmcopy: out of memory")
		}
		copy(mem.Bytes(page, riscv.PageSize), mem.Bytes(pa, riscv.PageSize))
		if err := pagetable.MapPages(mem, alc, dst, riscv.VA(i), riscv.PageSize, page, flags); err != nil {
			alc.Free(page)
			pagetable.Unmap(mem, alc, dst, 0, i, true)
			return errors.Wrap(err, "uvm: uvmcopy: map failed")
		}
	}
	return nil
}

// Free unmaps and frees [0, sz), then recursively frees every page-table
// page reachable from root (vm.c:299-304).
func Free(mem frame.Memory, alc frame.Allocator, root riscv.PA, sz uint64) {
	pagetable.Unmap(mem, alc, root, 0, sz, true)
	pagetable.FreeWalk(mem, alc, root)
}

// Clear strips U from the leaf PTE at va, forming a user-inaccessible
// guard page (e.g. below the user stack). It panics if no PTE exists at
// va (vm.c:349-351, "uvmclear").
func Clear(mem frame.Memory, root riscv.PA, va riscv.VA) {
	pte := pagetable.Walk(mem, nil, root, va, false)
	if pte == nil {
		panic("uvm: uvmclear: no such mapping")
	}
	*pte &^= riscv.PTE(riscv.FlagU)
}
