// SPDX-License-Identifier: Unlicense OR MIT

// Package pagetable implements the three-level Sv39 page-table walker and
// the mapper built on top of it. Every other component, including the
// kernel and user address-space lifecycle, the fault resolver and safe
// user copy, funnels through the functions in this package.
package pagetable

import (
	"fmt"

	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// Walk descends from level 2 to level 0 and returns a pointer to the
// level-0 PTE for va within root, or nil.
//
// At each interior level: if the indexed PTE is valid, follow it; else, if
// alloc is true, install a freshly zeroed page-table page and continue;
// otherwise return nil. Grounded on the original's walk() (vm.c:78-96) and
// lookupOrCreatePageTable in kernel/memory_amd64.go:653-665.
//
// va >= riscv.MaxVA always returns nil, unconditionally of alloc. This is
// "not mapped", not a panic, so a syscall with a bogus pointer fails
// cleanly.
func Walk(mem frame.Memory, alloc frame.Allocator, root riscv.PA, va riscv.VA, doAlloc bool) *riscv.PTE {
	if uint64(va) >= riscv.MaxVA {
		return nil
	}
	table := root
	for level := 2; level > 0; level-- {
		idx := riscv.PX(level, va)
		pte := &mem.Table(table)[idx]
		if riscv.IsValid(*pte) {
			table = riscv.PTE2PA(*pte)
			continue
		}
		if !doAlloc {
			return nil
		}
		child, ok := alloc.Alloc()
		if !ok {
			return nil
		}
		*pte = riscv.PA2PTE(child) | riscv.PTE(riscv.FlagV)
		table = child
	}
	idx := riscv.PX(0, va)
	return &mem.Table(table)[idx]
}

// WalkAddr translates a user virtual address to a physical address. It
// requires both V and U on the leaf PTE and returns 0 otherwise;
// callers must never use this to translate kernel-only pages.
func WalkAddr(mem frame.Memory, root riscv.PA, va riscv.VA) riscv.PA {
	if uint64(va) >= riscv.MaxVA {
		return 0
	}
	pte := Walk(mem, nil, root, va, false)
	if pte == nil || !riscv.IsValid(*pte) {
		return 0
	}
	if riscv.Flags(*pte)&riscv.FlagU == 0 {
		return 0
	}
	return riscv.PTE2PA(*pte) + riscv.PA(riscv.PageOffset(va))
}

// remapPanic reports installing a mapping over an already-valid leaf.
func remapPanic(va riscv.VA) {
	panic(fmt.Sprintf("pagetable: remap at va=%#x", va))
}
