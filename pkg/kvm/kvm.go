// SPDX-License-Identifier: Unlicense OR MIT

// Package kvm builds and activates the kernel's own address space: a
// boot-time direct map for devices and the kernel image, plus the
// trampoline page every address space shares at the same high virtual
// address. Grounded on the original's kvminit/kvminithart/kvmmap/kvmpa
// (vm.c:25-149) and identity-mapping helpers in kernel/memory_amd64.go:282-339.
package kvm

import (
	"fmt"

	"github.com/dscoduto/sv39vm/internal/config"
	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/pagetable"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// Hart abstracts the hardware register a real trap-entry stub would
// program: the root page-table register (satp) and the local TLB fence
// instruction. Real trap/boot code (out of scope) supplies a concrete
// implementation; tests use a fake that just records calls.
type Hart interface {
	LoadRoot(root riscv.PA)
	Fence()
}

// Space is the kernel's address space: a single root page table, built
// once at boot and never destroyed.
type Space struct {
	Root riscv.PA
	mem  frame.Memory
	alc  frame.Allocator
}

// Init builds the kernel direct map: UART, the two VirtIO MMIO pages,
// CLINT, PLIC, kernel text (R|X), kernel data plus usable RAM (R|W), and
// the trampoline page (R|X) at the top of the address space. It panics on
// any allocation or mapping failure, since kvmmap and kalloc failures at
// boot are unrecoverable.
func Init(alc frame.Allocator, mem frame.Memory, mm config.MemMap, trampolinePA riscv.PA) *Space {
	root, ok := alc.Alloc()
	if !ok {
		panic("kvm: out of memory building kernel page table")
	}
	s := &Space{Root: root, mem: mem, alc: alc}

	s.mapOrPanic(riscv.VA(mm.UART0), riscv.PA(mm.UART0), riscv.PageSize, riscv.FlagR|riscv.FlagW)
	s.mapOrPanic(riscv.VA(mm.VirtIO0), riscv.PA(mm.VirtIO0), riscv.PageSize, riscv.FlagR|riscv.FlagW)
	s.mapOrPanic(riscv.VA(mm.VirtIO1), riscv.PA(mm.VirtIO1), riscv.PageSize, riscv.FlagR|riscv.FlagW)
	s.mapOrPanic(riscv.VA(mm.CLINT), riscv.PA(mm.CLINT), config.CLINTSize, riscv.FlagR|riscv.FlagW)
	s.mapOrPanic(riscv.VA(mm.PLIC), riscv.PA(mm.PLIC), config.PLICSize, riscv.FlagR|riscv.FlagW)
	s.mapOrPanic(riscv.VA(mm.KernBase), riscv.PA(mm.KernBase), mm.Etext-mm.KernBase, riscv.FlagR|riscv.FlagX)
	s.mapOrPanic(riscv.VA(mm.Etext), riscv.PA(mm.Etext), mm.PhysTop-mm.Etext, riscv.FlagR|riscv.FlagW)
	s.mapOrPanic(riscv.VA(config.Trampoline), trampolinePA, riscv.PageSize, riscv.FlagR|riscv.FlagX)

	return s
}

func (s *Space) mapOrPanic(va riscv.VA, pa riscv.PA, size uint64, perm riscv.Perm) {
	if size == 0 {
		return
	}
	if err := pagetable.MapPages(s.mem, s.alc, s.Root, va, size, pa, perm); err != nil {
		panic(fmt.Sprintf("kvm: kvmmap failed for va=%#x: %v", va, err))
	}
}

// InitHart writes the hardware root register with the kernel root and
// issues a local TLB fence. There is no cross-hart coordination: each
// hart calls this independently.
func InitHart(h Hart, s *Space) {
	h.LoadRoot(s.Root)
	h.Fence()
}

// Map installs a boot-time mapping directly, panicking on failure. It is
// only ever called before the kernel address space is activated.
func (s *Space) Map(va riscv.VA, pa riscv.PA, size uint64, perm riscv.Perm) {
	s.mapOrPanic(va, pa, size, perm)
}

// PA translates a page-aligned kernel virtual address (used for
// kernel-stack mappings) by walking the kernel table. It panics if the
// address isn't mapped, matching kvmpa's panic-on-miss contract
// (vm.c:136-149) since a missing kernel-stack mapping is a boot-time
// programming error, not a recoverable condition.
func (s *Space) PA(va riscv.VA) riscv.PA {
	off := riscv.PA(uint64(va) % riscv.PageSize)
	pte := pagetable.Walk(s.mem, nil, s.Root, va, false)
	if pte == nil || !riscv.IsValid(*pte) {
		panic(fmt.Sprintf("kvm: kvmpa: unmapped va=%#x", va))
	}
	return riscv.PTE2PA(*pte) + off
}
