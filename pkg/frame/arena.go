// SPDX-License-Identifier: Unlicense OR MIT

// Package frame implements the physical frame allocator the virtual memory
// subsystem consumes as an external collaborator. The subsystem itself
// only depends on the Allocator and Memory interfaces; Arena is a
// concrete, page-aligned, zero-capable implementation used by the CLI and
// by tests, grounded on the bitmap allocator in kernel/memory_amd64.go's
// `memory` type but backed by an anonymous mmap arena via
// golang.org/x/sys/unix instead of raw physical memory, since this module
// runs hosted rather than in supervisor mode.
package frame

import (
	"math/bits"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// Allocator is the frame-allocator capability the VM subsystem consumes.
// Alloc returns a page-aligned, zeroed frame, or ok=false if exhausted.
type Allocator interface {
	Alloc() (pa riscv.PA, ok bool)
	Free(pa riscv.PA)
}

// Memory gives the subsystem read/write access to the bytes backing a
// physical frame, including interpreting it as a page-table page. Every PA
// passed in must be page-aligned and previously returned by an Allocator
// (or, for kernel identity maps, a device/RAM address registered with an
// Arena covering the whole physical range).
type Memory interface {
	// Table interprets the frame at pa as an Sv39 page-table page.
	Table(pa riscv.PA) *Table
	// Bytes returns the n bytes starting at pa, which must lie within a
	// single frame plus n <= PageSize.
	Bytes(pa riscv.PA, n int) []byte
}

// Table is the in-memory view of one Sv39 page-table page: 512 PTEs.
type Table [riscv.PTEsPerPage]riscv.PTE

// Arena is a bitmap-tracked pool of fixed-size frames carved out of a
// single anonymous mmap region. It implements Allocator and Memory.
//
// The bitmap scheme (one bit per page, 1 == free) and the linear scan for
// the next free page mirror memory.bits/nextFreePage/mark in
// kernel/memory_amd64.go, adapted from UEFI-descriptor-driven
// initialization to a fixed-size arena sized at construction time.
type Arena struct {
	mu    sync.Mutex
	base  riscv.PA
	pages int
	bits  []uint64 // one bit per page; 1 = free
	word  int       // round-robin search cursor, mirrors memory.word
	mem   []byte
}

// NewArena allocates an anonymous mmap region holding npages frames and
// returns an Arena managing it. The returned frames' PAs are byte offsets
// into that region (base is always 0): there is no real physical address
// space to identity-map against in a hosted process.
func NewArena(npages int) (*Arena, error) {
	if npages <= 0 {
		npages = 1
	}
	size := npages * riscv.PageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	nwords := (npages + 63) / 64
	a := &Arena{
		pages: npages,
		bits:  make([]uint64, nwords),
		mem:   mem,
	}
	for i := range a.bits {
		a.bits[i] = ^uint64(0)
	}
	// Clear any bits beyond npages in the last word.
	if rem := npages % 64; rem != 0 {
		a.bits[nwords-1] = (uint64(1)<<uint(rem) - 1) << (64 - uint(rem))
	}
	return a, nil
}

// Close releases the arena's backing mmap region.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Alloc returns a fresh zeroed page-aligned frame, or ok=false if the
// arena is exhausted.
func (a *Arena) Alloc() (riscv.PA, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.nextFreePage()
	if !ok {
		return 0, false
	}
	a.markUsed(idx)
	pa := a.base + riscv.PA(idx*riscv.PageSize)
	buf := a.slice(pa, riscv.PageSize)
	for i := range buf {
		buf[i] = 0
	}
	return pa, true
}

// Free returns a previously allocated frame to the pool.
func (a *Arena) Free(pa riscv.PA) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := int((pa - a.base) / riscv.PageSize)
	word, bit := idx/64, uint(idx%64)
	mask := uint64(1) << (63 - bit)
	if a.bits[word]&mask != 0 {
		panic("frame: double free")
	}
	a.bits[word] |= mask
}

// Table implements Memory.
func (a *Arena) Table(pa riscv.PA) *Table {
	buf := a.slice(pa, riscv.PageSize)
	return (*Table)(pointerToTable(buf))
}

// Bytes implements Memory.
func (a *Arena) Bytes(pa riscv.PA, n int) []byte {
	return a.slice(pa, n)
}

func (a *Arena) slice(pa riscv.PA, n int) []byte {
	off := int(pa - a.base)
	return a.mem[off : off+n]
}

// nextFreePage mirrors memory_amd64.go's round-robin bitmap scan.
func (a *Arena) nextFreePage() (int, bool) {
	for i := 0; i < len(a.bits); i++ {
		idx := (i + a.word) % len(a.bits)
		w := a.bits[idx]
		b := bits.LeadingZeros64(w)
		if b == 64 {
			continue
		}
		a.word = idx
		return idx*64 + b, true
	}
	return 0, false
}

func (a *Arena) markUsed(idx int) {
	word, bit := idx/64, uint(idx%64)
	mask := uint64(1) << (63 - bit)
	a.bits[word] &^= mask
}
