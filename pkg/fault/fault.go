// SPDX-License-Identifier: Unlicense OR MIT

// Package fault implements the demand-paging fault resolver:
// resolving a faulting (addr, cause) tuple against a process's VMA set,
// checking permissions, allocating a frame, installing the mapping and
// optionally filling it from a file. Grounded on the original's
// do_allocate/do_allocate_range (vm.c:380-462).
package fault

import (
	"github.com/sirupsen/logrus"

	"github.com/dscoduto/sv39vm/pkg/fs"
	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/pagetable"
	"github.com/dscoduto/sv39vm/pkg/proc"
	"github.com/dscoduto/sv39vm/pkg/riscv"
	"github.com/dscoduto/sv39vm/pkg/vma"
)

// Code is the closed set of outcomes resolve_fault can produce, a named
// type standing in for a closed sum type rather than raw integers; the
// trap handler is expected to switch over it exhaustively.
type Code int

const (
	// OK means the fault was resolved (or was already spuriously
	// resolved by a stale TLB entry).
	OK Code = iota
	// ENOVMA means no VMA covers the faulting address.
	ENOVMA
	// EBADPERM means the VMA (or existing mapping) doesn't permit the
	// faulting access.
	EBADPERM
	// ENOMEM means the frame allocator is exhausted, or returned a
	// non-page-aligned frame.
	ENOMEM
	// EMAPFAILED means map_pages itself failed after a frame was
	// allocated.
	EMAPFAILED
	// ENOFILE means the file-backed fill read failed. The leaf PTE
	// remains installed, pointing at a freed frame, so callers must
	// Unmap before retrying.
	ENOFILE
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case ENOVMA:
		return "ENOVMA"
	case EBADPERM:
		return "EBADPERM"
	case ENOMEM:
		return "ENOMEM"
	case EMAPFAILED:
		return "EMAPFAILED"
	case ENOFILE:
		return "ENOFILE"
	default:
		return "unknown fault code"
	}
}

// Error implements error so Code can be returned and compared through
// ordinary Go error-handling idioms when convenient; callers wanting an
// exhaustive switch should compare Code values directly instead.
func (c Code) Error() string { return c.String() }

// Log is the structured logger used for recoverable, non-panic
// conditions the resolver hits.
var Log = logrus.New()

// Resolve resolves a single faulting page. root is the process's user
// page table, p its handle (VMA registry). cause is the access that
// faulted (riscv.FlagR, FlagW or FlagX, exactly one bit).
//
// Preconditions: p.VMAs.Lock is held by the caller before calling Resolve,
// and is expected to still be held (possibly briefly released and
// reacquired internally around a file read) when Resolve returns.
func Resolve(mem frame.Memory, alc frame.Allocator, filesystem fs.FS, root riscv.PA, p *proc.Process, addr riscv.VA, cause riscv.Perm) Code {
	page := riscv.RoundDown(addr)
	v, hasVMA := p.VMAs.Lookup(page)
	pte := pagetable.Walk(mem, nil, root, page, false)

	if pte != nil && riscv.IsValid(*pte) {
		return resolveAlreadyMapped(v, hasVMA, *pte, cause)
	}
	return resolveUnmapped(mem, alc, filesystem, root, p, page, v, hasVMA, cause)
}

// resolveAlreadyMapped handles the case where a leaf PTE already exists
// for the faulting page (vm.c:432-447): a spurious fault, most likely a
// stale TLB entry, unless the VMA disagrees with the existing mapping.
func resolveAlreadyMapped(v vma.VMA, hasVMA bool, pte riscv.PTE, cause riscv.Perm) Code {
	if !hasVMA {
		return ENOVMA
	}
	if v.Flags != 0 && !v.Flags.Any(cause) {
		return EBADPERM
	}
	if riscv.Flags(pte)&riscv.FlagU == 0 {
		return EBADPERM
	}
	return OK
}

// resolveUnmapped handles the demand-paging path (vm.c:387-429): permission
// check, frame allocation, mapping install, optional file fill.
func resolveUnmapped(mem frame.Memory, alc frame.Allocator, filesystem fs.FS, root riscv.PA, p *proc.Process, page riscv.VA, v vma.VMA, hasVMA bool, cause riscv.Perm) Code {
	if !hasVMA {
		return ENOVMA
	}
	if !v.Flags.Any(cause) {
		return EBADPERM
	}

	pa, ok := alc.Alloc()
	if !ok {
		return ENOMEM
	}
	if uint64(pa)%riscv.PageSize != 0 {
		alc.Free(pa)
		return ENOMEM
	}

	perm := riscv.FlagU
	if v.Flags.Any(riscv.FlagR) {
		perm |= riscv.FlagR
	}
	if v.Flags.Any(riscv.FlagW) {
		perm |= riscv.FlagW
	}
	if v.Flags.Any(riscv.FlagX) {
		perm |= riscv.FlagX
	}

	if err := pagetable.MapPages(mem, alc, root, page, riscv.PageSize, pa, perm); err != nil {
		alc.Free(pa)
		return EMAPFAILED
	}

	if v.File == nil {
		return OK
	}
	code := fillFromFile(mem, filesystem, p, page, v, pa)
	if code == ENOFILE {
		alc.Free(pa)
	}
	return code
}

// fillFromFile reads the file-backed portion of the page, releasing the
// VMA lock around the potentially blocking read and reacquiring it
// before returning: the lock must not be held across file I/O.
func fillFromFile(mem frame.Memory, filesystem fs.FS, p *proc.Process, page riscv.VA, v vma.VMA, pa riscv.PA) Code {
	fileOffsetOfPage := v.FileOffset + uint64(page-v.VABegin)
	if fileOffsetOfPage >= v.FileOffset+v.FileNBytes {
		// BSS-like tail: the frame stays zero.
		return OK
	}
	remainder := v.FileOffset + v.FileNBytes - fileOffsetOfPage
	n := riscv.PageSize
	if remainder < uint64(n) {
		n = int(remainder)
	}

	p.VMAs.Lock.Unlock()
	filesystem.Begin()
	filesystem.Lock(v.File)
	dst := mem.Bytes(pa, n)
	_, err := v.File.ReadAt(dst, int64(fileOffsetOfPage))
	filesystem.UnlockPut(v.File)
	filesystem.End()
	p.VMAs.Lock.Lock()

	if err != nil {
		Log.WithFields(logrus.Fields{"pid": p.ID, "va": page, "err": err}).
			Warn("fault: file fill failed; leaf PTE remains installed, caller must unmap before retry")
		return ENOFILE
	}
	return OK
}

// ResolveRange resolves every page covering [addr, addr+len), acquiring
// and releasing the VMA lock per page so each call to Resolve sees a
// consistent snapshot, short-circuiting on the first error.
func ResolveRange(mem frame.Memory, alc frame.Allocator, filesystem fs.FS, root riscv.PA, p *proc.Process, addr riscv.VA, length uint64, cause riscv.Perm) error {
	end := riscv.RoundUp(addr + riscv.VA(length))
	a := riscv.RoundDown(addr)
	for ; a < end; a += riscv.PageSize {
		p.VMAs.Lock.Lock()
		code := Resolve(mem, alc, filesystem, root, p, a, cause)
		p.VMAs.Lock.Unlock()
		if code != OK {
			return code
		}
	}
	return nil
}
