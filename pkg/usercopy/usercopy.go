// SPDX-License-Identifier: Unlicense OR MIT

// Package usercopy implements the safe copy routines that cross the
// kernel/user trust boundary: copy_in, copy_out and copy_in_str. All
// three pre-fault the user range (the destination for copy_out, the source
// for copy_in and copy_in_str) through pkg/fault before walking it page by
// page, grounded on the original's copyin/copyout/copyinstr
// (vm.c:467-571).
package usercopy

import (
	"github.com/sirupsen/logrus"

	"github.com/dscoduto/sv39vm/pkg/fault"
	"github.com/dscoduto/sv39vm/pkg/fs"
	"github.com/dscoduto/sv39vm/pkg/frame"
	"github.com/dscoduto/sv39vm/pkg/pagetable"
	"github.com/dscoduto/sv39vm/pkg/proc"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// CopyOut copies len(src) bytes from the kernel into the user address
// space at dstVA, pre-faulting the whole destination range for write
// access first (vm.c:467-490).
func CopyOut(mem frame.Memory, alc frame.Allocator, filesystem fs.FS, root riscv.PA, p *proc.Process, dstVA riscv.VA, src []byte) error {
	if err := fault.ResolveRange(mem, alc, filesystem, root, p, dstVA, uint64(len(src)), riscv.FlagW); err != nil {
		return err
	}
	n := len(src)
	for n > 0 {
		va0 := riscv.RoundDown(dstVA)
		pa0 := pagetable.WalkAddr(mem, root, va0)
		if pa0 == 0 {
			return errUnmappable
		}
		off := uint64(dstVA) - uint64(va0)
		chunk := riscv.PageSize - int(off)
		if chunk > n {
			chunk = n
		}
		copy(mem.Bytes(pa0+riscv.PA(off), chunk), src[:chunk])

		n -= chunk
		src = src[chunk:]
		dstVA = va0 + riscv.PageSize
	}
	return nil
}

// CopyIn copies len(dst) bytes from the user address space at srcVA into
// the kernel buffer dst, pre-faulting the whole source range for read
// access first (vm.c:495-518).
func CopyIn(mem frame.Memory, alc frame.Allocator, filesystem fs.FS, root riscv.PA, p *proc.Process, dst []byte, srcVA riscv.VA) error {
	if err := fault.ResolveRange(mem, alc, filesystem, root, p, srcVA, uint64(len(dst)), riscv.FlagR); err != nil {
		return err
	}
	n := len(dst)
	for n > 0 {
		va0 := riscv.RoundDown(srcVA)
		pa0 := pagetable.WalkAddr(mem, root, va0)
		if pa0 == 0 {
			return errUnmappable
		}
		off := uint64(srcVA) - uint64(va0)
		chunk := riscv.PageSize - int(off)
		if chunk > n {
			chunk = n
		}
		copy(dst[:chunk], mem.Bytes(pa0+riscv.PA(off), chunk))

		n -= chunk
		dst = dst[chunk:]
		srcVA = va0 + riscv.PageSize
	}
	return nil
}

// CopyInStr copies a NUL-terminated string from the user address space at
// srcVA into dst, stopping at the first NUL byte (which is copied) or at
// max bytes without finding one. Unlike CopyIn/CopyOut, the true length of
// the user range is unknown ahead of time, so it pre-faults page by page,
// holding the VMA lock across the entire copy. This is safe as long as
// no file-backed page is encountered under the lock, since a file read
// can block (vm.c:524-571).
func CopyInStr(mem frame.Memory, alc frame.Allocator, filesystem fs.FS, root riscv.PA, p *proc.Process, dst []byte, srcVA riscv.VA, max int) error {
	p.VMAs.Lock.Lock()
	defer p.VMAs.Lock.Unlock()

	gotNull := false
	di := 0
	for !gotNull && max > 0 {
		va0 := riscv.RoundDown(srcVA)
		if v, ok := p.VMAs.Lookup(va0); ok && v.File != nil {
			panic("usercopy: copy_in_str: file-backed VMA would block under vma_lock")
		}
		code := fault.Resolve(mem, alc, filesystem, root, p, va0, riscv.FlagR)
		if code != fault.OK {
			return code
		}
		pa0 := pagetable.WalkAddr(mem, root, va0)
		if pa0 == 0 {
			return errUnmappable
		}
		off := uint64(srcVA) - uint64(va0)
		n := riscv.PageSize - int(off)
		if n > max {
			n = max
		}
		page := mem.Bytes(pa0+riscv.PA(off), n)
		for _, b := range page {
			if b == 0 {
				dst[di] = 0
				gotNull = true
				break
			}
			dst[di] = b
			di++
			max--
		}
		srcVA = va0 + riscv.PageSize
	}
	if !gotNull {
		Log.WithFields(logrus.Fields{"pid": p.ID, "va": srcVA}).Warn("copy_in_str: no NUL within max bytes")
		return errUnterminated
	}
	return nil
}

// Log mirrors fault.Log's role for the user-copy path.
var Log = logrus.New()

type copyErr string

func (e copyErr) Error() string { return string(e) }

const (
	errUnmappable   = copyErr("usercopy: unmappable user page")
	errUnterminated = copyErr("usercopy: copy_in_str: no NUL within max bytes")
)
