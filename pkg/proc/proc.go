// SPDX-License-Identifier: Unlicense OR MIT

// Package proc provides the process handle the fault resolver and safe
// user copy consume: a user page table root plus its VMA registry.
// External interfaces in this module take the handle explicitly rather
// than through a process-local current_process() lookup, which does not
// translate cleanly into hosted Go without a goroutine-local hack the
// bare-metal thread.self pattern in kernel/thread_amd64.go has no
// equivalent for.
package proc

import (
	"github.com/dscoduto/sv39vm/pkg/riscv"
	"github.com/dscoduto/sv39vm/pkg/vma"
)

// Process is the minimal process handle the VM subsystem needs: its user
// page table root and its VMA registry.
type Process struct {
	ID   int
	Root riscv.PA
	VMAs *vma.Set
}

// New returns a process handle with an empty VMA registry over the given
// root page table.
func New(id int, root riscv.PA) *Process {
	return &Process{ID: id, Root: root, VMAs: vma.NewSet()}
}
