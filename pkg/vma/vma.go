// SPDX-License-Identifier: Unlicense OR MIT

// Package vma implements the per-process VMA registry the fault resolver
// consumes: provided by the process layer, queried by the resolver, and
// guarded by a lock the resolver must respect. This module owns a
// concrete implementation so the resolver and its tests have something
// real to run against.
//
// kernel/memory_amd64.go tracks virtual memory ranges in virtMemory, a
// slice kept sorted by end address with a binary-search closestRange
// (memory_amd64.go:94-107, 843-856). We keep the same "ordered range map"
// concern but back it with github.com/google/btree, the ordered-container
// library gVisor's own segment-set machinery is the generated analogue
// of (google-gvisor go.mod), for O(log n) lookup/insert/delete instead
// of an O(n) slice insert.
package vma

import (
	"sync"

	"github.com/google/btree"
	"golang.org/x/exp/slices"

	"github.com/dscoduto/sv39vm/pkg/fs"
	"github.com/dscoduto/sv39vm/pkg/riscv"
)

// VMA is a contiguous virtual memory area belonging to a process: a
// permission set and, optionally, a file backing. It is read-only to the
// fault resolver.
type VMA struct {
	VABegin, VAEnd riscv.VA
	Flags          riscv.Perm // subset of R|W|X

	File       fs.Inode // nil if anonymous
	FileOffset uint64
	FileNBytes uint64
}

// Contains reports whether addr falls within the VMA's range.
func (v *VMA) Contains(addr riscv.VA) bool {
	return v != nil && v.VABegin <= addr && addr < v.VAEnd
}

// less orders VMAs by their starting address for the btree.
func less(a, b *VMA) bool { return a.VABegin < b.VABegin }

// Set is a process's VMA registry: an ordered collection of
// non-overlapping VMAs plus the lock the resolver must hold across its
// lookup + permission-check + mapping-install sequence.
type Set struct {
	// Lock is proc.vma_lock: callers acquire it before Lookup and any
	// mapping decision that depends on the result, and must release it
	// around any blocking operation such as a file read.
	Lock sync.Mutex

	tree *btree.BTreeG[*VMA]
}

// NewSet returns an empty VMA registry.
func NewSet() *Set {
	return &Set{tree: btree.NewG(32, less)}
}

// Add inserts a new, non-overlapping VMA. It panics if the new VMA
// overlaps an existing one. A disjoint address-space layout is an
// invariant the process layer (out of scope) is responsible for
// maintaining before ever calling into this registry.
//
// Callers must hold Lock.
func (s *Set) Add(v *VMA) {
	var overlap bool
	s.tree.AscendGreaterOrEqual(&VMA{VABegin: 0}, func(item *VMA) bool {
		if item.VABegin >= v.VAEnd {
			return false
		}
		if item.VAEnd > v.VABegin {
			overlap = true
			return false
		}
		return true
	})
	if overlap {
		panic("vma: overlapping VMA")
	}
	s.tree.ReplaceOrInsert(v)
}

// Remove deletes v from the registry. Callers must hold Lock.
func (s *Set) Remove(v *VMA) {
	s.tree.Delete(v)
}

// Lookup returns an immutable snapshot of the VMA covering addr, if any.
// The returned value is safe to read after Lock is released; the
// resolver must not retain a pointer into the live tree across the lock
// release around file I/O.
//
// Callers must hold Lock.
func (s *Set) Lookup(addr riscv.VA) (VMA, bool) {
	var found *VMA
	// btree has no direct "floor by range end" query for a custom key, so
	// walk candidates whose start is <= addr in descending order until one
	// contains addr or we've walked past any possible match.
	s.tree.DescendLessOrEqual(&VMA{VABegin: addr}, func(item *VMA) bool {
		if item.Contains(addr) {
			found = item
			return false
		}
		return false
	})
	if found == nil {
		return VMA{}, false
	}
	return *found, true
}

// Snapshot returns every VMA in the registry ordered by starting address,
// for diagnostics. The btree already yields ascending order; the explicit
// sort guards against relying on that traversal detail staying true.
//
// Callers must hold Lock.
func (s *Set) Snapshot() []VMA {
	out := make([]VMA, 0, s.tree.Len())
	s.tree.Ascend(func(item *VMA) bool {
		out = append(out, *item)
		return true
	})
	slices.SortFunc(out, func(a, b VMA) int {
		switch {
		case a.VABegin < b.VABegin:
			return -1
		case a.VABegin > b.VABegin:
			return 1
		default:
			return 0
		}
	})
	return out
}
