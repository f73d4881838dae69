// SPDX-License-Identifier: Unlicense OR MIT

package frame

import "unsafe"

// pointerToTable reinterprets a page-sized byte slice as an Sv39
// page-table page, the same cast lookupOrCreatePageTable performs via
// unsafe.Pointer(physToVirt(page)) in kernel/memory_amd64.go.
func pointerToTable(buf []byte) unsafe.Pointer {
	return unsafe.Pointer(&buf[0])
}
