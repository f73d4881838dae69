// SPDX-License-Identifier: Unlicense OR MIT

// Package config loads the boot-time physical memory map from a TOML
// file, defaulting to the layout xv6-riscv targets on the QEMU virt
// machine. Bare-metal boot code has no filesystem to load configuration
// from; a hosted Go module exercising the same address-space
// construction logic under test does.
package config

import "github.com/BurntSushi/toml"

// MemMap holds the fixed hardware/linker-script addresses the kernel
// address-space builder maps at boot.
type MemMap struct {
	UART0   uint64 `toml:"uart0"`
	VirtIO0 uint64 `toml:"virtio0"`
	VirtIO1 uint64 `toml:"virtio1"`
	CLINT   uint64 `toml:"clint"`
	PLIC    uint64 `toml:"plic"`

	KernBase uint64 `toml:"kernbase"`
	Etext    uint64 `toml:"etext"`
	PhysTop  uint64 `toml:"phystop"`
}

// CLINTSize and PLICSize are the fixed region sizes for the CLINT and
// PLIC device windows in the kernel direct map.
const (
	CLINTSize = 0x10000  // 64 KiB
	PLICSize  = 0x400000 // 4 MiB
)

// Trampoline and MaxVA are fixed by the Sv39 address-space layout, not by
// the config file: the trampoline always sits at the top of the address
// space.
const (
	MaxVA       = 1 << 39
	Trampoline  = MaxVA - 4096
)

// Default returns the memory map xv6-riscv uses when targeting QEMU's
// virt machine.
func Default() MemMap {
	return MemMap{
		UART0:    0x10000000,
		VirtIO0:  0x10001000,
		VirtIO1:  0x10002000,
		CLINT:    0x2000000,
		PLIC:     0x0c000000,
		KernBase: 0x80000000,
		Etext:    0x80006000,
		PhysTop:  0x88000000,
	}
}

// Load reads a MemMap from a TOML file at path, falling back to Default
// for any zero field left unset.
func Load(path string) (MemMap, error) {
	m := Default()
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return MemMap{}, err
	}
	return m, nil
}
