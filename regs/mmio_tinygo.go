//go:build tinygo

package regs

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO reaches registers through the CPU's address space. Base is added
// to every address so a Layout can stay relative to the peripheral block.
type MMIO struct {
	Base uintptr
}

func (m MMIO) reg(addr uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(m.Base + uintptr(addr)))
}

func (m MMIO) Read32(addr uint32) uint32 {
	return m.reg(addr).Get()
}

func (m MMIO) Write32(addr, val uint32) {
	m.reg(addr).Set(val)
}
