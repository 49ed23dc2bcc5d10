package regs

import (
	"encoding/binary"

	"tinygo.org/x/drivers"
)

// SPI command word: bit31 write, bit30 auto-increment, bits 11..27 word
// address, bits 0..10 transfer length in bytes.
func cmdWord(write bool, addr, size uint32) uint32 {
	var w uint32
	if write {
		w = 1 << 31
	}
	return w | 1<<30 | (addr>>2&0x1ffff)<<11 | size&0x7ff
}

// SPIBus reaches the register file of a co-processor hosted behind a SPI
// backplane. Each access is one transaction: a little-endian command word
// followed by one data word.
type SPIBus struct {
	spi drivers.SPI
	cs  func(selected bool)
	buf [8]byte
	rx  [8]byte
	err error
}

// NewSPIBus wraps spi. cs, if not nil, is driven around every transaction.
func NewSPIBus(spi drivers.SPI, cs func(selected bool)) *SPIBus {
	return &SPIBus{spi: spi, cs: cs}
}

func (b *SPIBus) xfer(cmd, val uint32) uint32 {
	binary.LittleEndian.PutUint32(b.buf[0:4], cmd)
	binary.LittleEndian.PutUint32(b.buf[4:8], val)
	if b.cs != nil {
		b.cs(true)
	}
	err := b.spi.Tx(b.buf[:], b.rx[:])
	if b.cs != nil {
		b.cs(false)
	}
	if err != nil && b.err == nil {
		b.err = err
	}
	return binary.LittleEndian.Uint32(b.rx[4:8])
}

func (b *SPIBus) Read32(addr uint32) uint32 {
	return b.xfer(cmdWord(false, addr, 4), 0)
}

func (b *SPIBus) Write32(addr, val uint32) {
	b.xfer(cmdWord(true, addr, 4), val)
}

// Err returns the first transfer error since the last call and clears it.
// The Bus interface has no error path, so callers poll Err after a batch
// of accesses.
func (b *SPIBus) Err() error {
	err := b.err
	b.err = nil
	return err
}
