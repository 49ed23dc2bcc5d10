package regs

// SimBus is a memory-backed Bus for host builds and tests. Unwritten
// registers read as zero.
type SimBus struct {
	mem    map[uint32]uint32
	hooks  map[uint32]func(val uint32) uint32
	reads  uint32
	writes uint32
}

// NewSimBus returns an empty bus.
func NewSimBus() *SimBus {
	return &SimBus{
		mem:   make(map[uint32]uint32),
		hooks: make(map[uint32]func(uint32) uint32),
	}
}

func (b *SimBus) Read32(addr uint32) uint32 {
	b.reads++
	return b.mem[addr]
}

func (b *SimBus) Write32(addr, val uint32) {
	b.writes++
	if h := b.hooks[addr]; h != nil {
		val = h(val)
	}
	b.mem[addr] = val
}

// OnWrite installs a filter on writes to addr. The filter returns the
// value the register actually latches, which lets a test model hardware
// that refuses or alters a write.
func (b *SimBus) OnWrite(addr uint32, fn func(val uint32) uint32) {
	if fn == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = fn
}

// Poke sets a register without going through write hooks.
func (b *SimBus) Poke(addr, val uint32) {
	b.mem[addr] = val
}

// Peek reads a register without counting the access.
func (b *SimBus) Peek(addr uint32) uint32 {
	return b.mem[addr]
}

// Accesses returns the number of reads and writes seen so far.
func (b *SimBus) Accesses() (reads, writes uint32) {
	return b.reads, b.writes
}

// FollowRFPower makes the RF status of layout l track RF power writes,
// as a front-end that settles instantly would.
func (b *SimBus) FollowRFPower(l Layout) {
	b.OnWrite(l.RFA.Addr(RegRFPower), func(v uint32) uint32 {
		var st RFStatus
		if v != 0 {
			st = RFStable | RFPowered
		}
		b.Poke(l.RFA.Addr(RegRFStatus), uint32(st))
		return v
	})
}
