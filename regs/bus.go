// Package regs describes the co-processor's memory-mapped register windows
// and the buses that reach them.
package regs

import "golang.org/x/exp/constraints"

// Bus is a 32-bit register bus. Accesses are register-width and never
// cached: every Read32 reaches the device.
type Bus interface {
	Read32(addr uint32) uint32
	Write32(addr, val uint32)
}

// Window is a register region of the co-processor address map.
type Window struct {
	Name string
	Base uint32
	Size uint32
}

// Addr returns the absolute address of the register at off. It panics on
// an unaligned or out-of-window offset; both are programming errors.
func (w Window) Addr(off uint32) uint32 {
	if !aligned(off, 4) {
		panic("regs: unaligned offset in " + w.Name)
	}
	if off+4 > w.Size {
		panic("regs: offset outside " + w.Name)
	}
	return w.Base + off
}

// Contains reports whether addr lies inside the window.
func (w Window) Contains(addr uint32) bool {
	return addr >= w.Base && addr-w.Base < w.Size
}

func aligned[T constraints.Unsigned](v, align T) bool {
	return v&(align-1) == 0
}

// Layout is the set of windows of one chip.
type Layout struct {
	MAC       Window
	BB        Window
	RFA       Window
	RFB       Window
	SecCAM    Window
	ReportBuf Window
	RxPkt     Window
	TxPkt     Window
	Mailbox   Window
}

// DefaultLayout is the address map of the reference part.
func DefaultLayout() Layout {
	return Layout{
		MAC:       Window{Name: "mac", Base: 0x0000_0000, Size: 0x1000},
		BB:        Window{Name: "bb", Base: 0x0000_2000, Size: 0x1000},
		RFA:       Window{Name: "rf_a", Base: 0x0000_4000, Size: 0x400},
		RFB:       Window{Name: "rf_b", Base: 0x0000_4400, Size: 0x400},
		SecCAM:    Window{Name: "sec_cam", Base: 0x0000_5000, Size: 0x800},
		ReportBuf: Window{Name: "report_buf", Base: 0x0000_6000, Size: 0x100},
		RxPkt:     Window{Name: "rx_pkt", Base: 0x0001_0000, Size: 0x8000},
		TxPkt:     Window{Name: "tx_pkt", Base: 0x0001_8000, Size: 0x8000},
		Mailbox:   Window{Name: "mailbox", Base: 0x0000_7000, Size: 0x40},
	}
}

// Windows returns every window, for overlap checks and dumps.
func (l *Layout) Windows() []Window {
	return []Window{l.MAC, l.BB, l.RFA, l.RFB, l.SecCAM, l.ReportBuf, l.RxPkt, l.TxPkt, l.Mailbox}
}

// Validate checks that every window is word aligned and that no two
// windows overlap.
func (l *Layout) Validate() error {
	ws := l.Windows()
	for i, a := range ws {
		if a.Size == 0 || !aligned(a.Base, 4) || !aligned(a.Size, 4) {
			return &LayoutError{Window: a.Name}
		}
		for _, b := range ws[i+1:] {
			if a.Base < b.Base+b.Size && b.Base < a.Base+a.Size {
				return &LayoutError{Window: a.Name, Overlaps: b.Name}
			}
		}
	}
	return nil
}

// LayoutError reports a malformed window.
type LayoutError struct {
	Window   string
	Overlaps string
}

func (e *LayoutError) Error() string {
	if e.Overlaps != "" {
		return "regs: window " + e.Window + " overlaps " + e.Overlaps
	}
	return "regs: window " + e.Window + " is misaligned or empty"
}
