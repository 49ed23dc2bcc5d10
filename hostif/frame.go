// Package hostif defines the host channel of the co-processor: fixed
// 8-byte H2C command and C2H report records, the command registry that
// dispatches them and the queue that holds reports until the host link
// drains them.
package hostif

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// FrameSize is the width of every H2C and C2H record: one opcode byte
// and up to seven payload bytes.
const FrameSize = 8

// MaxPayload is the payload capacity of a frame.
const MaxPayload = FrameSize - 1

// Frame is one H2C command or C2H report.
type Frame [FrameSize]byte

// Op returns the opcode byte.
func (f Frame) Op() Opcode { return Opcode(f[0]) }

var (
	// ErrUnknownOpcode is returned for an opcode nothing is registered for.
	ErrUnknownOpcode = errors.New("hostif: unknown opcode")
	// ErrPayloadRange is returned for a field value that does not fit, or
	// a wrong number of fields.
	ErrPayloadRange = errors.New("hostif: payload out of range")
	// ErrBadPayload is returned for a frame with bytes set past the last
	// field of its layout.
	ErrBadPayload = errors.New("hostif: bytes past the declared fields")
)

var le = binary.LittleEndian

// Field is one little-endian payload field.
type Field struct {
	Name string
	Size uint8 // 1, 2 or 4 bytes
}

// Spec describes the payload layout of an opcode.
type Spec struct {
	Op     Opcode
	Name   string
	Fields []Field
}

// Args holds the decoded fields of a frame.
type Args struct {
	v [MaxPayload]uint32
	n int
}

// Len returns the number of decoded fields.
func (a Args) Len() int { return a.n }

// U32 returns field i.
func (a Args) U32(i int) uint32 {
	if i < 0 || i >= a.n {
		return 0
	}
	return a.v[i]
}

func (a Args) U16(i int) uint16 { return uint16(a.U32(i)) }
func (a Args) U8(i int) uint8   { return uint8(a.U32(i)) }
func (a Args) Bool(i int) bool  { return a.U32(i) != 0 }

func fieldMax(size uint8) uint64 {
	return 1<<(8*uint64(size)) - 1
}

// Encode builds a frame from one value per field.
func (s *Spec) Encode(vals ...uint32) (Frame, error) {
	var f Frame
	if len(vals) != len(s.Fields) {
		return f, ErrPayloadRange
	}
	f[0] = byte(s.Op)
	off := 1
	for i, fd := range s.Fields {
		if uint64(vals[i]) > fieldMax(fd.Size) {
			return f, ErrPayloadRange
		}
		switch fd.Size {
		case 1:
			f[off] = byte(vals[i])
		case 2:
			le.PutUint16(f[off:], uint16(vals[i]))
		case 4:
			le.PutUint32(f[off:], vals[i])
		}
		off += int(fd.Size)
	}
	return f, nil
}

// MustEncode is Encode for layouts known to be valid at compile time.
func (s *Spec) MustEncode(vals ...uint32) Frame {
	f, err := s.Encode(vals...)
	if err != nil {
		panic(s.Name + ": " + err.Error())
	}
	return f
}

// Width returns the number of payload bytes the layout uses.
func (s *Spec) Width() int {
	n := 0
	for _, fd := range s.Fields {
		n += int(fd.Size)
	}
	return n
}

// Trailing reports whether f carries non-zero bytes after the last field.
func (s *Spec) Trailing(f Frame) bool {
	for _, b := range f[1+s.Width():] {
		if b != 0 {
			return true
		}
	}
	return false
}

// Decode extracts the fields of f.
func (s *Spec) Decode(f Frame) Args {
	var a Args
	off := 1
	for _, fd := range s.Fields {
		switch fd.Size {
		case 1:
			a.v[a.n] = uint32(f[off])
		case 2:
			a.v[a.n] = uint32(le.Uint16(f[off:]))
		case 4:
			a.v[a.n] = le.Uint32(f[off:])
		}
		off += int(fd.Size)
		a.n++
	}
	return a
}

// Format renders the layout the way the host dictionary shows it,
// e.g. "interval_tu=%u16 listen=%u8".
func (s *Spec) Format() string {
	out := ""
	for i, fd := range s.Fields {
		if i > 0 {
			out += " "
		}
		out += fd.Name + "=%u" + strconv.Itoa(8*int(fd.Size))
	}
	return out
}

// String renders f decoded against s, e.g. "beacon_interval interval_tu=100 listen=1".
func (s *Spec) String(f Frame) string {
	a := s.Decode(f)
	out := s.Name
	for i, fd := range s.Fields {
		out += " " + fd.Name + "=" + strconv.FormatUint(uint64(a.U32(i)), 10)
	}
	return out
}

func (s *Spec) valid() bool {
	n := 0
	for _, fd := range s.Fields {
		switch fd.Size {
		case 1, 2, 4:
		default:
			return false
		}
		n += int(fd.Size)
	}
	return n <= MaxPayload
}
