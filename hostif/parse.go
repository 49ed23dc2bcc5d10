package hostif

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnknownCommand is returned by ParseCommand for a name that is not
// an H2C command.
var ErrUnknownCommand = errors.New("hostif: unknown command")

// ParseCommand builds an H2C frame from console text: the command name
// followed by one value per field, decimal or 0x hex.
func ParseCommand(line string) (Frame, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return Frame{}, ErrUnknownCommand
	}
	s := SpecByName(words[0])
	if s == nil || s.Op.IsReport() {
		return Frame{}, ErrUnknownCommand
	}
	vals := make([]uint32, 0, len(words)-1)
	for _, w := range words[1:] {
		v, err := strconv.ParseUint(w, 0, 32)
		if err != nil {
			return Frame{}, ErrPayloadRange
		}
		vals = append(vals, uint32(v))
	}
	return s.Encode(vals...)
}

// Usage renders a command's name and field names.
func (s *Spec) Usage() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, f := range s.Fields {
		b.WriteString(" <")
		b.WriteString(f.Name)
		b.WriteString(">")
	}
	return b.String()
}
