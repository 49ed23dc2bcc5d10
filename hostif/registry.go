package hostif

import "sync"

// Handler services one decoded H2C command.
type Handler func(a Args) error

// Command is a registered H2C opcode.
type Command struct {
	*Spec
	Handler Handler
}

// Registry holds the H2C handlers of the firmware
type Registry struct {
	mu         sync.RWMutex
	commands   map[Opcode]*Command
	order      []Opcode
	dictionary string // one "name op format" line per command, for the host
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[Opcode]*Command),
	}
}

// Register binds handler to op. The layout comes from Commands.
// Registering an opcode twice keeps the first handler.
func (r *Registry) Register(op Opcode, handler Handler) bool {
	spec := LookupSpec(op)
	if spec == nil || op.IsReport() || !spec.valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[op]; exists {
		return false
	}
	r.commands[op] = &Command{Spec: spec, Handler: handler}
	r.order = append(r.order, op)
	r.rebuildDictionary()
	return true
}

// Lookup retrieves a command by opcode
func (r *Registry) Lookup(op Opcode) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[op]
	return cmd, ok
}

// Count returns the number of registered commands
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch decodes f and calls its handler. Unknown opcodes return
// ErrUnknownOpcode and frames with bytes past their fields ErrBadPayload;
// handler errors are passed through.
func (r *Registry) Dispatch(f Frame) error {
	cmd, ok := r.Lookup(f.Op())
	if !ok || cmd.Handler == nil {
		return ErrUnknownOpcode
	}
	if cmd.Trailing(f) {
		return ErrBadPayload
	}
	return cmd.Handler(cmd.Decode(f))
}

// Dictionary returns the command dictionary string
func (r *Registry) Dictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dictionary
}

// rebuildDictionary must be called with the lock held
func (r *Registry) rebuildDictionary() {
	dict := ""
	for _, op := range r.order {
		cmd := r.commands[op]
		dict += cmd.Name + " " + op.hex()
		if f := cmd.Format(); f != "" {
			dict += " " + f
		}
		dict += "\n"
	}
	r.dictionary = dict
}

func (op Opcode) hex() string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{digits[op>>4], digits[op&0xf]})
}
