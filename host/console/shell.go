// Package console is the interactive host shell: one command per H2C
// opcode plus profile push, report monitor and counter dump.
package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"wlfw/coex"
	"wlfw/host/bridge"
	"wlfw/host/link"
	"wlfw/host/profile"
	"wlfw/host/sim"
	"wlfw/hostif"
	"wlfw/mailbox"
)

const shellKey = "$shell"

var ErrNoSim = errors.New("console: not running against the simulator")

// Shell wraps an ishell.Shell bound to one link.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell   *ishell.Shell
	Link    *link.Link
	Profile *profile.Profile
	Sim     *sim.Device
	Bridge  *bridge.Bridge

	stopMonitor func()
}

// New builds the shell around an attached link.
func New(l *link.Link) *Shell {
	s := &Shell{
		Interactive: true,
		Shell:       ishell.New(),
		Link:        l,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt("wlfw > ")
	for _, cmd := range h2cCommands() {
		s.Shell.AddCmd(cmd)
	}
	for _, cmd := range []*ishell.Cmd{&PushCmd, &MonitorCmd, &StatsCmd, &DictCmd, &BTCmd} {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// h2cCommands makes one shell command per H2C layout.
func h2cCommands() []*ishell.Cmd {
	cmds := make([]*ishell.Cmd, 0, len(hostif.Commands))
	for i := range hostif.Commands {
		spec := &hostif.Commands[i]
		cmds = append(cmds, &ishell.Cmd{
			Name: spec.Name,
			Help: spec.Usage(),
			Func: func(c *ishell.Context) {
				if err := ShellFrom(c).Do(spec.Name, c.Args...); err != nil {
					c.Err(err)
					return
				}
				c.Println("OK")
			},
		})
	}
	return cmds
}

// Do runs one H2C command given as text arguments.
func (s *Shell) Do(name string, args ...string) error {
	f, err := hostif.ParseCommand(name + " " + strings.Join(args, " "))
	if err != nil {
		if spec := hostif.SpecByName(name); spec != nil {
			return fmt.Errorf("usage: %s: %w", spec.Usage(), err)
		}
		return err
	}
	return s.Link.Command(f)
}

// Push sends the loaded profile's command list.
func (s *Shell) Push() (int, error) {
	if s.Profile == nil {
		return 0, errors.New("console: no profile loaded")
	}
	frames := s.Profile.Commands()
	return len(frames), s.Link.Push(frames)
}

// Format renders a report for printing.
func (s *Shell) Format(f hostif.Frame) string {
	if s.OutputJSON {
		r := bridge.Decode(f, time.Now())
		out, err := json.Marshal(r)
		if err == nil {
			return string(out)
		}
	}
	return hostif.Describe(f)
}

// StartMonitor prints every report until StopMonitor.
func (s *Shell) StartMonitor(println func(...interface{})) {
	if s.stopMonitor != nil {
		return
	}
	ch, cancel := s.Link.Subscribe(64)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case f := <-ch:
				println(s.Format(f))
			case <-done:
				return
			}
		}
	}()
	s.stopMonitor = func() {
		cancel()
		close(done)
	}
}

// InjectBT posts a BT peer frame into the simulator's mailbox.
func (s *Shell) InjectBT(args []string) error {
	if s.Sim == nil {
		return ErrNoSim
	}
	f, err := btFrame(args)
	if err != nil {
		return err
	}
	s.Sim.InjectBT(f)
	return nil
}

// StopMonitor ends the report monitor.
func (s *Shell) StopMonitor() {
	if s.stopMonitor != nil {
		s.stopMonitor()
		s.stopMonitor = nil
	}
}

// Stats returns counters sorted by name.
func (s *Shell) Stats() ([]string, error) {
	c, err := s.Link.Counters()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(c))
	for name, v := range c {
		lines = append(lines, fmt.Sprintf("%-18s %d", name, v))
	}
	sort.Strings(lines)
	return lines, nil
}

// Dictionary lists every command and report layout.
func Dictionary() []string {
	var out []string
	for i := range hostif.Commands {
		spec := &hostif.Commands[i]
		out = append(out, fmt.Sprintf("h2c 0x%02x %s", uint8(spec.Op), spec.Usage()))
	}
	for i := range hostif.Reports {
		spec := &hostif.Reports[i]
		out = append(out, fmt.Sprintf("c2h 0x%02x %s", uint8(spec.Op), spec.Usage()))
	}
	return out
}

// btFrame builds a simulated BT peer frame from console words.
func btFrame(args []string) (f mailbox.Frame, err error) {
	if len(args) != 2 {
		return f, errors.New("usage: bt early_release|retry|calibration|role_change|pan <value>")
	}
	var v uint32
	if _, err := fmt.Sscan(args[1], &v); err != nil {
		return f, err
	}
	switch args[0] {
	case "early_release":
		return coex.EarlyReleaseFrame(v), nil
	case "retry":
		if v > 0xff {
			return f, hostif.ErrPayloadRange
		}
		return coex.RetryFrame(uint8(v)), nil
	case "calibration":
		return coex.FlagFrame(coex.MsgBTCalibration, v != 0), nil
	case "role_change":
		return coex.FlagFrame(coex.MsgBTRoleChange, v != 0), nil
	case "pan":
		return coex.FlagFrame(coex.MsgBTPan, v != 0), nil
	}
	return f, fmt.Errorf("unknown bt frame %q", args[0])
}

// Run processes args as one command, or runs the interactive shell.
func (s *Shell) Run(args ...string) error {
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return errors.New("command expected")
}
