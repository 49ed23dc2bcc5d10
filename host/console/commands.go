package console

import (
	"github.com/abiosoft/ishell"

	"wlfw/host/profile"
)

// PushCmd sends a profile's command list: the loaded one, or a file.
var PushCmd = ishell.Cmd{
	Name: "push",
	Help: "push [profile.yaml]",
	Func: func(c *ishell.Context) {
		s := ShellFrom(c)
		if len(c.Args) > 0 {
			p, err := profile.Load(c.Args[0])
			if err == nil {
				err = profile.Validate(p)
			}
			if err != nil {
				c.Err(err)
				return
			}
			profile.Normalize(p)
			s.Profile = p
		}
		n, err := s.Push()
		if err != nil {
			c.Err(err)
			return
		}
		c.Printf("pushed %d commands\n", n)
	},
}

// MonitorCmd turns the report printer on or off.
var MonitorCmd = ishell.Cmd{
	Name: "monitor",
	Help: "monitor on|off",
	Func: func(c *ishell.Context) {
		s := ShellFrom(c)
		if len(c.Args) > 0 && c.Args[0] == "off" {
			s.StopMonitor()
			return
		}
		s.StartMonitor(c.Println)
	},
}

// StatsCmd dumps the diagnostic counters.
var StatsCmd = ishell.Cmd{
	Name:    "stats",
	Aliases: []string{"diag"},
	Help:    "read every diagnostic counter",
	Func: func(c *ishell.Context) {
		lines, err := ShellFrom(c).Stats()
		if err != nil {
			c.Err(err)
			return
		}
		for _, l := range lines {
			c.Println(l)
		}
	},
}

// DictCmd lists command and report layouts.
var DictCmd = ishell.Cmd{
	Name: "dict",
	Help: "list command and report layouts",
	Func: func(c *ishell.Context) {
		for _, l := range Dictionary() {
			c.Println(l)
		}
	},
}

// BTCmd plays the BT controller against the simulator.
var BTCmd = ishell.Cmd{
	Name: "bt",
	Help: "bt early_release|retry|calibration|role_change|pan <value> (simulator only)",
	Func: func(c *ishell.Context) {
		if err := ShellFrom(c).InjectBT(c.Args); err != nil {
			c.Err(err)
		}
	},
}
