package profile

import (
	"wlfw/host/serial"
)

// Default bridge topic prefix.
const DefaultTopic = "wlfw"

// Normalize fills defaults. Call it after Validate.
func Normalize(p *Profile) {
	if p == nil {
		return
	}
	if p.Device.Baud == 0 {
		p.Device.Baud = serial.DefaultBaud
	}
	if p.Device.TimeoutMs == 0 {
		p.Device.TimeoutMs = 1000
	}
	if c := p.Coex; c != nil {
		if c.Mode == "" {
			c.Mode = "static"
		}
		if c.Table == "" {
			c.Table = "neutral"
		}
	}
	if b := p.Bridge; b != nil && b.Topic == "" {
		b.Topic = DefaultTopic
	}
}
