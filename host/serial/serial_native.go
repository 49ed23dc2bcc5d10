package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

var ErrNoConfig = errors.New("serial: config cannot be nil")

// NativePort is the co-processor's host UART opened through tarm/serial.
// The link is 8N1 without flow control.
type NativePort struct {
	*serial.Port
	device string
}

// Open opens cfg.Device. A zero baud rate selects DefaultBaud.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s at %d baud: %w", cfg.Device, baud, err)
	}
	// Drop whatever the firmware sent before we were listening.
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: flush %s: %w", cfg.Device, err)
	}
	return &NativePort{Port: port, device: cfg.Device}, nil
}

// Device returns the path the port was opened on.
func (p *NativePort) Device() string { return p.device }
