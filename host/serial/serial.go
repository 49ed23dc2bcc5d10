// Package serial opens the host end of the firmware's UART.
package serial

import (
	"io"
)

// Port is the byte stream the link runs on. Native ports come from
// github.com/tarm/serial; tests and the simulator use pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the co-processor's host UART
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud is the host UART rate of the co-processor.
const DefaultBaud = 921600

// DefaultConfig returns the configuration for device at the default rate.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}

// Stream adapts any io.ReadWriteCloser (a pipe, a socket) to Port.
type Stream struct {
	io.ReadWriteCloser
}

// Flush is a no-op; streams write through.
func (Stream) Flush() error { return nil }
