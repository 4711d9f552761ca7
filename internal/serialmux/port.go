package serialmux

import (
	"io"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Opener opens the port at path. RealOpener is the production
// implementation; tests substitute MockOpener.
type Opener func(path string, mode *serial.Mode) (SerialPorter, error)

// RealOpener opens a hardware serial port with go.bug.st/serial.
func RealOpener(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}
