// Package mcubus implements the hardware capability interfaces
// (internal/hardware) over a line-oriented serial protocol to the stage
// microcontroller, generalizing the teacher's single-device SerialMux into
// one bus shared by Stage, Piezo, Illumination, and FilterWheel — each a
// thin command/response client rather than a standalone port owner.
package mcubus

import (
	"io"
	"time"
)

// SerialPorter is the minimal surface a serial connection must expose.
// Mirrors the teacher's serialmux.SerialPorter so the same go.bug.st/serial
// backend and mock ports can be reused here.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Mode configures the physical serial link to the microcontroller.
type Mode struct {
	BaudRate int
	DataBits int
	StopBits int
}

// DefaultMode matches the microcontroller firmware's fixed UART
// configuration.
func DefaultMode() Mode {
	return Mode{BaudRate: 2_000_000, DataBits: 8, StopBits: 1}
}

// Opener opens a serial connection at path under mode. Implemented by
// OpenReal (go.bug.st/serial) in production and by tests via a fake.
type Opener func(path string, mode Mode) (SerialPorter, error)

// TimeoutSerialPorter is a SerialPorter that also supports a read deadline,
// used by the bus to bound each command's response wait.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}
