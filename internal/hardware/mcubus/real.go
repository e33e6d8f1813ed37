package mcubus

import (
	"go.bug.st/serial"
)

// OpenReal opens a real microcontroller serial connection using
// go.bug.st/serial, the same driver the teacher's serialmux.NewRealSerialMux
// uses for its sensor link.
func OpenReal(path string, mode Mode) (SerialPorter, error) {
	m := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
	}
	switch mode.StopBits {
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		m.StopBits = serial.OneStopBit
	}
	port, err := serial.Open(path, m)
	if err != nil {
		return nil, err
	}
	return port, nil
}
