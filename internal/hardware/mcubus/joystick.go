package mcubus

import (
	"fmt"
	"strings"
	"sync"
)

// Joystick implements hardware.Joystick over the microcontroller bus. The
// acquisition worker disables it for the duration of each timepoint so an
// operator's manual stage input cannot race with a scheduled move
// (spec.md §13 supplemented feature).
type Joystick struct {
	bus *Bus

	mu      sync.Mutex
	enabled bool
}

// NewJoystick wraps bus as a hardware.Joystick, initially enabled.
func NewJoystick(bus *Bus) *Joystick {
	return &Joystick{bus: bus, enabled: true}
}

func (j *Joystick) Enable() error {
	resp, err := j.bus.SendCommand("JOYEN,1")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: joystick enable failed: %s", resp)
	}
	j.mu.Lock()
	j.enabled = true
	j.mu.Unlock()
	return nil
}

func (j *Joystick) Disable() error {
	resp, err := j.bus.SendCommand("JOYEN,0")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: joystick disable failed: %s", resp)
	}
	j.mu.Lock()
	j.enabled = false
	j.mu.Unlock()
	return nil
}

func (j *Joystick) Enabled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enabled
}
