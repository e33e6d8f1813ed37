package mcubus

import (
	"fmt"
	"strings"
	"sync"
)

// Illumination implements hardware.Illumination over the microcontroller
// bus.
type Illumination struct {
	bus *Bus

	mu     sync.Mutex
	source string
	on     bool
}

// NewIllumination wraps bus as a hardware.Illumination.
func NewIllumination(bus *Bus) *Illumination {
	return &Illumination{bus: bus}
}

func (i *Illumination) SetSource(source string) error {
	resp, err := i.bus.SendCommand(fmt.Sprintf("ILLSRC,%s", source))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: set illumination source failed: %s", resp)
	}
	i.mu.Lock()
	i.source = source
	i.mu.Unlock()
	return nil
}

func (i *Illumination) SetIntensityPercent(pct float64) error {
	resp, err := i.bus.SendCommand(fmt.Sprintf("ILLINT,%f", pct))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: set illumination intensity failed: %s", resp)
	}
	return nil
}

func (i *Illumination) On() error {
	resp, err := i.bus.SendCommand("ILLON")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: illumination on failed: %s", resp)
	}
	i.mu.Lock()
	i.on = true
	i.mu.Unlock()
	return nil
}

func (i *Illumination) Off() error {
	resp, err := i.bus.SendCommand("ILLOFF")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: illumination off failed: %s", resp)
	}
	i.mu.Lock()
	i.on = false
	i.mu.Unlock()
	return nil
}

func (i *Illumination) IsOn() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}
