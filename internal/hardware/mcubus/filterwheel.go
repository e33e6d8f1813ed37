package mcubus

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FilterWheel implements hardware.FilterWheel over the microcontroller bus.
type FilterWheel struct {
	bus *Bus

	mu       sync.Mutex
	position int
}

// NewFilterWheel wraps bus as a hardware.FilterWheel.
func NewFilterWheel(bus *Bus) *FilterWheel {
	return &FilterWheel{bus: bus}
}

func (f *FilterWheel) MoveTo(ctx context.Context, position int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := f.bus.SendCommand(fmt.Sprintf("FWMOVE,%d", position))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: filter wheel move failed: %s", resp)
	}
	f.mu.Lock()
	f.position = position
	f.mu.Unlock()
	return nil
}

func (f *FilterWheel) CurrentPosition() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}
