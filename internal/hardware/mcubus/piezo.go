package mcubus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Piezo implements hardware.Piezo over the microcontroller bus.
type Piezo struct {
	bus      *Bus
	minUm    float64
	maxUm    float64
}

// NewPiezo wraps bus as a hardware.Piezo with a fixed travel range.
func NewPiezo(bus *Bus, minUm, maxUm float64) *Piezo {
	return &Piezo{bus: bus, minUm: minUm, maxUm: maxUm}
}

func (p *Piezo) GetZUm() (float64, error) {
	resp, err := p.bus.SendCommand("PZPOS")
	if err != nil {
		return 0, err
	}
	fields := strings.Split(resp, ",")
	if len(fields) < 2 || fields[0] != "OK" {
		return 0, fmt.Errorf("mcubus: malformed PZPOS response %q", resp)
	}
	z, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, fmt.Errorf("mcubus: malformed PZPOS value %q", resp)
	}
	return z, nil
}

func (p *Piezo) MoveToZUm(ctx context.Context, zUm float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if zUm < p.minUm || zUm > p.maxUm {
		return fmt.Errorf("mcubus: piezo target %.2fum outside range [%.2f, %.2f]", zUm, p.minUm, p.maxUm)
	}
	resp, err := p.bus.SendCommand(fmt.Sprintf("PZMOVE,%f", zUm))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: piezo move failed: %s", resp)
	}
	return nil
}

func (p *Piezo) RangeUm() (min, max float64) {
	return p.minUm, p.maxUm
}
