package mcubus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/squidcore/acquisition/internal/acqmodel"
)

// Stage implements hardware.Stage over the microcontroller bus. Commands
// follow the firmware's "VERB,args\n" -> "OK,args\n" convention.
type Stage struct {
	bus *Bus
}

// NewStage wraps bus as a hardware.Stage.
func NewStage(bus *Bus) *Stage {
	return &Stage{bus: bus}
}

func (s *Stage) GetPosition() (acqmodel.Position, error) {
	resp, err := s.bus.SendCommand("POS")
	if err != nil {
		return acqmodel.Position{}, err
	}
	fields := strings.Split(resp, ",")
	if len(fields) < 4 || fields[0] != "OK" {
		return acqmodel.Position{}, fmt.Errorf("mcubus: malformed POS response %q", resp)
	}
	x, err1 := strconv.ParseFloat(fields[1], 64)
	y, err2 := strconv.ParseFloat(fields[2], 64)
	z, err3 := strconv.ParseFloat(fields[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return acqmodel.Position{}, fmt.Errorf("mcubus: malformed POS fields %q", resp)
	}
	return acqmodel.Position{XMm: x, YMm: y, ZMm: z}, nil
}

func (s *Stage) MoveTo(ctx context.Context, pos acqmodel.Position) error {
	cmd := fmt.Sprintf("MOVEXYZ,%f,%f,%f", pos.XMm, pos.YMm, pos.ZMm)
	return s.sendAndCheck(ctx, cmd)
}

func (s *Stage) MoveZ(ctx context.Context, zMm float64) error {
	cmd := fmt.Sprintf("MOVEZ,%f", zMm)
	return s.sendAndCheck(ctx, cmd)
}

func (s *Stage) sendAndCheck(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.bus.SendCommand(cmd)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("mcubus: command %q failed: %s", cmd, resp)
	}
	return nil
}
