package multipoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsPositiveAndSensible(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, 1, cfg.NumberOfFOVsPerAF)
	assert.Greater(t, cfg.StageSettleDelay, time.Duration(0))
	assert.Greater(t, cfg.PiezoSettleDelay, time.Duration(0))
	assert.Greater(t, cfg.EndOfRunDrainTimeout, time.Duration(0))
}
