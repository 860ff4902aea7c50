package platform

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"go.uber.org/zap"
)

// FixedClock models boards where each master clock output comes from a
// fixed oscillator. A request for any other rate fails; a source with no
// configured rate accepts whatever is asked.
type FixedClock struct {
	rates  map[sensor.MclkSource]uint64
	logger *zap.Logger
}

func NewFixedClock(rates map[sensor.MclkSource]uint64, logger *zap.Logger) *FixedClock {
	if rates == nil {
		rates = make(map[sensor.MclkSource]uint64)
	}
	return &FixedClock{rates: rates, logger: logger}
}

func (c *FixedClock) SetRate(ctx context.Context, source sensor.MclkSource, hz uint64) error {
	fixed, ok := c.rates[source]
	if ok && fixed != hz {
		return fmt.Errorf("mclk%d runs at %d Hz, cannot provide %d Hz", source, fixed, hz)
	}

	c.logger.Debug("Master clock set",
		zap.Int("source", int(source)),
		zap.Uint64("hz", hz))
	return nil
}
