// Package platform binds the sensor engine to board resources: the reset
// and power-down GPIO lines and the master clock.
package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostOnce sync.Once
var hostErr error

// Pins drives the control lines of one sensor. Roles without a pin are
// reported as missing so the power sequence skips them.
type Pins struct {
	pins   map[sensor.PinRole]gpio.PinOut
	logger *zap.Logger
}

// NewPins binds already resolved pins.
func NewPins(pins map[sensor.PinRole]gpio.PinOut, logger *zap.Logger) *Pins {
	return &Pins{pins: pins, logger: logger}
}

// OpenPins resolves GPIO names through the periph registry. Empty names are
// left unwired.
func OpenPins(reset, pwdn string, logger *zap.Logger) (*Pins, error) {
	names := map[sensor.PinRole]string{sensor.PinReset: reset, sensor.PinPwdn: pwdn}
	pins := make(map[sensor.PinRole]gpio.PinOut)

	for role, name := range names {
		if name == "" {
			continue
		}
		hostOnce.Do(func() {
			_, hostErr = host.Init()
		})
		if hostErr != nil {
			return nil, fmt.Errorf("failed to initialize host drivers: %w", hostErr)
		}

		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio %q not found for %s", name, role)
		}
		pins[role] = p
	}

	return NewPins(pins, logger), nil
}

func (p *Pins) Has(role sensor.PinRole) bool {
	_, ok := p.pins[role]
	return ok
}

func (p *Pins) Set(ctx context.Context, role sensor.PinRole, high bool) error {
	pin, ok := p.pins[role]
	if !ok {
		return fmt.Errorf("no %s pin wired", role)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := pin.Out(level); err != nil {
		return fmt.Errorf("failed to drive %s pin %s: %w", role, pin, err)
	}

	p.logger.Debug("Pin driven",
		zap.String("role", string(role)),
		zap.String("pin", pin.String()),
		zap.Bool("high", high))
	return nil
}
