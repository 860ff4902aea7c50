package sensor

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/gain"
	"github.com/KevinKickass/OpenSensorCore/internal/regprog"
	"go.uber.org/zap"
)

// AllocAgain maps a requested gain onto the largest table entry not above
// it and returns that entry's register code.
func (e *Engine) AllocAgain(requested uint32) (uint32, uint32) {
	entry, achieved := e.desc.AgainLUT.Alloc(requested, e.attr.MaxAgain)
	return entry.Code, achieved
}

// AllocDgain is AllocAgain for digital gain. Sensors without a digital
// gain table always get code 0.
func (e *Engine) AllocDgain(requested uint32) (uint32, uint32) {
	if len(e.desc.DgainLUT) == 0 {
		return 0, 0
	}
	entry, achieved := e.desc.DgainLUT.Alloc(requested, e.attr.MaxDgain)
	return entry.Code, achieved
}

func (e *Engine) integrationOps(it uint32) ([]regprog.Op, error) {
	clamped := gain.ClampIntegration(it, e.attr.MinIntegrationTime, e.attr.MaxIntegrationTime)
	if clamped != it {
		e.logger.Debug("Integration time clamped",
			zap.Uint32("requested", it),
			zap.Uint32("applied", clamped))
	}
	ops, err := e.desc.IntegrationTime.Encode(clamped)
	if err != nil {
		return nil, invalidRequest("integration time %d: %v", it, err)
	}
	return ops, nil
}

// againOps encodes code through the analog gain fields, or picks the
// code's row when the sensor programs gain from a register table.
func (e *Engine) againOps(code uint32) ([]regprog.Op, error) {
	if rows := e.desc.AgainRegisters; len(rows) > 0 {
		if int(code) >= len(rows) {
			return nil, invalidRequest("again code %d outside register table", code)
		}
		return append([]regprog.Op(nil), rows[code]...), nil
	}
	raw, err := e.desc.AnalogGain.Raw(code)
	if err != nil {
		return nil, invalidRequest("again code 0x%x: %v", code, err)
	}
	if raw > e.desc.AnalogGain.Max() {
		return nil, invalidRequest("again code 0x%x exceeds register range", code)
	}
	return e.desc.AnalogGain.Encode(code)
}

// gainSwitch applies the threshold register that follows the again code.
func (e *Engine) gainSwitch(ctx context.Context, code uint32) error {
	h := e.desc.GainSwitch
	if h == nil {
		return nil
	}
	value, high, write := h.Next(code, e.gainHigh)
	if !write {
		return nil
	}
	if err := e.exec.WriteAll(ctx, []regprog.Op{{Addr: h.Addr, Value: value}}); err != nil {
		return fmt.Errorf("failed to write gain switch: %w", err)
	}
	e.gainHigh = high
	return nil
}

func (e *Engine) SetIntegrationTime(ctx context.Context, it uint32) error {
	ops, err := e.integrationOps(it)
	if err != nil {
		return err
	}
	if err := e.exec.WriteAll(ctx, ops); err != nil {
		return fmt.Errorf("failed to set integration time: %w", err)
	}
	return nil
}

func (e *Engine) SetAnalogGain(ctx context.Context, code uint32) error {
	ops, err := e.againOps(code)
	if err != nil {
		return err
	}
	if err := e.exec.WriteAll(ctx, ops); err != nil {
		return fmt.Errorf("failed to set analog gain: %w", err)
	}
	return e.gainSwitch(ctx, code)
}

func (e *Engine) SetDigitalGain(ctx context.Context, code uint32) error {
	if e.desc.DigitalGain == nil {
		return nil
	}
	ops, err := e.desc.DigitalGain.Encode(code)
	if err != nil {
		return invalidRequest("dgain code 0x%x: %v", code, err)
	}
	if err := e.exec.WriteAll(ctx, ops); err != nil {
		return fmt.Errorf("failed to set digital gain: %w", err)
	}
	return nil
}

// SetCombinedExposure writes integration time and again from one packed
// value (it in the low half, again code in the high half) as a single
// ordered batch.
func (e *Engine) SetCombinedExposure(ctx context.Context, packed uint32) error {
	it, code := gain.UnpackExposure(packed)

	itOps, err := e.integrationOps(it)
	if err != nil {
		return err
	}
	gainOps, err := e.againOps(code)
	if err != nil {
		return err
	}
	if err := e.exec.WriteAll(ctx, append(itOps, gainOps...)); err != nil {
		return fmt.Errorf("failed to set exposure: %w", err)
	}
	return e.gainSwitch(ctx, code)
}
