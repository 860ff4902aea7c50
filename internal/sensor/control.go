package sensor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/regprog"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"go.uber.org/zap"
)

// Detect reads the identity registers in order. A mismatch is reported as
// DeviceNotPresentError, a bus failure as a transport error.
func (e *Engine) Detect(ctx context.Context) (ChipID, error) {
	if err := e.exec.WriteAll(ctx, e.desc.ChipIDPrefix); err != nil {
		return 0, fmt.Errorf("failed to select chip id page: %w", err)
	}

	var id ChipID
	for _, r := range e.desc.ChipID {
		v, err := transport.Read(ctx, e.t, r.Addr)
		if err != nil {
			return 0, fmt.Errorf("failed to read chip id: %w", err)
		}
		if v != r.Value {
			return 0, &DeviceNotPresentError{Sensor: e.desc.Name, Addr: r.Addr, Want: r.Value, Got: v}
		}
		id = id<<8 | ChipID(v)
	}

	e.attr.ChipID = uint32(id)
	e.logger.Info("Sensor detected",
		zap.Stringer("chip_id", id),
		zap.Uint16("bus_address", e.desc.BusAddress))
	return id, nil
}

// Reset runs the descriptor's power sequence on whichever pins are wired.
func (e *Engine) Reset(ctx context.Context) error {
	if e.pins == nil {
		return nil
	}
	for _, step := range e.desc.PowerSequence {
		if !e.pins.Has(step.Pin) {
			continue
		}
		if err := e.pins.Set(ctx, step.Pin, step.High); err != nil {
			return fmt.Errorf("failed to drive %s pin: %w", step.Pin, err)
		}
		e.sleeper.Sleep(time.Duration(step.HoldMs) * time.Millisecond)
	}
	return nil
}

// Attach brings a freshly configured instance up: mode selection, power
// sequence, then identity check.
func (e *Engine) Attach(ctx context.Context, cfg AttachConfig) (ChipID, error) {
	if err := e.SelectMode(ctx, cfg); err != nil {
		return 0, err
	}
	if err := e.Reset(ctx); err != nil {
		return 0, err
	}
	return e.Detect(ctx)
}

// SetFlip sets mirror (bit 0) and vertical flip (bit 1) with a
// read-modify-write of the flip register.
func (e *Engine) SetFlip(ctx context.Context, mask FlipMask) error {
	f := e.desc.Flip
	if !f.supported() {
		return invalidRequest("%s has no flip control", e.desc.Name)
	}
	if mask > FlipMirror|FlipVertical {
		return invalidRequest("flip mask 0x%x", uint8(mask))
	}

	if err := e.exec.WriteAll(ctx, f.Prefix); err != nil {
		return fmt.Errorf("failed to set flip: %w", err)
	}
	v, err := transport.Read(ctx, e.t, f.Addr)
	if err != nil {
		return fmt.Errorf("failed to set flip: %w", err)
	}
	v &^= f.MirrorBits | f.FlipBits
	if mask&FlipMirror != 0 {
		v |= f.MirrorBits
	}
	if mask&FlipVertical != 0 {
		v |= f.FlipBits
	}
	ops := append([]regprog.Op{{Addr: f.Addr, Value: v}}, f.Suffix...)
	if err := e.exec.WriteAll(ctx, ops); err != nil {
		return fmt.Errorf("failed to set flip: %w", err)
	}

	e.notify(ctx)
	return nil
}

func (e *Engine) authorize(creds Credentials, reg DebugRegister) error {
	if creds == nil || !creds.IsAdmin() {
		return &PrivilegeError{Sensor: e.desc.Name, Reason: "administrative privilege required"}
	}
	if !strings.HasPrefix(reg.Name, e.desc.Name) {
		return &PrivilegeError{Sensor: e.desc.Name, Reason: fmt.Sprintf("register target %q does not name this sensor", reg.Name)}
	}
	return nil
}

// GetRegister reads one raw register for diagnostics.
func (e *Engine) GetRegister(ctx context.Context, creds Credentials, reg DebugRegister) (byte, error) {
	if err := e.authorize(creds, reg); err != nil {
		return 0, err
	}
	return transport.Read(ctx, e.t, e.desc.AddressWidth.Mask(reg.Addr))
}

// SetRegister writes one raw register for diagnostics. The attribute is not
// updated.
func (e *Engine) SetRegister(ctx context.Context, creds Credentials, reg DebugRegister, value byte) error {
	if err := e.authorize(creds, reg); err != nil {
		return err
	}
	addr := e.desc.AddressWidth.Mask(reg.Addr)
	e.logger.Warn("Debug register write",
		zap.Uint16("addr", addr),
		zap.Uint8("value", value))
	return transport.Write(ctx, e.t, addr, value)
}
