package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/gain"
	"github.com/KevinKickass/OpenSensorCore/internal/regprog"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

// IdentityRegister is one byte of the chip id. Registers are read in order
// and concatenated most significant first.
type IdentityRegister struct {
	Addr  uint16 `json:"addr"`
	Value uint8  `json:"value"`
}

// FlipControl describes the read-modify-write used for mirror and flip.
// MirrorBits and FlipBits are set or cleared as a group.
type FlipControl struct {
	Prefix     []regprog.Op `json:"prefix,omitempty"`
	Addr       uint16       `json:"addr"`
	MirrorBits uint8        `json:"mirror_bits"`
	FlipBits   uint8        `json:"flip_bits"`
	Suffix     []regprog.Op `json:"suffix,omitempty"`
}

func (f FlipControl) supported() bool {
	return f.MirrorBits != 0 || f.FlipBits != 0
}

type PinRole string

const (
	PinReset PinRole = "reset"
	PinPwdn  PinRole = "pwdn"
)

// PowerStep drives one control pin and holds it for HoldMs.
type PowerStep struct {
	Pin    PinRole `json:"pin"`
	High   bool    `json:"high"`
	HoldMs uint32  `json:"hold_ms"`
}

// Descriptor is everything that distinguishes one sensor model from
// another. The engine is generic over it.
type Descriptor struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version,omitempty"`
	BusAddress   uint16                 `json:"bus_address"`
	AddressWidth transport.AddressWidth `json:"address_width"`
	Sentinels    regprog.Sentinels      `json:"sentinels"`
	DelayUnitUs  uint32                 `json:"delay_unit_us,omitempty"`
	ChipID       []IdentityRegister     `json:"chip_id"`
	// ChipIDPrefix is written before the identity reads, typically a page
	// select for sensors whose id registers live on one page.
	ChipIDPrefix []regprog.Op           `json:"chip_id_prefix,omitempty"`

	Attribute Attribute `json:"attribute"`

	AgainLUT        gain.LUT          `json:"again_lut"`
	DgainLUT        gain.LUT          `json:"dgain_lut,omitempty"`
	IntegrationTime regprog.Encoding  `json:"integration_time"`
	AnalogGain      regprog.Encoding  `json:"analog_gain"`
	AgainRegisters  [][]regprog.Op    `json:"again_registers,omitempty"`
	DigitalGain     *regprog.Encoding `json:"digital_gain,omitempty"`
	GainSwitch      *gain.Hysteresis  `json:"gain_switch,omitempty"`

	HTS            regprog.Encoding `json:"hts"`
	VTS            regprog.Encoding `json:"vts"`
	BlankingMargin uint32           `json:"blanking_margin"`

	Modes       []WindowSetting `json:"modes"`
	DefaultMode int             `json:"default_mode"`

	StreamOn      regprog.Program `json:"stream_on"`
	StreamOff     regprog.Program `json:"stream_off"`
	Flip          FlipControl     `json:"flip"`
	PowerSequence []PowerStep     `json:"power_sequence,omitempty"`
}

// DelayUnit is the time one DELAY step waits for.
func (d *Descriptor) DelayUnit() time.Duration {
	if d.DelayUnitUs == 0 {
		return time.Millisecond
	}
	return time.Duration(d.DelayUnitUs) * time.Microsecond
}

// ExpectedChipID concatenates the identity register values.
func (d *Descriptor) ExpectedChipID() ChipID {
	var id ChipID
	for _, r := range d.ChipID {
		id = id<<8 | ChipID(r.Value)
	}
	return id
}

// Validate checks the invariants the engine relies on. Descriptors come
// from files, so this runs on every load.
func (d *Descriptor) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if d.Name == "" {
		fail("name is required")
	}
	if d.AddressWidth != transport.Addr8 && d.AddressWidth != transport.Addr16 {
		fail("address_width must be 1 or 2, got %d", d.AddressWidth)
	}
	if d.Sentinels.End == d.Sentinels.Delay {
		fail("end and delay sentinels must differ")
	}
	if len(d.ChipID) == 0 {
		fail("at least one chip_id register is required")
	}
	if err := d.AgainLUT.Validate(d.Attribute.MaxAgain); err != nil {
		fail("again_lut: %w", err)
	}
	if len(d.DgainLUT) > 0 {
		if err := d.DgainLUT.Validate(d.Attribute.MaxDgain); err != nil {
			fail("dgain_lut: %w", err)
		}
	}
	if len(d.IntegrationTime.Fields) == 0 {
		fail("integration_time has no fields")
	}
	if len(d.AnalogGain.Fields) == 0 && len(d.AgainRegisters) == 0 {
		fail("either analog_gain fields or again_registers are required")
	}
	for _, e := range d.AgainLUT {
		if len(d.AgainRegisters) > 0 && int(e.Code) >= len(d.AgainRegisters) {
			fail("again_lut code %d has no again_registers row", e.Code)
		}
	}
	if len(d.HTS.Fields) == 0 || len(d.VTS.Fields) == 0 {
		fail("hts and vts need at least one field")
	}
	if len(d.Modes) == 0 {
		fail("at least one mode is required")
	}
	if d.DefaultMode < 0 || d.DefaultMode >= len(d.Modes) {
		fail("default_mode %d out of range", d.DefaultMode)
	}
	for i, m := range d.Modes {
		if m.Width == 0 || m.Height == 0 {
			fail("mode %d: zero window size", i)
		}
		if m.PixelClock == 0 {
			fail("mode %d: pixel_clock is required", i)
		}
		if m.MinFPS == 0 || m.MinFPS > m.MaxFPS {
			fail("mode %d: invalid fps range [%d, %d]", i, m.MinFPS, m.MaxFPS)
		}
		if m.TotalHeight <= d.BlankingMargin {
			fail("mode %d: total_height %d within blanking margin", i, m.TotalHeight)
		}
	}
	return errors.Join(errs...)
}
