package regprog

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

// Field maps part of a logical value onto one 8-bit register:
//
//	reg = ((v >> Shift) & Mask) << LeftShift
type Field struct {
	Addr      uint16 `json:"addr" yaml:"addr" toml:"addr"`
	Shift     uint8  `json:"shift" yaml:"shift" toml:"shift"`
	Mask      uint8  `json:"mask" yaml:"mask" toml:"mask"`
	LeftShift uint8  `json:"left_shift,omitempty" yaml:"left_shift,omitempty" toml:"left_shift,omitempty"`
}

func (f Field) encode(v uint64) byte {
	return byte(((v >> f.Shift) & uint64(f.Mask)) << f.LeftShift)
}

func (f Field) decode(b byte) uint64 {
	return uint64((b>>f.LeftShift)&f.Mask) << f.Shift
}

// Encoding describes how a multi-byte logical value is written to (or read
// from) a sensor. Fields are written in slice order, which is sensor
// specific. Prefix and Suffix are raw writes around the fields, typically a
// page select and a group latch.
type Encoding struct {
	Prefix []Op    `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	Scale  uint32  `json:"scale,omitempty" yaml:"scale,omitempty" toml:"scale,omitempty"`
	Offset int64   `json:"offset,omitempty" yaml:"offset,omitempty" toml:"offset,omitempty"`
	Fields []Field `json:"fields" yaml:"fields" toml:"fields"`
	Suffix []Op    `json:"suffix,omitempty" yaml:"suffix,omitempty" toml:"suffix,omitempty"`
}

func (e Encoding) scale() uint64 {
	if e.Scale == 0 {
		return 1
	}
	return uint64(e.Scale)
}

// Raw returns the register-domain value for logical value v.
func (e Encoding) Raw(v uint32) (uint64, error) {
	raw := int64(uint64(v)*e.scale()) + e.Offset
	if raw < 0 {
		return 0, fmt.Errorf("value %d with offset %d is negative", v, e.Offset)
	}
	return uint64(raw), nil
}

// Encode returns the ordered writes that program v.
func (e Encoding) Encode(v uint32) ([]Op, error) {
	raw, err := e.Raw(v)
	if err != nil {
		return nil, err
	}
	ops := make([]Op, 0, len(e.Prefix)+len(e.Fields)+len(e.Suffix))
	ops = append(ops, e.Prefix...)
	for _, f := range e.Fields {
		ops = append(ops, Op{Addr: f.Addr, Value: f.encode(raw)})
	}
	ops = append(ops, e.Suffix...)
	return ops, nil
}

// Max is the largest raw value the fields can carry.
func (e Encoding) Max() uint64 {
	var m uint64
	for _, f := range e.Fields {
		m |= uint64(f.Mask) << f.Shift
	}
	return m
}

// Decode writes Prefix, reads every field in order and reassembles the
// value. Scale acts as a pre-scale factor on the raw value, Offset is
// subtracted.
func (e Encoding) Decode(ctx context.Context, t transport.Transport) (uint32, error) {
	for _, op := range e.Prefix {
		if err := transport.Write(ctx, t, op.Addr, op.Value); err != nil {
			return 0, err
		}
	}
	var raw uint64
	for _, f := range e.Fields {
		b, err := transport.Read(ctx, t, f.Addr)
		if err != nil {
			return 0, err
		}
		raw |= f.decode(b)
	}
	v := int64(raw*e.scale()) - e.Offset
	if v < 0 {
		return 0, fmt.Errorf("decoded value %d is negative", v)
	}
	return uint32(v), nil
}
