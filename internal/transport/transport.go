package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport matches every bus failure reported through Error.
var ErrTransport = errors.New("register transport failure")

// Transport is a single-byte register bus. Address width is a property of
// the implementation (8 or 16 bit); values are always one byte.
type Transport interface {
	ReadReg(ctx context.Context, addr uint16) (byte, error)
	WriteReg(ctx context.Context, addr uint16, value byte) error
}

// Closer is implemented by transports holding an OS resource.
type Closer interface {
	Close() error
}

type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Error wraps a failed bus access with the register it was addressed to.
type Error struct {
	Op    Op
	Addr  uint16
	Value byte
	Err   error
}

func (e *Error) Error() string {
	if e.Op == OpWrite {
		return fmt.Sprintf("register %s 0x%04x=0x%02x failed: %v", e.Op, e.Addr, e.Value, e.Err)
	}
	return fmt.Sprintf("register %s 0x%04x failed: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTransport }

// Read issues a read and wraps any failure as *Error.
func Read(ctx context.Context, t Transport, addr uint16) (byte, error) {
	v, err := t.ReadReg(ctx, addr)
	if err != nil {
		return 0, wrap(OpRead, addr, 0, err)
	}
	return v, nil
}

// Write issues a write and wraps any failure as *Error.
func Write(ctx context.Context, t Transport, addr uint16, value byte) error {
	if err := t.WriteReg(ctx, addr, value); err != nil {
		return wrap(OpWrite, addr, value, err)
	}
	return nil
}

func wrap(op Op, addr uint16, value byte, err error) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Addr: addr, Value: value, Err: err}
}

// AddressWidth is the number of address bytes sent on the bus.
type AddressWidth int

const (
	Addr8  AddressWidth = 1
	Addr16 AddressWidth = 2
)

// Mask truncates addr to the bus address width.
func (w AddressWidth) Mask(addr uint16) uint16 {
	if w == Addr8 {
		return addr & 0xff
	}
	return addr
}

// Encode returns the on-wire address bytes, most significant first.
func (w AddressWidth) Encode(addr uint16) []byte {
	if w == Addr8 {
		return []byte{byte(addr)}
	}
	return []byte{byte(addr >> 8), byte(addr)}
}
