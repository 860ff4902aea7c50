package transport

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once
var hostInitErr error

// I2C reaches a sensor through a host i²c bus. Reads are a register-address
// write followed by a one byte read in a single transaction.
type I2C struct {
	bus   i2c.BusCloser
	dev   *i2c.Dev
	width AddressWidth
}

// OpenI2C opens the named bus ("" picks the first one) and binds the 7-bit
// device address.
func OpenI2C(busName string, addr uint16, width AddressWidth) (*I2C, error) {
	hostInit.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", hostInitErr)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}

	return NewI2C(bus, addr, width), nil
}

// NewI2C wraps an already opened bus.
func NewI2C(bus i2c.BusCloser, addr uint16, width AddressWidth) *I2C {
	return &I2C{
		bus:   bus,
		dev:   &i2c.Dev{Bus: bus, Addr: addr},
		width: width,
	}
}

func (t *I2C) ReadReg(ctx context.Context, addr uint16) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r := make([]byte, 1)
	if err := t.dev.Tx(t.width.Encode(addr), r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (t *I2C) WriteReg(ctx context.Context, addr uint16, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := append(t.width.Encode(addr), value)
	return t.dev.Tx(w, nil)
}

func (t *I2C) Close() error {
	return t.bus.Close()
}

func (t *I2C) String() string {
	return fmt.Sprintf("i2c(%s@0x%02x)", t.bus, t.dev.Addr)
}
