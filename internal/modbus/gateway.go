package modbus

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

// Gateway reaches a sensor through a Modbus-TCP to i²c gateway. Each sensor
// register is mapped one-to-one onto a holding register; only the low byte
// carries data. The unit id selects the gateway's bus and slave.
type Gateway struct {
	Name   string
	client *Client
	unitID uint8
	width  transport.AddressWidth
}

func NewGateway(name, host string, port int, unitID uint8, width transport.AddressWidth, timeout time.Duration) *Gateway {
	return &Gateway{
		Name:   name,
		client: NewClient(fmt.Sprintf("%s:%d", host, port), timeout),
		unitID: unitID,
		width:  width,
	}
}

// NewGatewayClient binds a gateway to an existing client.
func NewGatewayClient(name string, client *Client, unitID uint8, width transport.AddressWidth) *Gateway {
	return &Gateway{Name: name, client: client, unitID: unitID, width: width}
}

func (g *Gateway) Connect(ctx context.Context) error {
	if err := g.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", g.Name, err)
	}
	return nil
}

func (g *Gateway) ReadReg(ctx context.Context, addr uint16) (byte, error) {
	values, err := g.client.ReadHoldingRegisters(ctx, g.unitID, g.width.Mask(addr), 1)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("expected 1 register, got %d", len(values))
	}
	return byte(values[0]), nil
}

func (g *Gateway) WriteReg(ctx context.Context, addr uint16, value byte) error {
	return g.client.WriteSingleRegister(ctx, g.unitID, g.width.Mask(addr), uint16(value))
}

func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) String() string {
	return fmt.Sprintf("modbus:%s/%d", g.client.address, g.unitID)
}
