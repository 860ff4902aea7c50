package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

type Client struct {
	address       string
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	connected     bool
}

func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		address: address,
		timeout: timeout,
	}
}

// NewClientConn wraps an established connection.
func NewClientConn(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		address:   conn.RemoteAddr().String(),
		conn:      conn,
		timeout:   timeout,
		connected: true,
	}
}

// Connect opens the TCP connection to the gateway.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// SendFrame sends one request and waits for the matching response.
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, fmt.Errorf("not connected")
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	// MBAP header first, then exactly Length-1 more bytes
	buf := make([]byte, maxFrameSize)
	if _, err := io.ReadFull(c.conn, buf[:mbapLength]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	length := int(binary.BigEndian.Uint16(buf[4:6]))
	if length < 2 || mbapLength+length-1 > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", length)
	}
	n := mbapLength + length - 1
	if _, err := io.ReadFull(c.conn, buf[mbapLength:n]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if response.TransactionID != request.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}

	return response, nil
}

func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	request := ReadHoldingRegistersRequest(0, unitID, startAddr, quantity)

	response, err := c.SendFrame(ctx, request)
	if err != nil {
		return nil, err
	}

	return response.ParseRegisterResponse()
}

func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr uint16, value uint16) error {
	request := WriteSingleRegisterRequest(0, unitID, addr, value)

	_, err := c.SendFrame(ctx, request)
	return err
}
