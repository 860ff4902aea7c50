package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Serial talks to a USB-CDC i²c bridge. Packets are framed as
//
//	"   #" LLLL TTTT <payload> CCCC
//
// with LLLL the hex length of type+payload+checksum, TTTT the command
// ("WREG"/"RREG") and CCCC the 16-bit byte sum of type+payload.
type Serial struct {
	port  io.ReadWriteCloser
	slave uint16
	width AddressWidth
	mu    sync.Mutex
}

const (
	serialHeader   = "   #"
	cmdWriteReg    = "WREG"
	cmdReadReg     = "RREG"
	bridgeVendorID = "2E8A"
)

// OpenSerial opens portName, or the first bridge found by USB vendor id when
// portName is empty.
func OpenSerial(portName string, baud int, slave uint16, width AddressWidth) (*Serial, error) {
	if portName == "" {
		var err error
		portName, err = findBridgePort()
		if err != nil {
			return nil, err
		}
	}

	p, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial bridge %s: %w", portName, err)
	}

	return NewSerial(p, slave, width), nil
}

// NewSerial wraps an open stream to the bridge.
func NewSerial(port io.ReadWriteCloser, slave uint16, width AddressWidth) *Serial {
	return &Serial{port: port, slave: slave, width: width}
}

func (s *Serial) ReadReg(ctx context.Context, addr uint16) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	payload := fmt.Sprintf("%02X%s", s.slave, hex.EncodeToString(s.width.Encode(addr)))
	data, err := s.roundTrip(cmdReadReg, payload)
	if err != nil {
		return 0, err
	}
	v, err := hex.DecodeString(string(data))
	if err != nil || len(v) != 1 {
		return 0, fmt.Errorf("invalid register value %q", data)
	}
	return v[0], nil
}

func (s *Serial) WriteReg(ctx context.Context, addr uint16, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := fmt.Sprintf("%02X%s%02X", s.slave, hex.EncodeToString(s.width.Encode(addr)), value)
	data, err := s.roundTrip(cmdWriteReg, payload)
	if err != nil {
		return err
	}
	if string(data) != "OK" {
		return fmt.Errorf("bridge rejected write: %q", data)
	}
	return nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}

func (s *Serial) roundTrip(cmd, payload string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.port.Write(encodePacket(cmd, strings.ToUpper(payload))); err != nil {
		return nil, fmt.Errorf("failed to write to serial bridge: %w", err)
	}

	for {
		packetType, data, err := readPacket(s.port)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if packetType == "ERR " {
			return nil, fmt.Errorf("bridge error: %s", data)
		}
		if packetType == cmd {
			return data, nil
		}
	}
}

func encodePacket(cmd, payload string) []byte {
	body := cmd + payload
	return []byte(fmt.Sprintf("%s%04X%s%04X", serialHeader, len(body)+4, body, checksum(body)))
}

func readPacket(r io.Reader) (string, []byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, err
	}
	if string(header[:4]) != serialHeader {
		return "", nil, fmt.Errorf("bad packet header %q", header[:4])
	}

	length, err := strconv.ParseUint(string(header[4:8]), 16, 16)
	if err != nil || length < 8 {
		return "", nil, fmt.Errorf("bad packet length %q", header[4:8])
	}
	packetType := string(header[8:12])

	rest := make([]byte, length-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return "", nil, err
	}
	data, sum := rest[:len(rest)-4], rest[len(rest)-4:]

	want, err := strconv.ParseUint(string(sum), 16, 16)
	if err != nil {
		return "", nil, fmt.Errorf("bad checksum field %q", sum)
	}
	if got := checksum(packetType + string(data)); uint64(got) != want {
		return "", nil, fmt.Errorf("checksum mismatch: got %04X, want %04X", got, want)
	}

	return packetType, data, nil
}

func checksum(s string) uint16 {
	var sum uint16
	for i := 0; i < len(s); i++ {
		sum += uint16(s[i])
	}
	return sum
}

func findBridgePort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, bridgeVendorID) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no serial bridge with vendor id %s found", bridgeVendorID)
}
