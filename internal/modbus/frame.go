package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP header (7 bytes) + function code + data
type ModbusFrame struct {
	TransactionID uint16 // request/response correlation
	ProtocolID    uint16 // always 0x0000 for Modbus
	Length        uint16 // number of following bytes
	UnitID        uint8  // gateway channel, one per sensor bus
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeWriteSingleRegister  = 0x06

	exceptionBit = 0x80
	mbapLength   = 7
	maxFrameSize = 260
)

// ExceptionError is a Modbus exception response from the gateway.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02x on function 0x%02x", e.Code, e.FunctionCode)
}

// Encode builds the complete TCP frame.
func (f *ModbusFrame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // +2 for unit id and function code

	frame := make([]byte, mbapLength+1+len(f.Data))

	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses a received frame.
func DecodeFrame(data []byte) (*ModbusFrame, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &ModbusFrame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}

	if len(data) > 8 {
		frame.Data = data[8:]
	}

	if frame.FunctionCode&exceptionBit != 0 {
		code := uint8(0)
		if len(frame.Data) > 0 {
			code = frame.Data[0]
		}
		return frame, &ExceptionError{FunctionCode: frame.FunctionCode &^ exceptionBit, Code: code}
	}

	return frame, nil
}

// ReadHoldingRegistersRequest builds a function 0x03 request.
func ReadHoldingRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &ModbusFrame{
		TransactionID: transactionID,
		UnitID:        unitID,
		FunctionCode:  FuncCodeReadHoldingRegisters,
		Data:          data,
	}
}

// WriteSingleRegisterRequest builds a function 0x06 request.
func WriteSingleRegisterRequest(transactionID uint16, unitID uint8, addr uint16, value uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &ModbusFrame{
		TransactionID: transactionID,
		UnitID:        unitID,
		FunctionCode:  FuncCodeWriteSingleRegister,
		Data:          data,
	}
}

// ParseRegisterResponse parses a holding register response.
func (f *ModbusFrame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := f.Data[0]
	if len(f.Data) < int(byteCount)+1 {
		return nil, fmt.Errorf("incomplete response data")
	}

	registerCount := byteCount / 2
	registers := make([]uint16, registerCount)

	for i := 0; i < int(registerCount); i++ {
		offset := 1 + (i * 2)
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}
