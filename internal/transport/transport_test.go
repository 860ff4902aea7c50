package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestMemoryFailNthWrite(t *testing.T) {
	m := NewMemory(Addr16)
	m.FailNthWrite(3)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		err := m.WriteReg(ctx, uint16(0x3000+i), byte(i))
		if i == 3 && err == nil {
			t.Fatalf("write %d: expected injected failure", i)
		}
		if i != 3 && err != nil {
			t.Fatalf("write %d: unexpected error %v", i, err)
		}
	}

	if got := len(m.Writes()); got != 3 {
		t.Errorf("expected 3 successful writes, got %d", got)
	}
}

func TestMemoryAddressMask(t *testing.T) {
	m := NewMemory(Addr8)
	if err := m.WriteReg(context.Background(), 0x1fd, 0x01); err != nil {
		t.Fatal(err)
	}
	if m.Value(0xfd) != 0x01 {
		t.Errorf("8-bit transport must truncate addresses")
	}
}

func TestWrapErrors(t *testing.T) {
	m := NewMemory(Addr16)
	cause := errors.New("nack")
	m.FailAddress(0x3107, cause)

	_, err := Read(context.Background(), m, 0x3107)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be preserved")
	}
	var te *Error
	if !errors.As(err, &te) || te.Addr != 0x3107 || te.Op != OpRead {
		t.Errorf("unexpected error detail: %#v", te)
	}

	err = Write(context.Background(), m, 0x3107, 0xaa)
	if !strings.Contains(err.Error(), "0x3107=0xaa") {
		t.Errorf("write error should name register and value: %v", err)
	}
}

func TestAddressWidthEncode(t *testing.T) {
	if got := Addr8.Encode(0x12fd); !bytes.Equal(got, []byte{0xfd}) {
		t.Errorf("Addr8.Encode = %x", got)
	}
	if got := Addr16.Encode(0x320e); !bytes.Equal(got, []byte{0x32, 0x0e}) {
		t.Errorf("Addr16.Encode = %x", got)
	}
}

// fakeBridge answers bridge packets from an in-memory register file.
type fakeBridge struct {
	regs map[string]string
	out  bytes.Buffer
	req  bytes.Buffer
	fail bool
}

func (f *fakeBridge) Write(p []byte) (int, error) {
	f.req.Write(p)
	typ, data, err := readPacket(bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	if f.fail {
		f.out.Write(encodePacket("ERR ", "NACK"))
		return len(p), nil
	}
	// a stale packet of another type must be skipped by the reader
	f.out.Write(encodePacket("STAT", "00"))
	switch typ {
	case cmdWriteReg:
		s := string(data)
		f.regs[s[2:len(s)-2]] = s[len(s)-2:]
		f.out.Write(encodePacket(cmdWriteReg, "OK"))
	case cmdReadReg:
		s := string(data)
		v, ok := f.regs[s[2:]]
		if !ok {
			v = "00"
		}
		f.out.Write(encodePacket(cmdReadReg, v))
	}
	return len(p), nil
}

func (f *fakeBridge) Read(p []byte) (int, error) { return f.out.Read(p) }
func (f *fakeBridge) Close() error               { return nil }

func TestSerialRoundTrip(t *testing.T) {
	bridge := &fakeBridge{regs: map[string]string{}}
	s := NewSerial(bridge, 0x30, Addr16)
	ctx := context.Background()

	if err := s.WriteReg(ctx, 0x320e, 0x11); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	if !strings.Contains(bridge.req.String(), "WREG30320E11") {
		t.Errorf("unexpected request framing: %q", bridge.req.String())
	}

	v, err := s.ReadReg(ctx, 0x320e)
	if err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if v != 0x11 {
		t.Errorf("ReadReg = 0x%02x, want 0x11", v)
	}
}

func TestSerialBridgeError(t *testing.T) {
	bridge := &fakeBridge{regs: map[string]string{}, fail: true}
	s := NewSerial(bridge, 0x3c, Addr8)
	if err := s.WriteReg(context.Background(), 0xfd, 0x01); err == nil {
		t.Fatal("expected bridge error")
	}
}

func TestReadPacketChecksum(t *testing.T) {
	pkt := encodePacket(cmdReadReg, "AB")
	pkt[len(pkt)-1] ^= 0x01
	if _, _, err := readPacket(bytes.NewReader(pkt)); err == nil {
		t.Fatal("expected checksum mismatch")
	}

	good := encodePacket(cmdReadReg, hex.EncodeToString([]byte{0xab}))
	typ, data, err := readPacket(bytes.NewReader(good))
	if err != nil || typ != cmdReadReg || string(data) != "ab" {
		t.Fatalf("readPacket = %q %q %v", typ, data, err)
	}
}
