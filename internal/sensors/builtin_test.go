package sensors_test

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/devices"
	"github.com/KevinKickass/OpenSensorCore/internal/regprog"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/sensors"
	"github.com/KevinKickass/OpenSensorCore/internal/timing"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"go.uber.org/zap/zaptest"
)

func load(t *testing.T, name string) (*sensor.Engine, *transport.Memory) {
	t.Helper()
	desc := descriptor(t, name)
	mem := transport.NewMemory(desc.AddressWidth)
	return engine(t, desc, mem), mem
}

func descriptor(t *testing.T, name string) *sensor.Descriptor {
	t.Helper()
	l, err := devices.NewDescriptorLoader(nil, sensors.FS(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	desc, err := l.Load(name)
	if err != nil {
		t.Fatal(err)
	}
	return desc
}

func engine(t *testing.T, desc *sensor.Descriptor, bus transport.Transport) *sensor.Engine {
	t.Helper()
	e, err := sensor.New(desc, bus, zaptest.NewLogger(t),
		sensor.WithSleeper(regprog.SleeperFunc(func(time.Duration) {})))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// pagedBus is an 8-bit register file banked by the 0xfd page select.
type pagedBus struct {
	page byte
	regs map[uint16]byte
}

func (b *pagedBus) ReadReg(_ context.Context, addr uint16) (byte, error) {
	if addr == 0xfd {
		return b.page, nil
	}
	return b.regs[uint16(b.page)<<8|addr], nil
}

func (b *pagedBus) WriteReg(_ context.Context, addr uint16, value byte) error {
	if addr == 0xfd {
		b.page = value
		return nil
	}
	b.regs[uint16(b.page)<<8|addr] = value
	return nil
}

func TestNames(t *testing.T) {
	names := sensors.Names()
	if len(names) != 3 || names[0] != "gc4023" || names[1] != "ov02b10" || names[2] != "sc230ai" {
		t.Errorf("Names() = %v", names)
	}
}

func TestFrameRate(t *testing.T) {
	tests := []struct {
		sensor  string
		preload map[uint16]byte
		fps     uint32
		want    []transport.WriteRecord
	}{
		{
			sensor:  "sc230ai",
			preload: map[uint16]byte{0x320c: 0x09, 0x320d: 0x60},
			fps:     30,
			// 162 MHz / 2400 / 30 = 2250
			want: []transport.WriteRecord{{Addr: 0x320f, Value: 0xca}, {Addr: 0x320e, Value: 0x08}},
		},
		{
			sensor:  "gc4023",
			preload: map[uint16]byte{0x0342: 0x07, 0x0343: 0x80},
			fps:     30,
			// HTS reads 1920 and is doubled to 3840: 121.5 MHz / 3840 / 30 = 1054
			want: []transport.WriteRecord{{Addr: 0x0340, Value: 0x04}, {Addr: 0x0341, Value: 0x1e}},
		},
		{
			sensor:  "ov02b10",
			preload: map[uint16]byte{0x25: 0x01, 0x26: 0xc0},
			fps:     15,
			// 16490880 / 448 / 15 = 2454, register holds 2454 - 1210
			want: []transport.WriteRecord{
				{Addr: 0xfd, Value: 0x01},
				{Addr: 0x14, Value: 0x04},
				{Addr: 0x15, Value: 0xdc},
				{Addr: 0xfe, Value: 0x02},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.sensor, func(t *testing.T) {
			e, mem := load(t, tt.sensor)
			mem.Preload(tt.preload)

			if err := e.SetFps(context.Background(), timing.FPS(tt.fps).Pack()); err != nil {
				t.Fatal(err)
			}

			got := mem.Writes()
			if len(got) < len(tt.want) {
				t.Fatalf("writes = %v", got)
			}
			got = got[len(got)-len(tt.want):]
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("write %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			if e.Video().FPS != timing.FPS(tt.fps) {
				t.Errorf("fps = %s", e.Video().FPS)
			}
			if tt.sensor == "gc4023" && e.Attribute().TotalHeight != 1054 {
				t.Errorf("total height = %d, want 1054", e.Attribute().TotalHeight)
			}
		})
	}
}

func TestGC4023GainTable(t *testing.T) {
	e, mem := load(t, "gc4023")

	code, achieved := e.AllocAgain(20000)
	if code != 1 || achieved != 16208 {
		t.Fatalf("AllocAgain(20000) = %d, %d", code, achieved)
	}
	if err := e.SetAnalogGain(context.Background(), code); err != nil {
		t.Fatal(err)
	}

	want := []transport.WriteRecord{
		{Addr: 0x0614, Value: 0x80},
		{Addr: 0x0615, Value: 0x02},
		{Addr: 0x0218, Value: 0x00},
		{Addr: 0x1467, Value: 0x19},
		{Addr: 0x1468, Value: 0x19},
		{Addr: 0x00b8, Value: 0x01},
		{Addr: 0x00b9, Value: 0x0b},
	}
	got := mem.Writes()
	if len(got) != len(want) {
		t.Fatalf("writes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if err := e.SetAnalogGain(context.Background(), 99); err == nil {
		t.Error("code past the register table accepted")
	}
}

func TestOV02B10DetectAfterPagedWrites(t *testing.T) {
	bus := &pagedBus{regs: map[uint16]byte{
		0x0002: 0x00, 0x0003: 0x2b, // page 0 id
		0x0102: 0x5a, 0x0103: 0x11, // page 1 registers at the same offsets
	}}
	e := engine(t, descriptor(t, "ov02b10"), bus)
	ctx := context.Background()

	if _, err := e.Detect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.SetIntegrationTime(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if bus.page != 1 {
		t.Fatalf("page = %d after exposure write, want 1", bus.page)
	}

	id, err := e.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect after exposure write: %v", err)
	}
	if id != 0x002b {
		t.Errorf("id = %s", id)
	}
	if bus.page != 0 {
		t.Errorf("page = %d after detect, want 0", bus.page)
	}
}
