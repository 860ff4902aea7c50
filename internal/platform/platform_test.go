package platform

import (
	"context"
	"testing"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestPinsSet(t *testing.T) {
	reset := &gpiotest.Pin{N: "GPIO17", Num: 17}
	pins := NewPins(map[sensor.PinRole]gpio.PinOut{sensor.PinReset: reset}, zaptest.NewLogger(t))
	ctx := context.Background()

	if !pins.Has(sensor.PinReset) || pins.Has(sensor.PinPwdn) {
		t.Fatal("unexpected pin wiring")
	}

	if err := pins.Set(ctx, sensor.PinReset, true); err != nil {
		t.Fatal(err)
	}
	if reset.Read() != gpio.High {
		t.Error("expected reset high")
	}
	if err := pins.Set(ctx, sensor.PinReset, false); err != nil {
		t.Fatal(err)
	}
	if reset.Read() != gpio.Low {
		t.Error("expected reset low")
	}

	if err := pins.Set(ctx, sensor.PinPwdn, true); err == nil {
		t.Error("expected error for unwired pin")
	}
}

func TestFixedClock(t *testing.T) {
	clock := NewFixedClock(map[sensor.MclkSource]uint64{0: 24000000}, zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		source  sensor.MclkSource
		hz      uint64
		wantErr bool
	}{
		{"matching rate", 0, 24000000, false},
		{"other rate", 0, 27000000, true},
		{"unconstrained source", 1, 27000000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := clock.SetRate(ctx, tt.source, tt.hz)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetRate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
