package regprog

import (
	"context"
	"reflect"
	"testing"

	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

func TestEncodingEncode(t *testing.T) {
	tests := []struct {
		name string
		enc  Encoding
		v    uint32
		want []Op
	}{
		{
			name: "three field exposure with scale",
			enc: Encoding{
				Scale: 2,
				Fields: []Field{
					{Addr: 0x3e00, Shift: 12, Mask: 0x0f},
					{Addr: 0x3e01, Shift: 4, Mask: 0xff},
					{Addr: 0x3e02, Shift: 0, Mask: 0x0f, LeftShift: 4},
				},
			},
			v:    1001,
			want: []Op{{0x3e00, 0x00}, {0x3e01, 0x7d}, {0x3e02, 0x20}},
		},
		{
			name: "low then high with page select and latch",
			enc: Encoding{
				Prefix: []Op{{0xfd, 0x01}},
				Fields: []Field{
					{Addr: 0x0f, Shift: 0, Mask: 0xff},
					{Addr: 0x0e, Shift: 8, Mask: 0xff},
				},
				Suffix: []Op{{0xfe, 0x02}},
			},
			v:    0x0999,
			want: []Op{{0xfd, 0x01}, {0x0f, 0x99}, {0x0e, 0x09}, {0xfe, 0x02}},
		},
		{
			name: "blanking offset",
			enc: Encoding{
				Offset: 1244 - 2454,
				Fields: []Field{
					{Addr: 0x14, Shift: 8, Mask: 0xff},
					{Addr: 0x15, Shift: 0, Mask: 0xff},
				},
			},
			v:    4500,
			want: []Op{{0x14, 0x0c}, {0x15, 0xda}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.enc.Encode(tt.v)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode(%d) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestEncodingNegativeOffset(t *testing.T) {
	enc := Encoding{Offset: -100, Fields: []Field{{Addr: 1, Mask: 0xff}}}
	if _, err := enc.Encode(50); err == nil {
		t.Fatal("expected error for negative raw value")
	}
}

func TestEncodingDecode(t *testing.T) {
	mem := transport.NewMemory(transport.Addr16)
	mem.Preload(map[uint16]byte{0x320c: 0x04, 0x320d: 0xb0})

	hts := Encoding{Fields: []Field{
		{Addr: 0x320c, Shift: 8, Mask: 0xff},
		{Addr: 0x320d, Shift: 0, Mask: 0xff},
	}}
	v, err := hts.Decode(context.Background(), mem)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1200 {
		t.Errorf("Decode = %d, want 1200", v)
	}

	hts.Scale = 2
	v, _ = hts.Decode(context.Background(), mem)
	if v != 2400 {
		t.Errorf("pre-scaled Decode = %d, want 2400", v)
	}
}

func TestEncodingMax(t *testing.T) {
	enc := Encoding{Fields: []Field{
		{Addr: 0x320e, Shift: 8, Mask: 0x7f},
		{Addr: 0x320f, Shift: 0, Mask: 0xff},
	}}
	if enc.Max() != 0x7fff {
		t.Errorf("Max = 0x%x", enc.Max())
	}
}
