package gain

import (
	"errors"
	"testing"
)

// A slice of the sc230ai coarse/fine table.
var testLUT = LUT{
	{0x340, 0},
	{0x341, 1465},
	{0x342, 2818},
	{0x343, 4330},
	{0x344, 5731},
	{0x345, 7026},
	{0x346, 8471},
	{0x347, 9729},
	{0x348, 11135},
	{0x349, 12439},
	{0x74a, 65536},
	{0x74b, 65536},
	{0xf40, 131072},
}

const testMax = 131072

func TestAllocZero(t *testing.T) {
	e, g := testLUT.Alloc(0, testMax)
	if e.Code != 0x340 || g != 0 {
		t.Errorf("Alloc(0) = %+v, %d", e, g)
	}
}

func TestAllocFloorAndTightness(t *testing.T) {
	for g := uint32(0); g <= testMax; g += 97 {
		e, achieved := testLUT.Alloc(g, testMax)
		if achieved > g {
			t.Fatalf("Alloc(%d) rounded up to %d", g, achieved)
		}
		if achieved != e.Gain && g != 0 {
			t.Fatalf("Alloc(%d) achieved %d does not match entry gain %d", g, achieved, e.Gain)
		}
		for _, other := range testLUT {
			if other.Gain > achieved && other.Gain <= g {
				t.Fatalf("Alloc(%d) = %d is not tight: %d fits", g, achieved, other.Gain)
			}
		}
	}
}

func TestAllocExactEntry(t *testing.T) {
	e, g := testLUT.Alloc(4330, testMax)
	if e.Code != 0x343 || g != 4330 {
		t.Errorf("exact match should select the entry itself, got %+v", e)
	}
}

func TestAllocDuplicateGainsPickLast(t *testing.T) {
	e, _ := testLUT.Alloc(70000, testMax)
	if e.Code != 0x74b {
		t.Errorf("expected last of equal-gain entries, got 0x%x", e.Code)
	}
}

func TestAllocClamp(t *testing.T) {
	tests := []struct {
		name      string
		requested uint32
		max       uint32
		wantCode  uint32
		wantGain  uint32
	}{
		{"at max", testMax, testMax, 0xf40, testMax},
		{"above max", testMax + 1, testMax, 0xf40, testMax},
		{"far above max", 1 << 31, testMax, 0xf40, testMax},
		{"lowered ceiling", 100000, 65536, 0x74b, 65536},
		{"between entries below lowered ceiling", 12000, 65536, 0x348, 11135},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, g := testLUT.Alloc(tt.requested, tt.max)
			if e.Code != tt.wantCode || g != tt.wantGain {
				t.Errorf("Alloc(%d, %d) = 0x%x/%d, want 0x%x/%d", tt.requested, tt.max, e.Code, g, tt.wantCode, tt.wantGain)
			}
		})
	}
}

func TestAllocEmpty(t *testing.T) {
	e, g := LUT(nil).Alloc(1000, 1000)
	if e != (Entry{}) || g != 0 {
		t.Errorf("empty table should return zero entry")
	}
}

func TestValidate(t *testing.T) {
	if err := testLUT.Validate(testMax); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}

	bad := []struct {
		name string
		lut  LUT
		max  uint32
	}{
		{"empty", nil, 0},
		{"nonzero start", LUT{{1, 10}, {2, 20}}, 20},
		{"decreasing", LUT{{1, 0}, {2, 20}, {3, 10}}, 10},
		{"max mismatch", LUT{{1, 0}, {2, 20}}, 30},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.lut.Validate(tt.max); !errors.Is(err, ErrInvalidLUT) {
				t.Errorf("expected ErrInvalidLUT, got %v", err)
			}
		})
	}
}

func TestClampIntegration(t *testing.T) {
	if got := ClampIntegration(5000, 2, 1121); got != 1121 {
		t.Errorf("upper clamp: %d", got)
	}
	if got := ClampIntegration(0, 2, 1121); got != 2 {
		t.Errorf("lower clamp: %d", got)
	}
	if got := ClampIntegration(600, 2, 1121); got != 600 {
		t.Errorf("in range: %d", got)
	}
}

func TestPackExposure(t *testing.T) {
	v := PackExposure(0x8c1, 0x3f47)
	it, again := UnpackExposure(v)
	if it != 0x8c1 || again != 0x3f47 {
		t.Errorf("UnpackExposure(0x%x) = 0x%x, 0x%x", v, it, again)
	}
}

func TestHysteresis(t *testing.T) {
	h := Hysteresis{Addr: 0x5799, HighCode: 0x3f47, LowCode: 0x2f5f, HighValue: 0x07, LowValue: 0x00}

	steps := []struct {
		code      uint32
		wantWrite bool
		wantHigh  bool
	}{
		{0x0340, false, false},
		{0x3f47, true, true},
		{0x3f7f, false, true},
		{0x3000, false, true},
		{0x2f5f, true, false},
		{0x2000, false, false},
	}

	high := false
	for _, s := range steps {
		_, nowHigh, write := h.Next(s.code, high)
		if write != s.wantWrite || nowHigh != s.wantHigh {
			t.Errorf("code 0x%x: write=%v high=%v, want %v %v", s.code, write, nowHigh, s.wantWrite, s.wantHigh)
		}
		high = nowHigh
	}
}
