package timing

import (
	"errors"
	"testing"
	"time"
)

func TestComputeVTSScenario(t *testing.T) {
	vts, err := ComputeVTS(162_000_000, 2400, FPS(15))
	if err != nil {
		t.Fatal(err)
	}
	if vts != 4500 {
		t.Errorf("VTS = %d, want 4500", vts)
	}

	c := Constraints{PixelClock: 162_000_000, MinFPS: 5, MaxFPS: 60, BlankingMargin: 4}
	p, err := c.NewPlan(FPS(15), 2400)
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxIntegration != 4496 {
		t.Errorf("MaxIntegration = %d, want 4496", p.MaxIntegration)
	}
}

func TestRealizedPeriodNeverLonger(t *testing.T) {
	clocks := []uint64{24_000_000, 72_000_000, 81_000_000, 162_000_000}
	htsValues := []uint32{448, 1100, 2200, 2400, 2750, 3000}
	rates := []Rational{
		FPS(5), FPS(7), FPS(10), FPS(13), FPS(15), FPS(25), FPS(29), FPS(30), FPS(60),
		{Num: 30000, Den: 1001}, {Num: 25, Den: 2}, {Num: 100, Den: 7},
	}

	for _, pclk := range clocks {
		for _, hts := range htsValues {
			for _, fps := range rates {
				vts, err := ComputeVTS(pclk, hts, fps)
				if err != nil {
					t.Fatal(err)
				}
				// hts*vts/pclk <= den/num  <=>  hts*vts*num <= pclk*den
				lhs := uint64(hts) * uint64(vts) * uint64(fps.Num)
				rhs := pclk * uint64(fps.Den)
				if lhs > rhs {
					t.Fatalf("pclk=%d hts=%d fps=%s: realised period longer than requested (vts=%d)", pclk, hts, fps, vts)
				}
				// nested truncation equals a single floor, so one more line overshoots
				if next := uint64(hts) * uint64(vts+1) * uint64(fps.Num); next <= rhs {
					t.Fatalf("pclk=%d hts=%d fps=%s: vts %d is not the largest fitting value", pclk, hts, fps, vts)
				}
				if RealizedPeriod(pclk, hts, vts) > fps.Period() {
					t.Fatalf("RealizedPeriod exceeds Period for %s", fps)
				}
			}
		}
	}
}

func TestComputeVTSErrors(t *testing.T) {
	if _, err := ComputeVTS(162_000_000, 0, FPS(30)); !errors.Is(err, ErrZeroHTS) {
		t.Errorf("expected ErrZeroHTS, got %v", err)
	}
	if _, err := ComputeVTS(162_000_000, 2400, Rational{Num: 30}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for zero denominator, got %v", err)
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		fps  Rational
		want bool
	}{
		{FPS(5), true},
		{FPS(60), true},
		{FPS(4), false},
		{FPS(61), false},
		{Rational{Num: 30000, Den: 1001}, true},
		{Rational{Num: 121, Den: 2}, false},
		{Rational{Num: 119, Den: 2}, true},
		{Rational{Num: 9, Den: 2}, false},
		{Rational{Num: 30, Den: 0}, false},
		{Rational{Num: 0, Den: 1}, false},
	}
	for _, tt := range tests {
		if got := tt.fps.InRange(5, 60); got != tt.want {
			t.Errorf("%s.InRange(5, 60) = %v, want %v", tt.fps, got, tt.want)
		}
	}
}

// Range checks run on the 24.8 value, so a rate a fraction above the
// ceiling that truncates onto it is accepted.
func TestInRangeTruncatesToQ8(t *testing.T) {
	tests := []struct {
		fps  Rational
		want bool
	}{
		{Rational{Num: 30001, Den: 1000}, true},
		{Rational{Num: 30003, Den: 1000}, true},
		{Rational{Num: 30004, Den: 1000}, false},
		{Rational{Num: 4999, Den: 1000}, false},
	}
	for _, tt := range tests {
		if got := tt.fps.InRange(5, 30); got != tt.want {
			t.Errorf("%d/%d: Q8 = %d, InRange(5, 30) = %v, want %v", tt.fps.Num, tt.fps.Den, tt.fps.Q8(), got, tt.want)
		}
	}
}

func TestPackUnpack(t *testing.T) {
	packed := uint32(25<<16 | 1)
	r := Unpack(packed)
	if r.Num != 25 || r.Den != 1 {
		t.Errorf("Unpack = %+v", r)
	}
	if r.Pack() != packed {
		t.Errorf("Pack = 0x%x", r.Pack())
	}
	if (Rational{Num: 30000, Den: 1001}).Q8() != 7672 {
		t.Errorf("Q8 of 29.97 = %d", (Rational{Num: 30000, Den: 1001}).Q8())
	}
}

func TestPlanRejections(t *testing.T) {
	c := Constraints{PixelClock: 162_000_000, MinFPS: 5, MaxFPS: 60, BlankingMargin: 4, MaxVTS: 0x7fff}

	if _, err := c.NewPlan(FPS(61), 2400); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	// 162MHz / 10 / 5fps = 3.24M lines, beyond a 15-bit VTS
	if _, err := c.NewPlan(FPS(5), 10); !errors.Is(err, ErrVTSRange) {
		t.Errorf("expected ErrVTSRange, got %v", err)
	}
	// huge HTS leaves no room for blanking
	if _, err := c.NewPlan(FPS(60), 2_000_000); !errors.Is(err, ErrVTSRange) {
		t.Errorf("expected ErrVTSRange for vts within margin, got %v", err)
	}
}

func TestPeriod(t *testing.T) {
	if FPS(25).Period() != 40*time.Millisecond {
		t.Errorf("Period(25) = %v", FPS(25).Period())
	}
}
