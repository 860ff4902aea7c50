package timing

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOutOfRange = errors.New("frame rate out of range")
	ErrZeroHTS    = errors.New("horizontal total is zero")
	ErrVTSRange   = errors.New("vertical total not representable")
)

// Rational is a frame rate num/den in frames per second.
type Rational struct {
	Num uint32 `json:"num"`
	Den uint32 `json:"den"`
}

func FPS(n uint32) Rational { return Rational{Num: n, Den: 1} }

// Unpack decodes the ISP's packed fps word (num<<16 | den).
func Unpack(v uint32) Rational {
	return Rational{Num: v >> 16, Den: v & 0xffff}
}

func (r Rational) Pack() uint32 {
	return (r.Num&0xffff)<<16 | (r.Den & 0xffff)
}

// Q8 returns the rate as 24.8 fixed point, truncated.
func (r Rational) Q8() uint32 {
	if r.Den == 0 {
		return 0
	}
	return (r.Num/r.Den)<<8 + ((r.Num%r.Den)<<8)/r.Den
}

// InRange reports whether minFPS <= r <= maxFPS at 24.8 precision.
func (r Rational) InRange(minFPS, maxFPS uint32) bool {
	if r.Den == 0 || r.Num == 0 {
		return false
	}
	q := r.Q8()
	return q >= minFPS<<8 && q <= maxFPS<<8
}

// Period is the exact frame period of r.
func (r Rational) Period() time.Duration {
	if r.Num == 0 {
		return 0
	}
	return time.Duration(uint64(r.Den) * uint64(time.Second) / uint64(r.Num))
}

func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	if r.Den == 1 {
		return fmt.Sprintf("%d", r.Num)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// ComputeVTS returns the vertical total giving fps at the given pixel clock
// and horizontal total:
//
//	VTS = pclk * den / hts / num
//
// Both divisions truncate, so the realised frame is never longer than the
// requested period (the realised rate is never below the request).
func ComputeVTS(pclk uint64, hts uint32, fps Rational) (uint32, error) {
	if hts == 0 {
		return 0, ErrZeroHTS
	}
	if fps.Num == 0 || fps.Den == 0 {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, fps)
	}
	vts := pclk * uint64(fps.Den) / uint64(hts) / uint64(fps.Num)
	if vts > 0xffffffff {
		return 0, fmt.Errorf("%w: %d", ErrVTSRange, vts)
	}
	return uint32(vts), nil
}

// RealizedPeriod is the frame period the sensor produces for hts x vts
// pixels at pclk.
func RealizedPeriod(pclk uint64, hts, vts uint32) time.Duration {
	if pclk == 0 {
		return 0
	}
	return time.Duration(uint64(hts) * uint64(vts) * uint64(time.Second) / pclk)
}
