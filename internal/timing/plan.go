package timing

import "fmt"

// Constraints are the per-mode limits a frame-rate change must respect.
type Constraints struct {
	PixelClock     uint64
	MinFPS         uint32
	MaxFPS         uint32
	BlankingMargin uint32
	MaxVTS         uint64 // 0 = no limit beyond 32 bits
}

// Plan is the full set of values a frame-rate change commits. It is
// computed before any register write so a failure half way leaves nothing
// to undo.
type Plan struct {
	FPS            Rational
	HTS            uint32
	VTS            uint32
	MaxIntegration uint32
}

// Check rejects requests outside [MinFPS, MaxFPS]; callers run it before
// touching the bus.
func (c Constraints) Check(fps Rational) error {
	if !fps.InRange(c.MinFPS, c.MaxFPS) {
		return fmt.Errorf("%w: %s not in [%d, %d]", ErrOutOfRange, fps, c.MinFPS, c.MaxFPS)
	}
	return nil
}

// NewPlan derives VTS and the exposure ceiling for fps given the current
// horizontal total.
func (c Constraints) NewPlan(fps Rational, hts uint32) (Plan, error) {
	if err := c.Check(fps); err != nil {
		return Plan{}, err
	}

	vts, err := ComputeVTS(c.PixelClock, hts, fps)
	if err != nil {
		return Plan{}, err
	}
	if vts <= c.BlankingMargin {
		return Plan{}, fmt.Errorf("%w: vts %d within blanking margin %d", ErrVTSRange, vts, c.BlankingMargin)
	}
	if c.MaxVTS > 0 && uint64(vts) > c.MaxVTS {
		return Plan{}, fmt.Errorf("%w: vts %d exceeds %d", ErrVTSRange, vts, c.MaxVTS)
	}

	return Plan{
		FPS:            fps,
		HTS:            hts,
		VTS:            vts,
		MaxIntegration: vts - c.BlankingMargin,
	}, nil
}
