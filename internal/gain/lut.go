package gain

import (
	"errors"
	"fmt"
)

// Entry pairs a sensor gain register code with its ISP-normalised gain
// (log2 fixed point, 65536 per doubling).
type Entry struct {
	Code uint32 `json:"code" yaml:"code" toml:"code"`
	Gain uint32 `json:"gain" yaml:"gain" toml:"gain"`
}

// LUT is ordered by ascending Gain.
type LUT []Entry

var ErrInvalidLUT = errors.New("invalid gain table")

// Validate checks the ordering invariants the allocator relies on.
func (l LUT) Validate(maxGain uint32) error {
	if len(l) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidLUT)
	}
	if l[0].Gain != 0 {
		return fmt.Errorf("%w: first entry gain is %d, want 0", ErrInvalidLUT, l[0].Gain)
	}
	for i := 1; i < len(l); i++ {
		if l[i].Gain < l[i-1].Gain {
			return fmt.Errorf("%w: entry %d gain %d below previous %d", ErrInvalidLUT, i, l[i].Gain, l[i-1].Gain)
		}
	}
	if last := l[len(l)-1].Gain; last != maxGain {
		return fmt.Errorf("%w: last entry gain %d does not match max gain %d", ErrInvalidLUT, last, maxGain)
	}
	return nil
}

// Alloc quantises requested down to the nearest table entry. The achieved
// gain never exceeds the request, so quantisation can only under-expose.
// Requests at or above maxGain clamp to the greatest entry not above it.
func (l LUT) Alloc(requested, maxGain uint32) (Entry, uint32) {
	if len(l) == 0 {
		return Entry{}, 0
	}
	if requested == 0 {
		return l[0], 0
	}

	for i, e := range l {
		if e.Gain > maxGain || requested < e.Gain {
			if i == 0 {
				return l[0], l[0].Gain
			}
			return l[i-1], l[i-1].Gain
		}
	}

	last := l[len(l)-1]
	return last, last.Gain
}

// Max returns the final entry's gain.
func (l LUT) Max() uint32 {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1].Gain
}
