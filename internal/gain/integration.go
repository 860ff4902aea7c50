package gain

// ClampIntegration bounds an integration time request to the current
// exposure window.
func ClampIntegration(it, lo, hi uint32) uint32 {
	if hi > 0 && it > hi {
		it = hi
	}
	if it < lo {
		it = lo
	}
	return it
}

// PackExposure combines an integration time and an again code the way the
// ISP passes them in a single exposure event.
func PackExposure(it uint32, again uint32) uint32 {
	return (it & 0xffff) | (again&0xffff)<<16
}

// UnpackExposure splits a packed exposure event value.
func UnpackExposure(v uint32) (it uint32, again uint32) {
	return v & 0xffff, v >> 16
}

// Hysteresis switches one register between two values as the again code
// crosses a high and a low threshold. The band between the thresholds keeps
// the last value written.
type Hysteresis struct {
	Addr      uint16 `json:"addr" yaml:"addr" toml:"addr"`
	HighCode  uint32 `json:"high_code" yaml:"high_code" toml:"high_code"`
	LowCode   uint32 `json:"low_code" yaml:"low_code" toml:"low_code"`
	HighValue uint8  `json:"high_value" yaml:"high_value" toml:"high_value"`
	LowValue  uint8  `json:"low_value" yaml:"low_value" toml:"low_value"`
}

// Next reports whether the register has to be rewritten for code, given
// whether the high value is currently applied.
func (h Hysteresis) Next(code uint32, high bool) (value uint8, nowHigh bool, write bool) {
	switch {
	case code >= h.HighCode && !high:
		return h.HighValue, true, true
	case code <= h.LowCode && high:
		return h.LowValue, false, true
	default:
		return 0, high, false
	}
}
