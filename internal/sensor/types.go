package sensor

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenSensorCore/internal/regprog"
	"github.com/KevinKickass/OpenSensorCore/internal/timing"
)

// StreamState is the streaming lifecycle of a sensor instance.
type StreamState int

const (
	StateDeinit StreamState = iota
	StateInit
	StateRunning
)

func (s StreamState) String() string {
	switch s {
	case StateDeinit:
		return "DEINIT"
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

func (s StreamState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// VideoInterface is the board-level data path the sensor is wired to.
type VideoInterface string

const (
	InterfaceMIPICSI0 VideoInterface = "mipi_csi0"
	InterfaceMIPICSI1 VideoInterface = "mipi_csi1"
	InterfaceDVP      VideoInterface = "dvp"
)

func ParseVideoInterface(s string) (VideoInterface, error) {
	switch v := VideoInterface(strings.ToLower(s)); v {
	case InterfaceMIPICSI0, InterfaceMIPICSI1, InterfaceDVP, "":
		return v, nil
	default:
		return "", fmt.Errorf("unknown video interface %q", s)
	}
}

// DataBus is the sensor output bus type.
type DataBus string

const (
	BusMIPI DataBus = "mipi"
	BusDVP  DataBus = "dvp"
)

// MclkSource selects one of the SoC's sensor master clock outputs.
type MclkSource int

// AttachConfig is the board configuration handed over when an instance is
// attached.
type AttachConfig struct {
	BootIndex int            `json:"boot_index"`
	Interface VideoInterface `json:"interface"`
	Mclk      MclkSource     `json:"mclk"`
	ResetGPIO string         `json:"reset_gpio,omitempty"`
	PwdnGPIO  string         `json:"pwdn_gpio,omitempty"`
}

// MIPI holds the CSI link parameters.
type MIPI struct {
	Clock uint32 `json:"clock_mbps"`
	Lanes uint8  `json:"lanes"`
	Index int    `json:"index"`
}

// Attribute is the per-instance sensor attribute record shared with the
// ISP. Only mode selection and frame-rate changes mutate it.
type Attribute struct {
	Name                      string  `json:"name"`
	ChipID                    uint32  `json:"chip_id"`
	BusAddress                uint16  `json:"bus_address"`
	DataBus                   DataBus `json:"data_bus"`
	MIPI                      MIPI    `json:"mipi"`
	TotalWidth                uint32  `json:"total_width"`
	TotalHeight               uint32  `json:"total_height"`
	MaxAgain                  uint32  `json:"max_again"`
	MaxDgain                  uint32  `json:"max_dgain"`
	MinIntegrationTime        uint32  `json:"min_integration_time"`
	MinIntegrationTimeNative  uint32  `json:"min_integration_time_native"`
	MaxIntegrationTime        uint32  `json:"max_integration_time"`
	MaxIntegrationTimeNative  uint32  `json:"max_integration_time_native"`
	IntegrationTimeLimit      uint32  `json:"integration_time_limit"`
	OneLineExposureUs         uint32  `json:"one_line_expr_in_us"`
	IntegrationTimeApplyDelay uint8   `json:"integration_time_apply_delay"`
	AgainApplyDelay           uint8   `json:"again_apply_delay"`
	DgainApplyDelay           uint8   `json:"dgain_apply_delay"`
	IntegrationTime           uint32  `json:"integration_time"`
	Again                     uint32  `json:"again"`
}

// WindowSetting is one static resolution/timing configuration.
type WindowSetting struct {
	Name        string          `json:"name"`
	Width       uint32          `json:"width"`
	Height      uint32          `json:"height"`
	FPS         timing.Rational `json:"fps"`
	PixelFormat string          `json:"pixel_format"`
	Colorspace  string          `json:"colorspace"`
	Program     regprog.Program `json:"program"`

	TotalWidth         uint32 `json:"total_width"`
	TotalHeight        uint32 `json:"total_height"`
	PixelClock         uint64 `json:"pixel_clock"`
	MclkHz             uint64 `json:"mclk_hz"`
	MinFPS             uint32 `json:"min_fps"`
	MaxFPS             uint32 `json:"max_fps"`
	MIPIClock          uint32 `json:"mipi_clock_mbps,omitempty"`
	Lanes              uint8  `json:"lanes,omitempty"`
	MinIntegrationTime uint32 `json:"min_integration_time,omitempty"`
	IntegrationTime    uint32 `json:"integration_time,omitempty"`
	OneLineExposureUs  uint32 `json:"one_line_expr_in_us,omitempty"`
}

// Video is the snapshot delivered to the ISP whenever the attribute
// changes.
type Video struct {
	Name        string          `json:"name"`
	Mode        int             `json:"mode"`
	Width       uint32          `json:"width"`
	Height      uint32          `json:"height"`
	PixelFormat string          `json:"pixel_format"`
	Colorspace  string          `json:"colorspace"`
	FPS         timing.Rational `json:"fps"`
	State       StreamState     `json:"state"`
	Attribute   Attribute       `json:"attribute"`
}

// FlipMask bit 0 mirrors horizontally, bit 1 flips vertically.
type FlipMask uint8

const (
	FlipMirror FlipMask = 1 << iota
	FlipVertical
)

// DebugRegister addresses a single register through the debug surface.
// Name must start with the sensor's name.
type DebugRegister struct {
	Name string `json:"name"`
	Addr uint16 `json:"addr"`
}

// ChipID is the identity assembled from the sensor's id registers.
type ChipID uint32

func (c ChipID) String() string { return fmt.Sprintf("0x%04x", uint32(c)) }
