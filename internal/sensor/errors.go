package sensor

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotPresent is returned when the identity registers do not
	// match. It is not a bus failure and retrying will not help.
	ErrDeviceNotPresent = errors.New("device not present")

	// ErrInvalidRequest is returned before any I/O when a request is outside
	// what the active mode supports.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPrivilege guards the debug register surface.
	ErrPrivilege = errors.New("insufficient privilege")
)

type DeviceNotPresentError struct {
	Sensor string
	Addr   uint16
	Want   uint8
	Got    uint8
}

func (e *DeviceNotPresentError) Error() string {
	return fmt.Sprintf("%s not found: id register 0x%04x reads 0x%02x, want 0x%02x",
		e.Sensor, e.Addr, e.Got, e.Want)
}

func (e *DeviceNotPresentError) Is(target error) bool { return target == ErrDeviceNotPresent }

type PrivilegeError struct {
	Sensor string
	Reason string
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Sensor, e.Reason)
}

func (e *PrivilegeError) Is(target error) bool { return target == ErrPrivilege }

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
