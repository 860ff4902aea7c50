package types

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/timing"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// SensorError maps an error returned by a sensor operation to its HTTP
// status and payload.
func SensorError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, sensor.ErrInvalidRequest),
		errors.Is(err, timing.ErrOutOfRange),
		errors.Is(err, timing.ErrVTSRange):
		return http.StatusBadRequest, NewErrorResponse("SENSOR_400", "Invalid request", err.Error())
	case errors.Is(err, sensor.ErrPrivilege):
		return http.StatusForbidden, NewErrorResponse("SENSOR_403", "Insufficient privilege", err.Error())
	case errors.Is(err, sensor.ErrDeviceNotPresent):
		return http.StatusNotFound, NewErrorResponse("SENSOR_404", "Sensor not present", err.Error())
	case errors.Is(err, transport.ErrTransport):
		return http.StatusBadGateway, NewErrorResponse("SENSOR_502", "Register bus failure", err.Error())
	default:
		return http.StatusInternalServerError, NewErrorResponse("SENSOR_500", "Sensor operation failed", err.Error())
	}
}
