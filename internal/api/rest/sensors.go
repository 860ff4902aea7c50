package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/isp"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/timing"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FpsRequest struct {
	Num uint32 `json:"num" binding:"required"`
	Den uint32 `json:"den"`
}

type ModeRequest struct {
	Index *int `json:"index" binding:"required"`
}

type FlipRequest struct {
	Mirror bool `json:"mirror"`
	Flip   bool `json:"flip"`
}

type ExposureRequest struct {
	IntegrationTime uint32  `json:"integration_time" binding:"required"`
	Gain            *uint32 `json:"gain"`
}

type GainRequest struct {
	Analog  *uint32 `json:"analog"`
	Digital *uint32 `json:"digital"`
}

type GainResponse struct {
	Code     uint32 `json:"code"`
	Achieved uint32 `json:"achieved"`
}

type RegisterRequest struct {
	Value *uint8 `json:"value" binding:"required"`
}

// sensorFrom resolves :name, accepting either the instance name or its id.
func (s *Server) sensorFrom(c *gin.Context) (*isp.Controller, bool) {
	key := c.Param("name")
	mgr := s.lm.SensorManager()

	if id, err := uuid.Parse(key); err == nil {
		if ctrl, ok := mgr.Get(id); ok {
			return ctrl, true
		}
	}
	if ctrl, ok := mgr.GetByName(key); ok {
		return ctrl, true
	}

	c.JSON(http.StatusNotFound, types.NewErrorResponse("SENSOR_404", "Sensor not found", key))
	return nil, false
}

func (s *Server) sensorFailed(c *gin.Context, ctrl *isp.Controller, op string, err error) {
	status, body := types.SensorError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Sensor operation failed",
			zap.String("sensor", ctrl.Name()),
			zap.String("operation", op),
			zap.Error(err))
	}
	c.JSON(status, body)
}

// GET /api/v1/sensors
func (s *Server) listSensors(c *gin.Context) {
	ctrls := s.lm.SensorManager().List()

	response := make([]gin.H, 0, len(ctrls))
	for _, ctrl := range ctrls {
		st := ctrl.GetStatus()
		response = append(response, gin.H{
			"id":         st.ID,
			"name":       st.Name,
			"descriptor": st.Descriptor,
			"state":      st.State,
			"present":    st.Present,
			"mode":       st.Mode,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sensors": response,
		"count":   len(response),
	})
}

// GET /api/v1/sensors/:name
func (s *Server) getSensor(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.GetStatus())
}

// GET /api/v1/sensors/:name/video
func (s *Server) getVideo(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Video())
}

// POST /api/v1/sensors/:name/commands
func (s *Server) executeCommand(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}
	cmd, ok := isp.ParseCommand(req.Command)
	if !ok {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Unknown command", req.Command))
		return
	}

	if err := ctrl.ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.sensorFailed(c, ctrl, string(cmd), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Command executed",
		"command": cmd,
		"state":   ctrl.State(),
	})
}

// PUT /api/v1/sensors/:name/fps
func (s *Server) setFps(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	var req FpsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}
	if req.Den == 0 {
		req.Den = 1
	}

	if err := ctrl.SetFps(c.Request.Context(), timing.Rational{Num: req.Num, Den: req.Den}); err != nil {
		s.sensorFailed(c, ctrl, "set_fps", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Video())
}

// PUT /api/v1/sensors/:name/mode
func (s *Server) setMode(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}

	if err := ctrl.Resize(c.Request.Context(), *req.Index); err != nil {
		s.sensorFailed(c, ctrl, "set_mode", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Video())
}

// PUT /api/v1/sensors/:name/flip
func (s *Server) setFlip(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	var req FlipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}

	var mask sensor.FlipMask
	if req.Mirror {
		mask |= sensor.FlipMirror
	}
	if req.Flip {
		mask |= sensor.FlipVertical
	}

	if err := ctrl.SetFlip(c.Request.Context(), mask); err != nil {
		s.sensorFailed(c, ctrl, "set_flip", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mirror": req.Mirror, "flip": req.Flip})
}

// PUT /api/v1/sensors/:name/exposure
func (s *Server) setExposure(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	var req ExposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	if req.Gain == nil {
		if err := ctrl.SetIntegrationTime(ctx, req.IntegrationTime); err != nil {
			s.sensorFailed(c, ctrl, "set_integration_time", err)
			return
		}
		c.JSON(http.StatusOK, ctrl.Attribute())
		return
	}

	code, achieved, err := ctrl.SetExposure(ctx, req.IntegrationTime, *req.Gain)
	if err != nil {
		s.sensorFailed(c, ctrl, "set_exposure", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"integration_time": req.IntegrationTime,
		"gain":             GainResponse{Code: code, Achieved: achieved},
	})
}

// PUT /api/v1/sensors/:name/gain
func (s *Server) setGain(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	var req GainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}
	if req.Analog == nil && req.Digital == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", "analog or digital gain required"))
		return
	}

	ctx := c.Request.Context()
	response := gin.H{}
	if req.Analog != nil {
		code, achieved, err := ctrl.SetAnalogGain(ctx, *req.Analog)
		if err != nil {
			s.sensorFailed(c, ctrl, "set_analog_gain", err)
			return
		}
		response["analog"] = GainResponse{Code: code, Achieved: achieved}
	}
	if req.Digital != nil {
		code, achieved, err := ctrl.SetDigitalGain(ctx, *req.Digital)
		if err != nil {
			s.sensorFailed(c, ctrl, "set_digital_gain", err)
			return
		}
		response["digital"] = GainResponse{Code: code, Achieved: achieved}
	}
	c.JSON(http.StatusOK, response)
}

// GET /api/v1/sensors/:name/again?gain=N
func (s *Server) allocAgain(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	requested, err := strconv.ParseUint(c.Query("gain"), 0, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid gain", err.Error()))
		return
	}

	code, achieved := ctrl.AllocAgain(uint32(requested))
	c.JSON(http.StatusOK, GainResponse{Code: code, Achieved: achieved})
}

// POST /api/v1/sensors/:name/reload
func (s *Server) reloadSensor(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}
	name := ctrl.Name()

	fresh, err := s.lm.SensorManager().Reload(c.Request.Context(), name)
	if err != nil {
		s.logger.Error("Sensor reload failed", zap.String("sensor", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SENSOR_500", "Failed to reload sensor", err.Error()))
		return
	}

	s.logger.Info("Sensor reloaded via API", zap.String("sensor", name))
	c.JSON(http.StatusOK, fresh.GetStatus())
}

func parseRegister(c *gin.Context, ctrl *isp.Controller) (sensor.DebugRegister, bool) {
	addr, err := strconv.ParseUint(c.Param("addr"), 0, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid register address", err.Error()))
		return sensor.DebugRegister{}, false
	}
	return sensor.DebugRegister{
		Name: c.DefaultQuery("name", ctrl.Descriptor().Name),
		Addr: uint16(addr),
	}, true
}

// GET /api/v1/sensors/:name/registers/:addr
func (s *Server) readRegister(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}
	reg, ok := parseRegister(c, ctrl)
	if !ok {
		return
	}

	value, err := ctrl.GetRegister(c.Request.Context(), auth.PrincipalFrom(c), reg)
	if err != nil {
		s.sensorFailed(c, ctrl, "get_register", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"addr":  reg.Addr,
		"value": value,
	})
}

// PUT /api/v1/sensors/:name/registers/:addr
func (s *Server) writeRegister(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}
	reg, ok := parseRegister(c, ctrl)
	if !ok {
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid request body", err.Error()))
		return
	}

	if err := ctrl.SetRegister(c.Request.Context(), auth.PrincipalFrom(c), reg, *req.Value); err != nil {
		s.sensorFailed(c, ctrl, "set_register", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"addr":  reg.Addr,
		"value": *req.Value,
	})
}

// GET /api/v1/sensors/:name/audit
func (s *Server) listRegisterWrites(c *gin.Context) {
	ctrl, ok := s.sensorFrom(c)
	if !ok {
		return
	}

	store := s.lm.Storage()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("STORAGE_503", "Storage not configured", nil))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid limit", c.Query("limit")))
		return
	}

	writes, err := store.ListRegisterWrites(c.Request.Context(), ctrl.Name(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STORAGE_500", "Failed to list register writes", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"writes": writes,
		"count":  len(writes),
	})
}
