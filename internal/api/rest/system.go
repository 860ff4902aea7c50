package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/devices"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// The request context is cancelled once the response is written.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}

// GET /api/v1/descriptors
func (s *Server) listDescriptors(c *gin.Context) {
	names := s.lm.Loader().Available()
	c.JSON(http.StatusOK, gin.H{
		"descriptors": names,
		"count":       len(names),
	})
}

// GET /api/v1/descriptors/:name?format=json|yaml|toml
func (s *Server) getDescriptor(c *gin.Context) {
	format, err := devices.ParseFormat(c.DefaultQuery("format", "json"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("DESCRIPTOR_400", "Unsupported format", err.Error()))
		return
	}

	desc, err := s.lm.Loader().Load(c.Param("name"))
	if err != nil {
		if errors.Is(err, devices.ErrDescriptorNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("DESCRIPTOR_404", "Descriptor not found", err.Error()))
			return
		}
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("DESCRIPTOR_422", "Descriptor invalid", err.Error()))
		return
	}

	data, err := devices.Encode(format, desc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("DESCRIPTOR_500", "Failed to encode descriptor", err.Error()))
		return
	}
	c.Data(http.StatusOK, format.ContentType(), data)
}
