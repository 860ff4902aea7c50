package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/interfaces"
	"github.com/KevinKickass/OpenSensorCore/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		// ==================== AUTH (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== DESCRIPTORS (OPERATOR+) ====================
		descriptors := v1.Group("/descriptors")
		descriptors.Use(s.authService.AuthMiddleware())
		descriptors.Use(auth.RequirePermission(auth.PermOperator))
		{
			descriptors.GET("", s.listDescriptors)
			descriptors.GET("/:name", s.getDescriptor)
		}

		// ==================== SENSORS ====================
		sensors := v1.Group("/sensors")
		sensors.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Operator+
			sensors.GET("", auth.RequirePermission(auth.PermOperator), s.listSensors)
			sensors.GET("/:name", auth.RequirePermission(auth.PermOperator), s.getSensor)
			sensors.GET("/:name/video", auth.RequirePermission(auth.PermOperator), s.getVideo)
			sensors.GET("/:name/again", auth.RequirePermission(auth.PermOperator), s.allocAgain)

			// Control: Technician+
			sensors.POST("/:name/commands", auth.RequirePermission(auth.PermTechnician), s.executeCommand)
			sensors.PUT("/:name/fps", auth.RequirePermission(auth.PermTechnician), s.setFps)
			sensors.PUT("/:name/mode", auth.RequirePermission(auth.PermTechnician), s.setMode)
			sensors.PUT("/:name/flip", auth.RequirePermission(auth.PermTechnician), s.setFlip)
			sensors.PUT("/:name/exposure", auth.RequirePermission(auth.PermTechnician), s.setExposure)
			sensors.PUT("/:name/gain", auth.RequirePermission(auth.PermTechnician), s.setGain)

			// Debug surface: Admin only
			sensors.POST("/:name/reload", auth.RequirePermission(auth.PermAdmin), s.reloadSensor)
			sensors.GET("/:name/registers/:addr", auth.RequirePermission(auth.PermAdmin), s.readRegister)
			sensors.PUT("/:name/registers/:addr", auth.RequirePermission(auth.PermAdmin), s.writeRegister)
			sensors.GET("/:name/audit", auth.RequirePermission(auth.PermAdmin), s.listRegisterWrites)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	code := http.StatusOK
	if status.SensorCount > 0 && status.PresentSensors < status.SensorCount {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":          status.State,
		"sensors":         status.SensorCount,
		"present_sensors": status.PresentSensors,
		"timestamp":       time.Now().Unix(),
	})
}
