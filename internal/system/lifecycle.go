package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/api/rest"
	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/devices"
	"github.com/KevinKickass/OpenSensorCore/internal/interfaces"
	"github.com/KevinKickass/OpenSensorCore/internal/metrics"
	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/sensors"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SensorServicePrefix prefixes the per-sensor gRPC health service names.
const SensorServicePrefix = "opensensorcore.sensor."

type LifecycleManager struct {
	config        *config.Config
	storage       *storage.PostgresClient
	loader        *devices.DescriptorLoader
	watcher       *devices.Watcher
	sensorManager *devices.Manager
	authService   *auth.AuthService
	fanout        *notify.Fanout
	mqtt          *notify.MQTTPublisher
	wsHub         *websocket.Hub
	logger        *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server
	healthKick chan struct{}

	stateMu      sync.RWMutex
	currentState SystemState

	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires every component from cfg. The database and the
// MQTT broker are optional; a configured one that cannot be reached is an
// error.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		fanout:       notify.NewFanout(),
		health:       health.NewServer(),
		healthKick:   make(chan struct{}, 1),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	var recorder auth.EventRecorder
	if cfg.Database.Enabled() {
		db, err := storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		lm.storage = db
		recorder = db
		lm.fanout.Add(storage.NewSnapshotSink(db, logger))
		logger.Info("Database connected successfully")
	}

	lm.authService = auth.NewAuthService(cfg.Auth, recorder, logger)

	lm.wsHub = websocket.NewHub(logger, lm.authService)
	lm.wsHub.SetStatusProvider(lm)
	lm.fanout.Add(lm.wsHub)
	lm.fanout.Add(metrics.Sink{})
	lm.fanout.Add(notify.SinkFunc(lm.kickHealth))

	if cfg.MQTT.Enabled() {
		pub, err := notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password(),
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			KeepAlive:   cfg.MQTT.KeepAlive,
		}, logger)
		if err != nil {
			lm.closeStorage()
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		lm.mqtt = pub
		lm.fanout.Add(pub)
	}

	loader, err := devices.NewDescriptorLoader(cfg.Descriptors.SearchPaths, sensors.FS(), logger)
	if err != nil {
		lm.closeStorage()
		return nil, err
	}
	lm.loader = loader

	var opts []devices.ManagerOption
	if lm.storage != nil {
		opts = append(opts, devices.WithAuditor(lm.storage))
	}
	lm.sensorManager = devices.NewManager(loader, lm.fanout, logger, opts...)

	return lm, nil
}

// Start attaches the configured sensors and opens the network surfaces.
// Sensors that fail to attach are logged and left out; the daemon still
// comes up so they can be inspected and reloaded.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenSensorCore",
		zap.Int("sensors", len(lm.config.Sensors)),
		zap.Strings("descriptors", lm.loader.Available()))

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	go lm.wsHub.Run(runCtx)
	go lm.healthLoop(runCtx)

	if lm.config.Descriptors.Watch && len(lm.config.Descriptors.SearchPaths) > 0 {
		lm.watcher = devices.NewWatcher(lm.loader, lm.config.Descriptors.Debounce, lm.logger)
		lm.watcher.OnChange(lm.sensorManager.DescriptorChanged)
		if err := lm.watcher.Start(runCtx); err != nil {
			lm.logger.Warn("Descriptor watcher disabled", zap.Error(err))
			lm.watcher = nil
		}
	}

	if err := lm.sensorManager.LoadAll(ctx, lm.config.Sensors); err != nil {
		lm.logger.Warn("Some sensors failed to load", zap.Error(err))
	}
	lm.refreshHealth()

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("sensors_loaded", len(lm.sensorManager.List())))

	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()
		lm.health.Shutdown()

		shutdownErr = lm.gracefulShutdown(ctx)

		if lm.cancel != nil {
			lm.cancel()
		}
		if lm.watcher != nil {
			if err := lm.watcher.Stop(); err != nil {
				lm.logger.Warn("Failed to stop descriptor watcher", zap.Error(err))
			}
		}
		if lm.mqtt != nil {
			lm.mqtt.Close()
		}
		lm.closeStorage()

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Sensors: stream off and release transports
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.sensorManager.StopAll(ctx); err != nil {
			errChan <- fmt.Errorf("sensor manager stop failed: %w", err)
		}
	}()

	// 2. REST API
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errChan)
		var errs []error
		for err := range errChan {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// kickHealth runs on the publishing goroutine, which may hold a sensor
// lock, so it only schedules a refresh.
func (lm *LifecycleManager) kickHealth(_ context.Context, e notify.Event) {
	if e.Type == notify.EventAttribute {
		return
	}
	select {
	case lm.healthKick <- struct{}{}:
	default:
	}
}

func (lm *LifecycleManager) healthLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-lm.healthKick:
			lm.refreshHealth()
		}
	}
}

// refreshHealth reports SERVING overall once every configured sensor is
// attached and present, and per sensor under SensorServicePrefix+name.
func (lm *LifecycleManager) refreshHealth() {
	present := 0
	for _, ctrl := range lm.sensorManager.List() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if ctrl.GetStatus().Present {
			status = healthpb.HealthCheckResponse_SERVING
			present++
		}
		lm.health.SetServingStatus(SensorServicePrefix+ctrl.Name(), status)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if present == len(lm.config.Sensors) {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	lm.health.SetServingStatus("", overall)
}

func (lm *LifecycleManager) closeStorage() {
	if lm.storage != nil {
		lm.storage.Close()
		lm.storage = nil
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
	lm.broadcastStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	ctrls := lm.sensorManager.List()
	present, streaming := 0, 0
	for _, ctrl := range ctrls {
		st := ctrl.GetStatus()
		if st.Present {
			present++
		}
		if st.State == sensor.StateRunning {
			streaming++
		}
	}

	return interfaces.SystemStatus{
		State:          state.String(),
		SensorCount:    len(ctrls),
		PresentSensors: present,
		Streaming:      streaming,
		StorageEnabled: lm.storage != nil,
		MQTTEnabled:    lm.mqtt != nil,
	}
}

// SystemStatus feeds newly connected WebSocket clients.
func (lm *LifecycleManager) SystemStatus() any {
	return lm.GetCurrentStatus()
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// HealthServer exposes the gRPC health service, mainly for tests.
func (lm *LifecycleManager) HealthServer() *health.Server {
	return lm.health
}

func (lm *LifecycleManager) SensorManager() *devices.Manager {
	return lm.sensorManager
}

func (lm *LifecycleManager) Loader() *devices.DescriptorLoader {
	return lm.loader
}

// Storage returns the storage client, nil when no database is configured.
func (lm *LifecycleManager) Storage() *storage.PostgresClient {
	return lm.storage
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
