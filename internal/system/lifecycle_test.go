package system

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func testConfig(sensors ...config.SensorConfig) *config.Config {
	cfg := &config.Config{Sensors: sensors}
	cfg.Auth.AccessTokenTTL = time.Minute
	cfg.Auth.RefreshTokenTTL = time.Hour
	return cfg
}

func memorySensor(name, descriptor string, preload map[string]uint8) config.SensorConfig {
	return config.SensorConfig{
		Name:       name,
		Descriptor: descriptor,
		Transport:  config.TransportConfig{Kind: config.TransportMemory, Preload: preload},
	}
}

func servingStatus(t *testing.T, lm *LifecycleManager, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := lm.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check %q: %v", service, err)
	}
	return resp.Status
}

func TestLifecycleStartAndShutdown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(memorySensor("cam0", "sc230ai", map[string]uint8{"0x3107": 0xcb, "0x3108": 0x34}))

	lm, err := NewLifecycleManager(ctx, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := lm.Start(ctx); err != nil {
		t.Fatal(err)
	}

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" || status.SensorCount != 1 || status.PresentSensors != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.StorageEnabled || status.MQTTEnabled {
		t.Errorf("optional backends reported enabled: %+v", status)
	}
	if got := servingStatus(t, lm, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall health = %s", got)
	}
	if got := servingStatus(t, lm, SensorServicePrefix+"cam0"); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("cam0 health = %s", got)
	}

	if err := lm.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-lm.Done():
	default:
		t.Error("Done not closed after Shutdown")
	}
	if got := lm.GetCurrentStatus(); got.State != "STOPPED" || got.SensorCount != 0 {
		t.Errorf("status after shutdown = %+v", got)
	}
	if err := lm.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}

func TestLifecycleMissingSensor(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(
		memorySensor("cam0", "sc230ai", map[string]uint8{"0x3107": 0xcb, "0x3108": 0x34}),
		// wrong chip id: attach fails and the instance is not registered
		memorySensor("cam1", "gc4023", map[string]uint8{"0x03f0": 0x12}),
	)

	lm, err := NewLifecycleManager(ctx, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := lm.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer lm.Shutdown(ctx)

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" || status.SensorCount != 1 {
		t.Errorf("status = %+v", status)
	}
	if got := servingStatus(t, lm, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall health = %s, want NOT_SERVING", got)
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateInitializing, false},
		{StateError, StateStopped, true},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v", tt.from, tt.to, err)
		}
	}
}
