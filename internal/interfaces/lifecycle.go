package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/devices"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State          string `json:"state"`
	SensorCount    int    `json:"sensor_count"`
	PresentSensors int    `json:"present_sensors"`
	Streaming      int    `json:"streaming_sensors"`
	StorageEnabled bool   `json:"storage_enabled"`
	MQTTEnabled    bool   `json:"mqtt_enabled"`
}

type LifecycleManager interface {
	Config() *config.Config
	// Storage is nil when no database is configured.
	Storage() *storage.PostgresClient
	SensorManager() *devices.Manager
	Loader() *devices.DescriptorLoader
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
