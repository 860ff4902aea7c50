package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/isp"
	"github.com/KevinKickass/OpenSensorCore/internal/metrics"
	"github.com/KevinKickass/OpenSensorCore/internal/modbus"
	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/platform"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownSensor is returned for names no instance is registered under.
var ErrUnknownSensor = errors.New("unknown sensor")

// TransportFactory opens the register bus of one instance.
type TransportFactory func(ctx context.Context, cfg config.TransportConfig, desc *sensor.Descriptor) (transport.Transport, error)

type instance struct {
	ctrl      *isp.Controller
	cfg       config.SensorConfig
	transport *metrics.Transport
	monitor   *Monitor
}

// Manager owns every attached sensor instance.
type Manager struct {
	loader    *DescriptorLoader
	sink      notify.Sink
	auditor   isp.Auditor
	transport TransportFactory
	pins      func(cfg config.AttachConfig) (sensor.PinController, error)

	instances map[uuid.UUID]*instance
	byName    map[string]uuid.UUID
	mu        sync.RWMutex
	logger    *zap.Logger
}

type ManagerOption func(*Manager)

func WithAuditor(a isp.Auditor) ManagerOption {
	return func(m *Manager) { m.auditor = a }
}

// WithTransportFactory replaces the configured bus kinds, mainly for tests.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) { m.transport = f }
}

func NewManager(loader *DescriptorLoader, sink notify.Sink, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		loader:    loader,
		sink:      sink,
		transport: OpenTransport,
		instances: make(map[uuid.UUID]*instance),
		byName:    make(map[string]uuid.UUID),
		logger:    logger,
	}
	m.pins = func(cfg config.AttachConfig) (sensor.PinController, error) {
		return platform.OpenPins(cfg.ResetGPIO, cfg.PwdnGPIO, m.logger)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadSensor builds, attaches and registers one configured instance.
func (m *Manager) LoadSensor(ctx context.Context, cfg config.SensorConfig) (*isp.Controller, error) {
	m.mu.RLock()
	_, exists := m.byName[cfg.Name]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("sensor %s already loaded", cfg.Name)
	}

	desc, err := m.loader.Load(cfg.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptor %s: %w", cfg.Descriptor, err)
	}

	attach, err := attachConfig(cfg.Attach)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", cfg.Name, err)
	}

	bus, err := m.transport(ctx, cfg.Transport, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to open transport for %s: %w", cfg.Name, err)
	}
	tr := metrics.Instrument(cfg.Name, bus)

	pins, err := m.pins(cfg.Attach)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to open pins for %s: %w", cfg.Name, err)
	}

	rates := make(map[sensor.MclkSource]uint64)
	if cfg.Attach.MclkHz > 0 {
		rates[attach.Mclk] = cfg.Attach.MclkHz
	}

	notifier := notify.ForInstance(cfg.Name, m.sink)
	logger := m.logger.With(zap.String("instance", cfg.Name))

	engine, err := sensor.New(desc, tr, logger,
		sensor.WithNotifier(notifier),
		sensor.WithClock(platform.NewFixedClock(rates, logger)),
		sensor.WithPins(pins),
	)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to create sensor %s: %w", cfg.Name, err)
	}

	opts := []isp.Option{isp.WithErrorReporter(notifier)}
	if m.auditor != nil {
		opts = append(opts, isp.WithAuditor(m.auditor))
	}
	ctrl := isp.NewController(cfg.Name, engine, attach, m.logger, opts...)

	if _, err := ctrl.Attach(ctx); err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to attach sensor %s: %w", cfg.Name, err)
	}

	inst := &instance{ctrl: ctrl, cfg: cfg, transport: tr}
	if cfg.MonitorInterval > 0 {
		inst.monitor = NewMonitor(ctrl, cfg.MonitorInterval, m.logger)
		inst.monitor.Start()
	}

	m.mu.Lock()
	m.instances[ctrl.ID] = inst
	m.byName[cfg.Name] = ctrl.ID
	m.mu.Unlock()

	m.logger.Info("Sensor loaded",
		zap.String("name", cfg.Name),
		zap.String("descriptor", desc.Name),
		zap.String("transport", cfg.Transport.Kind))

	return ctrl, nil
}

// LoadAll loads every configured sensor. Failures are logged and joined;
// the remaining sensors are still loaded.
func (m *Manager) LoadAll(ctx context.Context, sensors []config.SensorConfig) error {
	var errs []error
	for _, cfg := range sensors {
		if _, err := m.LoadSensor(ctx, cfg); err != nil {
			m.logger.Error("Failed to load sensor",
				zap.String("name", cfg.Name),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload detaches an instance and attaches it again from its configuration,
// picking up descriptor changes.
func (m *Manager) Reload(ctx context.Context, name string) (*isp.Controller, error) {
	m.mu.Lock()
	id, ok := m.byName[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	inst := m.instances[id]
	delete(m.instances, id)
	delete(m.byName, name)
	m.mu.Unlock()

	m.detach(ctx, inst)
	m.loader.Invalidate(inst.cfg.Descriptor)
	return m.LoadSensor(ctx, inst.cfg)
}

// DescriptorChanged is the watcher callback. Running streams are not
// interrupted; instances are only flagged in the log.
func (m *Manager) DescriptorChanged(descriptor string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inst := range m.instances {
		if inst.cfg.Descriptor == descriptor {
			m.logger.Warn("Descriptor changed, reload required",
				zap.String("name", inst.cfg.Name),
				zap.String("descriptor", descriptor))
		}
	}
}

func (m *Manager) Get(id uuid.UUID) (*isp.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, false
	}
	return inst.ctrl, true
}

func (m *Manager) GetByName(name string) (*isp.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.instances[id].ctrl, true
}

// List returns all instances sorted by name.
func (m *Manager) List() []*isp.Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*isp.Controller, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.ctrl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StopAll stops streaming on every instance and releases its bus.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[uuid.UUID]*instance)
	m.byName = make(map[string]uuid.UUID)
	m.mu.Unlock()

	for _, inst := range instances {
		m.detach(ctx, inst)
	}
	return nil
}

func (m *Manager) detach(ctx context.Context, inst *instance) {
	if inst.monitor != nil {
		inst.monitor.Stop()
	}
	if inst.ctrl.State() == sensor.StateRunning {
		if err := inst.ctrl.ExecuteCommand(ctx, isp.CommandStreamOff); err != nil {
			m.logger.Error("Failed to stop stream",
				zap.String("name", inst.cfg.Name),
				zap.Error(err))
		}
	}
	if err := inst.transport.Close(); err != nil {
		m.logger.Error("Failed to close transport",
			zap.String("name", inst.cfg.Name),
			zap.Error(err))
	}
	metrics.Delete(inst.cfg.Name)
}

func attachConfig(c config.AttachConfig) (sensor.AttachConfig, error) {
	iface, err := sensor.ParseVideoInterface(c.Interface)
	if err != nil {
		return sensor.AttachConfig{}, err
	}
	return sensor.AttachConfig{
		BootIndex: c.BootIndex,
		Interface: iface,
		Mclk:      sensor.MclkSource(c.Mclk),
		ResetGPIO: c.ResetGPIO,
		PwdnGPIO:  c.PwdnGPIO,
	}, nil
}

// OpenTransport opens the bus kind named in cfg. An address of 0 means the
// descriptor's bus address.
func OpenTransport(ctx context.Context, cfg config.TransportConfig, desc *sensor.Descriptor) (transport.Transport, error) {
	addr := cfg.Address
	if addr == 0 {
		addr = desc.BusAddress
	}

	switch cfg.Kind {
	case config.TransportMemory, "":
		mem := transport.NewMemory(desc.AddressWidth)
		values, err := ParsePreload(cfg.Preload)
		if err != nil {
			return nil, err
		}
		mem.Preload(values)
		return mem, nil

	case config.TransportI2C:
		t, err := transport.OpenI2C(cfg.Bus, addr, desc.AddressWidth)
		if err != nil {
			return nil, err
		}
		return t, nil

	case config.TransportSerial:
		t, err := transport.OpenSerial(cfg.Port, cfg.Baud, addr, desc.AddressWidth)
		if err != nil {
			return nil, err
		}
		return t, nil

	case config.TransportModbus:
		gw := modbus.NewGateway(desc.Name, cfg.Host, cfg.TCPPort, uint8(cfg.UnitID), desc.AddressWidth, cfg.Timeout)
		if err := gw.Connect(ctx); err != nil {
			return nil, err
		}
		return gw, nil

	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// ParsePreload converts "0x3107": 0xcb style keys into register addresses.
func ParsePreload(in map[string]uint8) (map[uint16]byte, error) {
	out := make(map[uint16]byte, len(in))
	for k, v := range in {
		addr, err := strconv.ParseUint(k, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid preload register %q: %w", k, err)
		}
		out[uint16(addr)] = v
	}
	return out, nil
}
