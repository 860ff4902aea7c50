package devices

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/isp"
	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"go.uber.org/zap/zaptest"
)

type eventCollector struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *eventCollector) Publish(_ context.Context, e notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) sensors() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool)
	for _, e := range c.events {
		out[e.Sensor] = true
	}
	return out
}

func sc230aiConfig(name string) config.SensorConfig {
	return config.SensorConfig{
		Name:       name,
		Descriptor: "sc230ai",
		Transport: config.TransportConfig{
			Kind:    config.TransportMemory,
			Preload: map[string]uint8{"0x3107": 0xcb, "0x3108": 0x34},
		},
	}
}

func TestManagerLoadSensor(t *testing.T) {
	sink := &eventCollector{}
	m := NewManager(newLoader(t), sink, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := m.LoadAll(ctx, []config.SensorConfig{sc230aiConfig("rear"), sc230aiConfig("front")}); err != nil {
		t.Fatal(err)
	}

	list := m.List()
	if len(list) != 2 || list[0].Name() != "front" || list[1].Name() != "rear" {
		t.Fatalf("List() = %v", list)
	}

	front, ok := m.GetByName("front")
	if !ok {
		t.Fatal("front not registered")
	}
	if byID, ok := m.Get(front.ID); !ok || byID != front {
		t.Error("Get by id does not match GetByName")
	}

	status := front.GetStatus()
	if !status.Present || status.ChipID != "0xcb34" || status.State != sensor.StateDeinit {
		t.Errorf("status = %+v", status)
	}

	if err := front.ExecuteCommand(ctx, isp.CommandStreamOn); err != nil {
		t.Fatal(err)
	}

	seen := sink.sensors()
	if !seen["front"] || !seen["rear"] {
		t.Errorf("events seen for %v, want both instance names", seen)
	}

	if err := m.StopAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetByName("front"); ok {
		t.Error("instance survived StopAll")
	}
	if front.State() != sensor.StateDeinit {
		t.Errorf("StopAll left stream in %s", front.State())
	}
}

func TestManagerLoadFailures(t *testing.T) {
	m := NewManager(newLoader(t), notify.NewFanout(), zaptest.NewLogger(t))
	ctx := context.Background()

	noChip := sc230aiConfig("ghost")
	noChip.Transport.Preload = nil

	unknown := sc230aiConfig("odd")
	unknown.Descriptor = "imx999"

	badIface := sc230aiConfig("iface")
	badIface.Attach.Interface = "hdmi"

	tests := []struct {
		name string
		cfg  config.SensorConfig
		want string
	}{
		{"chip id mismatch", noChip, "failed to attach"},
		{"unknown descriptor", unknown, "descriptor not found"},
		{"bad interface", badIface, "unknown video interface"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.LoadSensor(ctx, tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadSensor error = %v, want %q", err, tt.want)
			}
			if _, ok := m.GetByName(tt.cfg.Name); ok {
				t.Error("failed instance was registered")
			}
		})
	}

	if _, err := m.LoadSensor(ctx, sc230aiConfig("front")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadSensor(ctx, sc230aiConfig("front")); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestManagerReload(t *testing.T) {
	var opened int32
	factory := func(ctx context.Context, cfg config.TransportConfig, desc *sensor.Descriptor) (transport.Transport, error) {
		atomic.AddInt32(&opened, 1)
		return OpenTransport(ctx, cfg, desc)
	}
	m := NewManager(newLoader(t), notify.NewFanout(), zaptest.NewLogger(t), WithTransportFactory(factory))
	ctx := context.Background()

	first, err := m.LoadSensor(ctx, sc230aiConfig("front"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Reload(ctx, "front")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID || atomic.LoadInt32(&opened) != 2 {
		t.Error("reload must build a new instance on a new transport")
	}
	if _, err := m.Reload(ctx, "missing"); err == nil {
		t.Error("reload of unknown sensor succeeded")
	}
}

func TestParsePreload(t *testing.T) {
	got, err := ParsePreload(map[string]uint8{"0x3107": 0xcb, "16": 1})
	if err != nil {
		t.Fatal(err)
	}
	if got[0x3107] != 0xcb || got[16] != 1 {
		t.Errorf("ParsePreload = %v", got)
	}
	if _, err := ParsePreload(map[string]uint8{"reg": 1}); err == nil {
		t.Error("expected error for non-numeric register")
	}
}

type countingChecker struct {
	calls int32
}

func (c *countingChecker) Name() string { return "probe" }

func (c *countingChecker) CheckPresence(context.Context) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

func TestMonitorPolls(t *testing.T) {
	target := &countingChecker{}
	mon := NewMonitor(target, 5*time.Millisecond, zaptest.NewLogger(t))
	mon.Start()
	mon.Start()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&target.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	mon.Stop()

	if atomic.LoadInt32(&target.calls) < 2 {
		t.Errorf("calls = %d", target.calls)
	}
	if mon.IsRunning() {
		t.Error("monitor still running after Stop")
	}
	mon.Stop()
}
