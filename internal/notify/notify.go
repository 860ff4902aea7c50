// Package notify distributes sensor events to every interested sink:
// WebSocket clients, the MQTT broker, the audit store and metrics.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
)

type EventType string

const (
	EventAttribute EventType = "sensor_attribute"
	EventState     EventType = "sensor_state"
	EventError     EventType = "sensor_error"
)

// Event is one notification about a sensor instance. Data is a
// sensor.Video, StateData or ErrorData depending on Type.
type Event struct {
	Type      EventType   `json:"type"`
	Sensor    string      `json:"sensor"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type StateData struct {
	State    sensor.StreamState `json:"state"`
	Previous sensor.StreamState `json:"previous_state"`
}

type ErrorData struct {
	Error string `json:"error"`
}

type Sink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Fanout forwards every event to all registered sinks in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Publish(ctx context.Context, e Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ctx, e)
	}
}

// Instance binds a sink to one named sensor instance. It is handed to the
// engine as its notifier and to the controller as its error reporter.
type Instance struct {
	name string
	sink Sink
	now  func() time.Time
}

func ForInstance(name string, sink Sink) *Instance {
	return &Instance{name: name, sink: sink, now: time.Now}
}

func (i *Instance) event(t EventType, data interface{}) Event {
	return Event{Type: t, Sensor: i.name, Timestamp: i.now(), Data: data}
}

func (i *Instance) AttributeChanged(ctx context.Context, v sensor.Video) {
	i.sink.Publish(ctx, i.event(EventAttribute, v))
}

func (i *Instance) StreamStateChanged(ctx context.Context, _ string, from, to sensor.StreamState) {
	i.sink.Publish(ctx, i.event(EventState, StateData{State: to, Previous: from}))
}

func (i *Instance) SensorError(ctx context.Context, _ string, err error) {
	i.sink.Publish(ctx, i.event(EventError, ErrorData{Error: err.Error()}))
}
