// Package metrics exposes Prometheus metrics for register traffic and
// sensor stream state.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opensensorcore",
		Subsystem: "register",
		Name:      "operations_total",
		Help:      "Register bus operations by sensor, direction and result",
	}, []string{"sensor", "op", "result"})

	registerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opensensorcore",
		Subsystem: "register",
		Name:      "latency_seconds",
		Help:      "Register bus operation latency",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}, []string{"sensor", "op"})

	streamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opensensorcore",
		Subsystem: "sensor",
		Name:      "stream_state",
		Help:      "Stream state per sensor (0 DEINIT, 1 INIT, 2 RUNNING)",
	}, []string{"sensor"})

	sensorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opensensorcore",
		Subsystem: "sensor",
		Name:      "errors_total",
		Help:      "Errors reported per sensor",
	}, []string{"sensor"})

	sensorFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opensensorcore",
		Subsystem: "sensor",
		Name:      "fps",
		Help:      "Configured frame rate per sensor",
	}, []string{"sensor"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Transport counts and times every register access of the wrapped bus.
type Transport struct {
	sensor string
	next   transport.Transport
}

func Instrument(sensor string, next transport.Transport) *Transport {
	return &Transport{sensor: sensor, next: next}
}

func (t *Transport) ReadReg(ctx context.Context, addr uint16) (byte, error) {
	start := time.Now()
	v, err := t.next.ReadReg(ctx, addr)
	t.observe(transport.OpRead, start, err)
	return v, err
}

func (t *Transport) WriteReg(ctx context.Context, addr uint16, value byte) error {
	start := time.Now()
	err := t.next.WriteReg(ctx, addr, value)
	t.observe(transport.OpWrite, start, err)
	return err
}

// Close closes the wrapped transport when it holds a resource.
func (t *Transport) Close() error {
	if c, ok := t.next.(transport.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *Transport) observe(op transport.Op, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	registerOps.WithLabelValues(t.sensor, string(op), result).Inc()
	registerLatency.WithLabelValues(t.sensor, string(op)).Observe(time.Since(start).Seconds())
}

// Sink records sensor events as gauges and counters.
type Sink struct{}

func (Sink) Publish(_ context.Context, e notify.Event) {
	switch d := e.Data.(type) {
	case notify.StateData:
		streamState.WithLabelValues(e.Sensor).Set(float64(d.State))
	case notify.ErrorData:
		sensorErrors.WithLabelValues(e.Sensor).Inc()
	case sensor.Video:
		streamState.WithLabelValues(e.Sensor).Set(float64(d.State))
		sensorFPS.WithLabelValues(e.Sensor).Set(d.FPS.Float())
	}
}

// Delete drops every per-sensor series of a removed instance.
func Delete(name string) {
	streamState.DeleteLabelValues(name)
	sensorErrors.DeleteLabelValues(name)
	sensorFPS.DeleteLabelValues(name)
	registerOps.DeletePartialMatch(prometheus.Labels{"sensor": name})
	registerLatency.DeletePartialMatch(prometheus.Labels{"sensor": name})
}
