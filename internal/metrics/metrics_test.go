package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentedTransport(t *testing.T) {
	name := "metrics-test-transport"
	defer Delete(name)

	mem := transport.NewMemory(transport.Addr16)
	mem.FailAddress(0x0100, errors.New("nack"))
	tr := Instrument(name, mem)
	ctx := context.Background()

	if err := tr.WriteReg(ctx, 0x3000, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ReadReg(ctx, 0x3000); err != nil {
		t.Fatal(err)
	}
	if err := tr.WriteReg(ctx, 0x0100, 1); err == nil {
		t.Fatal("expected failure")
	}

	tests := []struct {
		op, result string
		want       float64
	}{
		{"write", "ok", 1},
		{"read", "ok", 1},
		{"write", "error", 1},
		{"read", "error", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(registerOps.WithLabelValues(name, tt.op, tt.result))
		if got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.op, tt.result, got, tt.want)
		}
	}
}

func TestSinkStreamState(t *testing.T) {
	name := "metrics-test-sink"
	defer Delete(name)

	var s Sink
	s.Publish(context.Background(), notify.Event{
		Type:   notify.EventState,
		Sensor: name,
		Data:   notify.StateData{State: sensor.StateRunning, Previous: sensor.StateInit},
	})
	s.Publish(context.Background(), notify.Event{
		Type:   notify.EventError,
		Sensor: name,
		Data:   notify.ErrorData{Error: "lost"},
	})

	if got := testutil.ToFloat64(streamState.WithLabelValues(name)); got != 2 {
		t.Errorf("stream_state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sensorErrors.WithLabelValues(name)); got != 1 {
		t.Errorf("errors_total = %v, want 1", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "opensensorcore_sensor_stream_state") {
		t.Error("expected stream state in exported metrics")
	}
}
