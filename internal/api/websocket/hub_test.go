package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(_ context.Context, token, _, _ string) (*auth.Principal, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &auth.Principal{Name: "alice", Permissions: auth.RoleToPermissions("operator")}, nil
}

type staticStatus struct{}

func (staticStatus) SystemStatus() any { return map[string]int{"sensors": 2} }

// reader splits coalesced frames into individual messages.
type reader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func (r *reader) next() map[string]interface{} {
	r.t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.t.Fatalf("read: %v", err)
		}
		r.pending = bytes.Split(data, []byte{'\n'})
	}
	raw := r.pending[0]
	r.pending = r.pending[1:]

	var msg map[string]interface{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return msg
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t), staticValidator{})
	hub.SetStatusProvider(staticStatus{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, auth string) *reader {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(auth)); err != nil {
		t.Fatal(err)
	}
	return &reader{t: t, conn: conn}
}

func TestHubDeliversSensorEvents(t *testing.T) {
	hub, srv := startHub(t)
	r := dial(t, srv, `{"type":"auth","token":"good"}`)

	if msg := r.next(); msg["type"] != "auth_success" || msg["subject"] != "alice" {
		t.Fatalf("first message = %v", msg)
	}
	if msg := r.next(); msg["type"] != string(MessageTypeSystemStatus) {
		t.Fatalf("second message = %v", msg)
	}

	hub.Publish(context.Background(), notify.Event{
		Type:      notify.EventState,
		Sensor:    "front",
		Timestamp: time.Now(),
		Data:      notify.StateData{State: sensor.StateRunning, Previous: sensor.StateInit},
	})

	msg := r.next()
	if msg["type"] != string(MessageTypeSensorState) || msg["sensor"] != "front" {
		t.Fatalf("event message = %v", msg)
	}
	data := msg["data"].(map[string]interface{})
	if data["state"] != "RUNNING" || data["previous_state"] != "INIT" {
		t.Errorf("data = %v", data)
	}
	if hub.GetClientCount() != 1 {
		t.Errorf("client count = %d", hub.GetClientCount())
	}
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, srv := startHub(t)
	r := dial(t, srv, `{"type":"auth","token":"good","sensors":["rear"]}`)
	r.next() // auth_success
	r.next() // system_status

	for _, name := range []string{"front", "rear"} {
		hub.Publish(context.Background(), notify.Event{
			Type:   notify.EventError,
			Sensor: name,
			Data:   notify.ErrorData{Error: "lost"},
		})
	}

	if msg := r.next(); msg["sensor"] != "rear" {
		t.Errorf("expected only rear events, got %v", msg)
	}
}

func TestHubRejectsBadToken(t *testing.T) {
	hub, srv := startHub(t)
	r := dial(t, srv, `{"type":"auth","token":"bad"}`)

	r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			break
		}
		if !bytes.Contains(data, []byte("auth_failed")) {
			t.Errorf("unexpected message %s", data)
		}
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("unauthenticated client registered")
	}
}
