package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/bananapuck/internal/event"
	"github.com/HerbHall/bananapuck/internal/testutil"
	"github.com/HerbHall/bananapuck/internal/vitals"
	"github.com/HerbHall/bananapuck/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type wireMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startServer(t *testing.T, h *Handler) string {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/vitals"
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) wireMessage {
	t.Helper()
	var msg wireMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, h *Handler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_SnapshotOnConnect(t *testing.T) {
	store := vitals.NewStore(vitals.Options{})
	store.Ingest(context.Background(), testutil.NewSample(testutil.WithHR(150)))

	h := NewHandler(store, nil, nil, testLogger())
	url := startServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, url)

	msg := read(t, ctx, conn)
	if msg.Type != MessageSnapshot {
		t.Fatalf("first message type = %q, want %q", msg.Type, MessageSnapshot)
	}
	var data UpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if data.View.HeartRate.Text != "150 bpm" {
		t.Errorf("heart rate = %q, want 150 bpm", data.View.HeartRate.Text)
	}
	if len(data.Active) != 1 || data.Active[0].Type != "hr" {
		t.Errorf("active = %+v, want one hr group", data.Active)
	}
}

func TestHandler_ForwardsEvents(t *testing.T) {
	bus := event.NewBus(testLogger())
	store := vitals.NewStore(vitals.Options{})
	h := NewHandler(store, bus, nil, testLogger())
	defer h.Close()
	url := startServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, url)

	if msg := read(t, ctx, conn); msg.Type != MessageSnapshot {
		t.Fatalf("first message type = %q", msg.Type)
	}
	waitForClients(t, h, 1)

	store.Ingest(ctx, testutil.NewSample(testutil.WithTemp(101.5)))
	events := []plugin.Event{
		{Topic: vitals.TopicSample, Timestamp: time.Now(), Payload: vitals.SampleEvent{}},
		{Topic: vitals.TopicAlertTriggered, Timestamp: time.Now(), Payload: vitals.AlertEvent{
			Alert: vitals.Alert{ID: "x", Type: "temp", Level: vitals.LevelDanger, Message: "Fever"},
		}},
		{Topic: vitals.TopicAlertAcknowledged, Timestamp: time.Now(), Payload: vitals.AcknowledgedEvent{Type: "temp", Count: 1}},
	}
	for _, e := range events {
		if err := bus.Publish(ctx, e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	update := read(t, ctx, conn)
	if update.Type != MessageUpdate {
		t.Fatalf("message type = %q, want %q", update.Type, MessageUpdate)
	}
	var data UpdateData
	if err := json.Unmarshal(update.Data, &data); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if data.View.Temperature.Text != "101.5 °F" {
		t.Errorf("temperature = %q, want store's latest reading", data.View.Temperature.Text)
	}

	triggered := read(t, ctx, conn)
	if triggered.Type != MessageAlertTriggered {
		t.Fatalf("message type = %q, want %q", triggered.Type, MessageAlertTriggered)
	}
	var alert AlertTriggeredData
	if err := json.Unmarshal(triggered.Data, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.Alert.Message != "Fever" {
		t.Errorf("alert message = %q, want Fever", alert.Alert.Message)
	}

	acked := read(t, ctx, conn)
	if acked.Type != MessageAlertAcknowledged {
		t.Fatalf("message type = %q, want %q", acked.Type, MessageAlertAcknowledged)
	}
}

func TestHandler_NoSourceRendersEvent(t *testing.T) {
	bus := event.NewBus(testLogger())
	h := NewHandler(nil, bus, nil, testLogger())
	defer h.Close()
	url := startServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, url)
	waitForClients(t, h, 1)

	s := testutil.NewSample(testutil.WithBreathing(22))
	err := bus.Publish(ctx, plugin.Event{
		Topic:     vitals.TopicSample,
		Timestamp: time.Now(),
		Payload:   vitals.SampleEvent{Sample: s, Levels: map[string]vitals.Level{"breathing": vitals.LevelWarning}},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := read(t, ctx, conn)
	if msg.Type != MessageUpdate {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageUpdate)
	}
	var data UpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if data.View.Breathing.Text != "22 /min" || data.View.Breathing.Level != "warning" {
		t.Errorf("breathing = %+v", data.View.Breathing)
	}
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	h := NewHandler(nil, nil, nil, testLogger())
	url := startServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitForClients(t, h, 1)

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for h.hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d after disconnect, want 0", n)
	}
}

func TestHandler_CloseUnsubscribes(t *testing.T) {
	bus := event.NewBus(testLogger())
	h := NewHandler(nil, bus, nil, testLogger())
	client := newTestClient("client-1")
	h.hub.Register(client)

	h.Close()
	err := bus.Publish(context.Background(), plugin.Event{
		Topic:   vitals.TopicAlertAcknowledged,
		Payload: vitals.AcknowledgedEvent{Count: 1},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(client.send) != 0 {
		t.Errorf("client received %d messages after Close, want 0", len(client.send))
	}
}
