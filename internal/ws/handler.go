package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/HerbHall/bananapuck/internal/vitals"
	"github.com/HerbHall/bananapuck/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotSource supplies the current vitals state. *vitals.Store
// implements it.
type SnapshotSource interface {
	Current() vitals.Snapshot
}

// Handler provides the live-view WebSocket endpoint.
type Handler struct {
	hub            *Hub
	source         SnapshotSource
	bus            plugin.EventBus
	originPatterns []string
	logger         *zap.Logger
	unsubscribe    []func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to vitals events.
// originPatterns lists extra hosts allowed to connect cross-origin; nil
// allows same-origin only.
func NewHandler(source SnapshotSource, bus plugin.EventBus, originPatterns []string, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:            NewHub(logger),
		source:         source,
		bus:            bus,
		originPatterns: originPatterns,
		logger:         logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/vitals", h.handleVitalsStream)
}

// Close drops the event subscriptions.
func (h *Handler) Close() {
	for _, unsub := range h.unsubscribe {
		unsub()
	}
	h.unsubscribe = nil
}

// handleVitalsStream upgrades the connection and streams vitals updates.
// The first message is always a snapshot of the current state.
func (h *Handler) handleVitalsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		id:     uuid.NewString(),
		send:   make(chan Message, sendBuffer),
		logger: h.logger,
	}

	if h.source != nil {
		client.send <- Message{
			Type:      MessageSnapshot,
			Timestamp: time.Now(),
			Data:      updateData(h.source.Current()),
		}
	}
	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards vitals events to every connected client.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	h.unsubscribe = append(h.unsubscribe,
		h.bus.Subscribe(vitals.TopicSample, func(_ context.Context, event plugin.Event) {
			var data UpdateData
			switch {
			case h.source != nil:
				data = updateData(h.source.Current())
			default:
				ev, ok := event.Payload.(vitals.SampleEvent)
				if !ok {
					return
				}
				data = updateData(vitals.Snapshot{Sample: &ev.Sample, Levels: ev.Levels})
			}
			h.hub.Broadcast(Message{
				Type:      MessageUpdate,
				Timestamp: event.Timestamp,
				Data:      data,
			})
		}),

		h.bus.Subscribe(vitals.TopicAlertTriggered, func(_ context.Context, event plugin.Event) {
			ev, ok := event.Payload.(vitals.AlertEvent)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageAlertTriggered,
				Timestamp: event.Timestamp,
				Data:      AlertTriggeredData(ev),
			})
		}),

		h.bus.Subscribe(vitals.TopicAlertAcknowledged, func(_ context.Context, event plugin.Event) {
			ev, ok := event.Payload.(vitals.AcknowledgedEvent)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageAlertAcknowledged,
				Timestamp: event.Timestamp,
				Data:      AlertAcknowledgedData(ev),
			})
		}),
	)

	h.logger.Info("subscribed to vitals events for WebSocket broadcasting")
}
