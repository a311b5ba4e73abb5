package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/connection"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/core"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/logging"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/store"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/view"
)

// Event types pushed to browsers
const (
	EventSnapshot        = "snapshot"
	EventDriverChanged   = "driver_changed"
	EventDeliveryChanged = "delivery_changed"
	EventNotification    = "notification"
	EventConnectionState = "connection_state"
	EventMutationState   = "mutation_state"
	EventPong            = "pong"
)

// Event is the envelope of every message sent to a browser
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// EntityChange is the payload of driver_changed and delivery_changed.
// A reset carries the full list of its kind instead of one entity.
type EntityChange struct {
	Ref        models.EntityRef  `json:"ref"`
	Driver     *models.Driver    `json:"driver,omitempty"`
	Delivery   *models.Delivery  `json:"delivery,omitempty"`
	Reset      bool              `json:"reset,omitempty"`
	Drivers    []models.Driver   `json:"drivers,omitempty"`
	Deliveries []models.Delivery `json:"deliveries,omitempty"`
}

// MutationState is the payload of mutation_state. It is sent when a
// mutation starts and again with its outcome when it resolves.
type MutationState struct {
	MutationInProgress bool              `json:"mutationInProgress"`
	Started            *mutation.Started `json:"started,omitempty"`
	Outcome            *mutation.Outcome `json:"outcome,omitempty"`
}

// Source is the dashboard surface the hub mirrors to browsers
type Source interface {
	SnapshotThen(ctx context.Context, fn func(core.Snapshot)) error
	Reader() view.Reader
	Subscribe(fn func(store.Change))
	AddNotifier(n mutation.Notifier)
	OnStart(fn func(mutation.Started))
	OnOutcome(fn func(mutation.Outcome))
	OnConnectionChange(fn func(connection.Info))
	MutationInProgress() bool
}

// Hub fans dashboard events out to every connected browser. Broadcasts
// happen on the caller's goroutine so clients see store changes in the
// order they were applied.
type Hub struct {
	// Registered clients (client ID -> Client)
	clients map[string]*Client

	source Source
	log    logging.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewHub creates a hub and subscribes it to src
func NewHub(src Source, log logging.Logger) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		source:  src,
		log:     log,
		now:     time.Now,
	}
	src.Subscribe(h.onChange)
	src.AddNotifier(h)
	src.OnStart(h.onStart)
	src.OnOutcome(h.onOutcome)
	src.OnConnectionChange(h.onConnection)
	return h
}

// Attach registers client with a snapshot taken in the same dashboard turn
func (h *Hub) Attach(ctx context.Context, client *Client) error {
	return h.source.SnapshotThen(ctx, func(snap core.Snapshot) {
		h.register(client, snap)
	})
}

func (h *Hub) register(client *Client, snap core.Snapshot) {
	data, err := h.encode(EventSnapshot, snap)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	client.send <- data
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Infof("✅ [WEBSOCKET] Client CONNECTED: %s (user %s, role %s), total %d", client.ID, client.UserID, client.UserRole, total)
}

// Unregister drops client and closes its send queue
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
		h.log.Infof("🔴 [WEBSOCKET] Client DISCONNECTED: %s, remaining %d", client.ID, len(h.clients))
	}
	h.mu.Unlock()
}

// Broadcast sends one event to every client. A client whose queue is
// full is dropped; it resyncs from a fresh snapshot when it reconnects.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	msg, err := h.encode(eventType, data)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- msg:
		default:
			close(client.send)
			delete(h.clients, id)
			h.log.Errorf("⚠️ [WEBSOCKET] Client buffer full, disconnecting: %s", id)
		}
	}
}

// sendTo queues msg for one client if it is still registered
func (h *Hub) sendTo(client *Client, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

// Notify forwards dashboard notifications as notification events
func (h *Hub) Notify(message string, kind models.NotificationKind) {
	h.Broadcast(EventNotification, models.Notification{Message: message, Kind: kind, At: h.now()})
}

// ClientCount returns the number of connected browsers
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

func (h *Hub) onChange(c store.Change) {
	ev := EntityChange{Ref: c.Ref, Driver: c.Driver, Delivery: c.Delivery, Reset: c.Reset}
	eventType := EventDriverChanged
	if c.Ref.Kind == models.KindDelivery {
		eventType = EventDeliveryChanged
	}
	if c.Reset {
		reader := h.source.Reader()
		if c.Ref.Kind == models.KindDelivery {
			ev.Deliveries = reader.Deliveries()
		} else {
			ev.Drivers = reader.Drivers()
		}
	}
	h.Broadcast(eventType, ev)
}

func (h *Hub) onStart(m mutation.Started) {
	h.Broadcast(EventMutationState, MutationState{MutationInProgress: true, Started: &m})
}

func (h *Hub) onOutcome(o mutation.Outcome) {
	h.Broadcast(EventMutationState, MutationState{
		MutationInProgress: h.source.MutationInProgress(),
		Outcome:            &o,
	})
}

func (h *Hub) onConnection(info connection.Info) {
	h.Broadcast(EventConnectionState, info)
}

func (h *Hub) encode(eventType string, data interface{}) ([]byte, error) {
	msg, err := json.Marshal(Event{Type: eventType, Timestamp: h.now(), Data: data})
	if err != nil {
		h.log.Errorf("❌ [WEBSOCKET] Failed to marshal %s: %v", eventType, err)
	}
	return msg, err
}
