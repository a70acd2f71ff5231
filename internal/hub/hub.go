// Package hub pushes live device, alert and stats events to WebSocket
// clients.
//
// Clients authenticate with a bearer token during the handshake, then
// subscribe to device IDs. Device updates go to a device's subscribers, or
// to everyone as a generic status event when it has none. Alerts and stats
// always go to everyone. Delivery is best-effort: each connection has a
// bounded FIFO buffer and events that do not fit are dropped.
//
// All connection and subscription state is owned by the [Hub] and guarded
// by a single mutex.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpalmerr/pulsewatch/internal/auth"
	"github.com/jpalmerr/pulsewatch/model"
)

// Source serves the pull requests clients make over the socket.
type Source interface {
	Devices(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error)
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	Stats(ctx context.Context) (model.Stats, error)
	CheckDeviceByID(ctx context.Context, id int64) (model.CheckResult, error)
}

// Config tunes connection handling. Zero fields take defaults.
type Config struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

// Hub tracks authenticated connections and their device subscriptions.
type Hub struct {
	authn    auth.Authenticator
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	source Source
	conns  map[string]*client
	index  map[int64]map[string]struct{}
}

// New creates a hub that admits connections verified by authn.
func New(authn auth.Authenticator, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		authn:  authn,
		cfg:    cfg.withDefaults(),
		logger: logger,
		conns:  make(map[string]*client),
		index:  make(map[int64]map[string]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// AttachSource sets the collaborator that answers pull requests. It is set
// once, after the monitoring engine that depends on the hub is built.
func (h *Hub) AttachSource(src Source) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates the request, upgrades it and serves the
// connection until it closes. Unauthenticated requests get a 401 before
// any upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authn.Verify(auth.TokenFromRequest(r))
	if err != nil {
		h.logger.Debug("websocket authentication failed", "remote_addr", r.RemoteAddr, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:       uuid.New().String(),
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, h.cfg.SendBuffer),
		subs:     make(map[int64]struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

func (h *Hub) register(c *client) {
	msg, _ := encode(EventAuthenticated, authenticatedPayload{
		SocketID: c.id,
		UserID:   c.identity.UserID,
		Username: c.identity.Username,
		Role:     c.identity.Role,
	})

	h.mu.Lock()
	h.conns[c.id] = c
	h.enqueue(c, msg)
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("websocket connected", "socket_id", c.id, "user_id", c.identity.UserID, "connections", n)
}

// unregister removes c from every subscription set and the connection
// table, then closes its send buffer so the writer exits.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	for id := range c.subs {
		h.removeFromIndex(id, c.id)
	}
	c.subs = nil
	delete(h.conns, c.id)
	c.closed = true
	close(c.send)
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("websocket disconnected", "socket_id", c.id, "user_id", c.identity.UserID, "connections", n)
}

// removeFromIndex must be called with mu held.
func (h *Hub) removeFromIndex(deviceID int64, socketID string) {
	set, ok := h.index[deviceID]
	if !ok {
		return
	}
	delete(set, socketID)
	if len(set) == 0 {
		delete(h.index, deviceID)
	}
}

func (h *Hub) subscribe(c *client, deviceID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	c.subs[deviceID] = struct{}{}
	set, ok := h.index[deviceID]
	if !ok {
		set = make(map[string]struct{})
		h.index[deviceID] = set
	}
	set[c.id] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, deviceID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	delete(c.subs, deviceID)
	h.removeFromIndex(deviceID, c.id)
}

// enqueue must be called with mu held. It never blocks.
func (h *Hub) enqueue(c *client, msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		h.logger.Debug("websocket send buffer full, dropping event", "socket_id", c.id)
		return false
	}
}

// SendDeviceUpdate delivers payload as device:update to the subscribers of
// deviceID. When the device has no subscribers, every connection receives
// it as device:status instead. It returns the number of connections the
// event was queued for.
func (h *Hub) SendDeviceUpdate(deviceID int64, payload any) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set := h.index[deviceID]; len(set) > 0 {
		msg, err := encode(EventDeviceUpdate, payload)
		if err != nil {
			h.logger.Error("failed to encode device update", "device_id", deviceID, "error", err)
			return 0
		}
		sent := 0
		for socketID := range set {
			if c, ok := h.conns[socketID]; ok && h.enqueue(c, msg) {
				sent++
			}
		}
		return sent
	}

	msg, err := encode(EventDeviceStatus, payload)
	if err != nil {
		h.logger.Error("failed to encode device status", "device_id", deviceID, "error", err)
		return 0
	}
	return h.broadcastLocked(msg)
}

// BroadcastAlert sends alert:new to every connection.
func (h *Hub) BroadcastAlert(alert model.Alert) {
	h.broadcast(EventAlertNew, alert)
}

// BroadcastStats sends stats:update to every connection.
func (h *Hub) BroadcastStats(stats model.Stats) {
	h.broadcast(EventStatsUpdate, stats)
}

func (h *Hub) broadcast(event string, data any) int {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "event", event, "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcastLocked(msg)
}

func (h *Hub) broadcastLocked(msg []byte) int {
	sent := 0
	for _, c := range h.conns {
		if h.enqueue(c, msg) {
			sent++
		}
	}
	return sent
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Subscribers returns the number of connections subscribed to deviceID.
func (h *Hub) Subscribers(deviceID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.index[deviceID])
}

// Close sends a close frame to every connection. Their handlers then
// unregister them.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = c.ws.Close()
	}
}
