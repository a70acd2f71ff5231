package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpalmerr/pulsewatch/internal/auth"
	"github.com/jpalmerr/pulsewatch/model"
)

var errNoSource = errors.New("service unavailable")

// client is one authenticated connection. subs and closed are guarded by
// the hub mutex.
type client struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	send     chan []byte

	subs   map[int64]struct{}
	closed bool
}

// writePump is the only writer on c.ws. It exits when the send buffer is
// closed or a write fails.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", "socket_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", "socket_id", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.handle(ctx, c, raw)
	}
}

// handle dispatches one client frame. Replies go through the connection's
// send buffer, so they keep their order relative to pushed events.
func (h *Hub) handle(ctx context.Context, c *client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.replyError(c, "invalid message")
		return
	}

	switch env.Event {
	case EventSubscribe:
		id, err := parseDeviceID(env.Data)
		if err != nil {
			h.replyError(c, err.Error())
			return
		}
		h.subscribe(c, id)
		h.reply(c, EventSubscribed, subscriptionPayload{DeviceID: id})

	case EventUnsubscribe:
		id, err := parseDeviceID(env.Data)
		if err != nil {
			h.replyError(c, err.Error())
			return
		}
		h.unsubscribe(c, id)
		h.reply(c, EventUnsubscribed, subscriptionPayload{DeviceID: id})

	case EventPing:
		h.reply(c, EventPong, pongPayload{Timestamp: time.Now().UnixMilli()})

	case EventRequestDevices:
		filter, err := parseFilter(env.Data)
		if err != nil {
			h.replyError(c, err.Error())
			return
		}
		h.sendDevices(ctx, c, filter)

	case EventRequestAlerts:
		src, ok := h.requireSource(c)
		if !ok {
			return
		}
		alerts, err := src.RecentAlerts(ctx, parseLimit(env.Data))
		if err != nil {
			h.requestFailed(c, env.Event, err)
			return
		}
		h.reply(c, EventAlertsList, nonNil(alerts))

	case EventRequestStats:
		h.sendStats(ctx, c)

	case EventRequestUpdate:
		h.sendDevices(ctx, c, model.DeviceFilter{})
		h.sendStats(ctx, c)

	case EventRequestCheck:
		id, err := parseDeviceID(env.Data)
		if err != nil {
			h.replyError(c, err.Error())
			return
		}
		src, ok := h.requireSource(c)
		if !ok {
			return
		}
		result, err := src.CheckDeviceByID(ctx, id)
		if err != nil {
			h.requestFailed(c, env.Event, err)
			return
		}
		h.reply(c, EventDeviceUpdate, result.Device)

	default:
		h.replyError(c, "unknown event: "+env.Event)
	}
}

func (h *Hub) sendDevices(ctx context.Context, c *client, filter model.DeviceFilter) {
	src, ok := h.requireSource(c)
	if !ok {
		return
	}
	devices, err := src.Devices(ctx, filter)
	if err != nil {
		h.requestFailed(c, EventRequestDevices, err)
		return
	}
	h.reply(c, EventDevicesList, nonNil(devices))
}

func (h *Hub) sendStats(ctx context.Context, c *client) {
	src, ok := h.requireSource(c)
	if !ok {
		return
	}
	stats, err := src.Stats(ctx)
	if err != nil {
		h.requestFailed(c, EventRequestStats, err)
		return
	}
	h.reply(c, EventStatsUpdate, stats)
}

func (h *Hub) requireSource(c *client) (Source, bool) {
	h.mu.Lock()
	src := h.source
	h.mu.Unlock()
	if src == nil {
		h.replyError(c, errNoSource.Error())
		return nil, false
	}
	return src, true
}

func (h *Hub) requestFailed(c *client, event string, err error) {
	h.logger.Warn("websocket request failed", "socket_id", c.id, "event", event, "error", err)
	h.replyError(c, event+" failed")
}

func (h *Hub) reply(c *client, event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode reply", "event", event, "error", err)
		return
	}
	h.mu.Lock()
	h.enqueue(c, msg)
	h.mu.Unlock()
}

func (h *Hub) replyError(c *client, message string) {
	h.reply(c, EventError, errorPayload{Message: message})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
