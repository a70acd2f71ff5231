package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpalmerr/pulsewatch/model"
)

// Server to client events.
const (
	EventAuthenticated = "authenticated"
	EventSubscribed    = "subscribed"
	EventUnsubscribed  = "unsubscribed"
	EventDeviceUpdate  = "device:update"
	EventDeviceStatus  = "device:status"
	EventAlertNew      = "alert:new"
	EventStatsUpdate   = "stats:update"
	EventDevicesList   = "devices:list"
	EventAlertsList    = "alerts:list"
	EventPong          = "pong"
	EventError         = "error"
)

// Client to server events.
const (
	EventSubscribe      = "subscribe"
	EventUnsubscribe    = "unsubscribe"
	EventRequestUpdate  = "request:update"
	EventRequestCheck   = "request:check"
	EventRequestStats   = "request:stats"
	EventRequestDevices = "request:devices"
	EventRequestAlerts  = "request:alerts"
	EventPing           = "ping"
)

const defaultAlertLimit = 50

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type authenticatedPayload struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type subscriptionPayload struct {
	DeviceID int64 `json:"deviceId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type filterPayload struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Search string `json:"search"`
}

type limitPayload struct {
	Limit int `json:"limit"`
}

type pongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

func encode(event string, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return b, nil
}

// parseDeviceID accepts {"deviceId": 7}, a bare number or a numeric string.
func parseDeviceID(raw json.RawMessage) (int64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, errors.New("device id is required")
	}

	var id int64
	switch trimmed[0] {
	case '{':
		var p subscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return 0, fmt.Errorf("invalid device id payload: %w", err)
		}
		id = p.DeviceID
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("invalid device id payload: %w", err)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid device id %q", s)
		}
		id = n
	default:
		if err := json.Unmarshal(raw, &id); err != nil {
			return 0, fmt.Errorf("invalid device id payload: %w", err)
		}
	}

	if id <= 0 {
		return 0, fmt.Errorf("invalid device id %d", id)
	}
	return id, nil
}

func parseFilter(raw json.RawMessage) (model.DeviceFilter, error) {
	var p filterPayload
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &p); err != nil {
			return model.DeviceFilter{}, fmt.Errorf("invalid filter: %w", err)
		}
	}
	f := model.DeviceFilter{Status: model.Status(p.Status), Type: model.DeviceType(p.Type), Search: p.Search}
	if f.Status != "" && !f.Status.Valid() {
		return model.DeviceFilter{}, fmt.Errorf("invalid status %q", p.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return model.DeviceFilter{}, fmt.Errorf("invalid type %q", p.Type)
	}
	return f, nil
}

func parseLimit(raw json.RawMessage) int {
	var p limitPayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	if p.Limit <= 0 || p.Limit > 500 {
		return defaultAlertLimit
	}
	return p.Limit
}
