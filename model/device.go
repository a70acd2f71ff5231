// Package model defines the records shared by the monitoring engine, the
// persistence layer and the realtime hub.
//
// The types are plain structs optimized for JSON serialization. Pointer
// fields are nullable columns: a nil ResponseTimeMs means the device has no
// successful measurement, a nil LastCheckedAt means it was never checked.
package model

import (
	"strings"
	"time"
)

// Device is a network-reachable endpoint under monitoring.
type Device struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	Host                string     `json:"ip"`
	Type                DeviceType `json:"type"`
	Status              Status     `json:"status"`
	ResponseTimeMs      *int64     `json:"responseTime"`
	LastCheckedAt       *time.Time `json:"lastChecked"`
	CheckURL            string     `json:"checkUrl,omitempty"`
	Port                int        `json:"port,omitempty"`
	Description         string     `json:"description,omitempty"`
	IsActive            bool       `json:"isActive"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           *string    `json:"lastError"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// DeviceFilter narrows a device listing. Zero values match everything.
type DeviceFilter struct {
	Status Status
	Type   DeviceType
	Search string
}

// Matches reports whether d satisfies the filter. Search is a
// case-insensitive substring match over name, host and description.
func (f DeviceFilter) Matches(d Device) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	for _, hay := range []string{d.Name, d.Host, d.Description} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// CheckResult is the outcome of checking one device.
type CheckResult struct {
	Device         Device `json:"device"`
	Status         Status `json:"status"`
	ResponseTimeMs *int64 `json:"responseTime"`
	PreviousStatus Status `json:"previousStatus"`
}

// Changed reports whether the check moved the device to a new status.
func (r CheckResult) Changed() bool {
	return r.Status != r.PreviousStatus
}
