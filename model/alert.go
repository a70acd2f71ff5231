package model

import (
	"errors"
	"time"
)

// ErrAlreadyResolved is returned when resolving an alert twice.
var ErrAlreadyResolved = errors.New("alert already resolved")

// Alert records an adverse or recovery transition of a device.
//
// DeviceName is a snapshot taken at creation time; renaming the device later
// does not rewrite history.
type Alert struct {
	ID             int64      `json:"id"`
	DeviceID       int64      `json:"deviceId"`
	DeviceName     string     `json:"deviceName"`
	Message        string     `json:"message"`
	Level          AlertLevel `json:"level"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledgedBy"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
	EmailSent      bool       `json:"emailSent"`
}

// Resolve marks the alert resolved at the given time.
// A resolved alert is immutable, so resolving it again is an error.
func (a *Alert) Resolve(at time.Time) error {
	if a.Resolved {
		return ErrAlreadyResolved
	}
	a.Resolved = true
	a.ResolvedAt = &at
	return nil
}
