// Package evaluator maps probe results onto device status.
package evaluator

import (
	"time"

	"github.com/jpalmerr/pulsewatch/internal/probe"
	"github.com/jpalmerr/pulsewatch/model"
)

// DefaultWarningThreshold separates online from warning for successful probes.
const DefaultWarningThreshold = time.Second

const slowResponseError = "high response time"

// Outcome describes the transition produced by one evaluation.
type Outcome struct {
	Status         model.Status
	ResponseTimeMs *int64
	PreviousStatus model.Status
}

// Status derives the device status from a probe result. A success slower
// than threshold is a warning; the threshold itself still counts as online.
func Status(r probe.Result, threshold time.Duration) model.Status {
	if !r.Success {
		return model.StatusOffline
	}
	if r.ResponseTimeMs != nil && *r.ResponseTimeMs > threshold.Milliseconds() {
		return model.StatusWarning
	}
	return model.StatusOnline
}

// Apply writes the evaluation of r into d and returns the transition.
//
// Offline and warning increment ConsecutiveFailures and record LastError;
// online resets both.
func Apply(d *model.Device, r probe.Result, threshold time.Duration, now time.Time) Outcome {
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}

	previous := d.Status
	if previous == "" {
		previous = model.StatusUnknown
	}
	status := Status(r, threshold)

	d.Status = status
	d.ResponseTimeMs = r.ResponseTimeMs
	checked := now
	d.LastCheckedAt = &checked

	switch status {
	case model.StatusOnline:
		d.ConsecutiveFailures = 0
		d.LastError = nil
	case model.StatusWarning:
		d.ConsecutiveFailures++
		msg := slowResponseError
		d.LastError = &msg
	default:
		d.ConsecutiveFailures++
		msg := r.ErrorMessage()
		d.LastError = &msg
	}

	return Outcome{
		Status:         status,
		ResponseTimeMs: r.ResponseTimeMs,
		PreviousStatus: previous,
	}
}
