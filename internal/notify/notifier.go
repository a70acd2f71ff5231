// Package notify delivers alert emails and daily reports off the check path.
//
// A [Notifier] performs the delivery; a [Queue] runs deliveries in the
// background with bounded buffering and retry, so a slow mail server never
// delays a check cycle.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

// Notifier sends notifications to operators.
type Notifier interface {
	SendAlertEmail(ctx context.Context, alert model.Alert, device model.Device) error
	SendDailyReport(ctx context.Context, report Report) error
}

// Report is the daily summary of the fleet.
type Report struct {
	GeneratedAt  time.Time
	Stats        model.Stats
	Offline      []model.Device
	Warning      []model.Device
	RecentAlerts []model.Alert
}

// LogNotifier writes notifications to the log instead of sending them. It is
// the default when no SMTP server is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at INFO level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendAlertEmail(_ context.Context, alert model.Alert, device model.Device) error {
	n.logger.Info("would send alert email",
		"alert_id", alert.ID,
		"level", alert.Level,
		"device", device.Name,
		"host", device.Host,
		"message", alert.Message,
	)
	return nil
}

func (n *LogNotifier) SendDailyReport(_ context.Context, report Report) error {
	n.logger.Info("would send daily report",
		"total", report.Stats.Total,
		"online", report.Stats.Online,
		"offline", report.Stats.Offline,
		"warning", report.Stats.Warning,
		"active_alerts", report.Stats.ActiveAlerts,
	)
	return nil
}
