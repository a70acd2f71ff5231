package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

// SMTPConfig holds SMTP server settings and recipients.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPNotifier sends plain-text emails through an SMTP relay.
type SMTPNotifier struct {
	cfg      SMTPConfig
	logger   *slog.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewSMTPNotifier validates cfg and creates a notifier.
func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one smtp recipient is required")
	}
	for _, addr := range append([]string{cfg.From}, cfg.To...) {
		if !strings.Contains(addr, "@") {
			return nil, fmt.Errorf("invalid email address format: %q (missing @ symbol)", addr)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPNotifier{cfg: cfg, logger: logger, sendMail: smtp.SendMail, now: time.Now}, nil
}

func (n *SMTPNotifier) SendAlertEmail(ctx context.Context, alert model.Alert, device model.Device) error {
	subject := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(alert.Level)), device.Name, alert.Message)

	var body strings.Builder
	fmt.Fprintf(&body, "Device:  %s (%s)\n", device.Name, device.Host)
	fmt.Fprintf(&body, "Type:    %s\n", device.Type)
	fmt.Fprintf(&body, "Level:   %s\n", alert.Level)
	fmt.Fprintf(&body, "Message: %s\n", alert.Message)
	fmt.Fprintf(&body, "Time:    %s\n", alert.Timestamp.Format(time.RFC3339))
	if device.LastError != nil {
		fmt.Fprintf(&body, "Error:   %s\n", *device.LastError)
	}

	return n.send(ctx, subject, body.String())
}

func (n *SMTPNotifier) SendDailyReport(ctx context.Context, report Report) error {
	s := report.Stats
	subject := fmt.Sprintf("Daily report %s: %d/%d online", report.GeneratedAt.Format("2006-01-02"), s.Online, s.Total)

	var body strings.Builder
	fmt.Fprintf(&body, "Devices: %d total, %d online, %d warning, %d offline, %d unknown\n",
		s.Total, s.Online, s.Warning, s.Offline, s.Unknown)
	fmt.Fprintf(&body, "Active alerts: %d\n", s.ActiveAlerts)
	fmt.Fprintf(&body, "Average response time: %dms\n", s.AvgResponseTimeMs)

	writeDevices(&body, "Offline", report.Offline)
	writeDevices(&body, "Warning", report.Warning)

	if len(report.RecentAlerts) > 0 {
		body.WriteString("\nAlerts in the last 24 hours:\n")
		for _, a := range report.RecentAlerts {
			fmt.Fprintf(&body, "  %s  %-11s %s: %s\n", a.Timestamp.Format("15:04"), a.Level, a.DeviceName, a.Message)
		}
	}

	return n.send(ctx, subject, body.String())
}

func writeDevices(b *strings.Builder, title string, devices []model.Device) {
	if len(devices) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, d := range devices {
		fmt.Fprintf(b, "  %s (%s)\n", d.Name, d.Host)
	}
}

func (n *SMTPNotifier) send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	msg := buildMessage(n.cfg.From, n.cfg.To, subject, body, n.now())
	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.To, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("sent email", "to", strings.Join(n.cfg.To, ", "), "subject", subject, "smtp_server", addr)
	return nil
}

func buildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
