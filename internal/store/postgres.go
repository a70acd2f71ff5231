package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id                   BIGSERIAL PRIMARY KEY,
	name                 TEXT NOT NULL UNIQUE,
	host                 TEXT NOT NULL,
	type                 TEXT NOT NULL DEFAULT 'other',
	status               TEXT NOT NULL DEFAULT 'unknown',
	response_time_ms     BIGINT,
	last_checked_at      TIMESTAMPTZ,
	check_url            TEXT NOT NULL DEFAULT '',
	port                 INTEGER NOT NULL DEFAULT 0,
	description          TEXT NOT NULL DEFAULT '',
	is_active            BOOLEAN NOT NULL DEFAULT TRUE,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_error           TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alerts (
	id              BIGSERIAL PRIMARY KEY,
	device_id       BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	device_name     TEXT NOT NULL,
	message         TEXT NOT NULL,
	level           TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	acknowledged    BOOLEAN NOT NULL DEFAULT FALSE,
	acknowledged_by TEXT,
	acknowledged_at TIMESTAMPTZ,
	resolved        BOOLEAN NOT NULL DEFAULT FALSE,
	resolved_at     TIMESTAMPTZ,
	email_sent      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS alerts_device_unresolved_idx ON alerts (device_id) WHERE NOT resolved;
`

const deviceColumns = `id, name, host, type, status, response_time_ms, last_checked_at, check_url, port,
	description, is_active, consecutive_failures, last_error, created_at, updated_at`

const alertColumns = `id, device_id, device_name, message, level, timestamp, acknowledged,
	acknowledged_by, acknowledged_at, resolved, resolved_at, email_sent`

// PostgresStore is a PostgreSQL implementation of [Store].
type PostgresStore struct {
	conn   *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool for dsn and verifies it with a ping.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL")
	return &PostgresStore{conn: conn, logger: logger}, nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// EnsureSchema creates the devices and alerts tables if they do not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertDevice inserts d or updates the configured fields of the device with
// the same name.
func (p *PostgresStore) UpsertDevice(ctx context.Context, d model.Device) (model.Device, error) {
	if d.Type == "" {
		d.Type = model.TypeOther
	}
	query := `
		INSERT INTO devices (name, host, type, check_url, port, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			host = EXCLUDED.host,
			type = EXCLUDED.type,
			check_url = EXCLUDED.check_url,
			port = EXCLUDED.port,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING ` + deviceColumns

	row := p.conn.QueryRowContext(ctx, query,
		d.Name, d.Host, string(d.Type), d.CheckURL, d.Port, d.Description, d.IsActive)
	saved, err := scanDevice(row)
	if err != nil {
		return model.Device{}, fmt.Errorf("failed to upsert device %q: %w", d.Name, err)
	}
	return saved, nil
}

// ListDevices returns devices matching filter ordered by ID.
func (p *PostgresStore) ListDevices(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR host ILIKE $%d OR description ILIKE $%d)", n, n, n))
	}

	query := "SELECT " + deviceColumns + " FROM devices"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	return p.queryDevices(ctx, query, args...)
}

// FindActiveDevices returns devices with is_active set.
func (p *PostgresStore) FindActiveDevices(ctx context.Context) ([]model.Device, error) {
	return p.queryDevices(ctx, "SELECT "+deviceColumns+" FROM devices WHERE is_active ORDER BY id")
}

func (p *PostgresStore) queryDevices(ctx context.Context, query string, args ...any) ([]model.Device, error) {
	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

// FindDevice returns the device with the given ID.
func (p *PostgresStore) FindDevice(ctx context.Context, id int64) (model.Device, error) {
	row := p.conn.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = $1", id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("failed to get device %d: %w", id, err)
	}
	return d, nil
}

// SaveDevice writes the health fields of d.
func (p *PostgresStore) SaveDevice(ctx context.Context, d model.Device) error {
	query := `
		UPDATE devices
		SET status = $2, response_time_ms = $3, last_checked_at = $4,
			consecutive_failures = $5, last_error = $6, updated_at = NOW()
		WHERE id = $1
	`
	result, err := p.conn.ExecContext(ctx, query,
		d.ID, string(d.Status), nullInt64(d.ResponseTimeMs), nullTime(d.LastCheckedAt),
		d.ConsecutiveFailures, nullString(d.LastError))
	if err != nil {
		return fmt.Errorf("failed to save device %d: %w", d.ID, err)
	}
	return expectOneRow(result, "device", d.ID)
}

// CreateAlert inserts a and returns it with its assigned ID.
func (p *PostgresStore) CreateAlert(ctx context.Context, a model.Alert) (model.Alert, error) {
	query := `
		INSERT INTO alerts (device_id, device_name, message, level, timestamp, resolved, resolved_at, email_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := p.conn.QueryRowContext(ctx, query,
		a.DeviceID, a.DeviceName, a.Message, string(a.Level), a.Timestamp,
		a.Resolved, nullTime(a.ResolvedAt), a.EmailSent,
	).Scan(&a.ID)
	if err != nil {
		return model.Alert{}, fmt.Errorf("failed to create alert for device %d: %w", a.DeviceID, err)
	}

	p.logger.Debug("created alert", "alert_id", a.ID, "device_id", a.DeviceID, "level", a.Level)
	return a, nil
}

// FindUnresolvedAlerts returns the unresolved alerts of deviceID, oldest first.
func (p *PostgresStore) FindUnresolvedAlerts(ctx context.Context, deviceID int64) ([]model.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE device_id = $1 AND NOT resolved ORDER BY id"
	return p.queryAlerts(ctx, query, deviceID)
}

// RecentAlerts returns up to limit alerts, newest first.
func (p *PostgresStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts ORDER BY timestamp DESC, id DESC LIMIT $1"
	return p.queryAlerts(ctx, query, limit)
}

func (p *PostgresStore) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := p.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a              model.Alert
			level          string
			acknowledgedBy sql.NullString
			acknowledgedAt sql.NullTime
			resolvedAt     sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.DeviceID, &a.DeviceName, &a.Message, &level, &a.Timestamp,
			&a.Acknowledged, &acknowledgedBy, &acknowledgedAt, &a.Resolved, &resolvedAt, &a.EmailSent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Level = model.AlertLevel(level)
		if acknowledgedBy.Valid {
			a.AcknowledgedBy = &acknowledgedBy.String
		}
		if acknowledgedAt.Valid {
			a.AcknowledgedAt = &acknowledgedAt.Time
		}
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// ResolveAlert marks the alert resolved. The update only matches unresolved
// rows; when nothing matches, a lookup tells a missing alert apart from an
// already resolved one.
func (p *PostgresStore) ResolveAlert(ctx context.Context, id int64, at time.Time) error {
	result, err := p.conn.ExecContext(ctx,
		"UPDATE alerts SET resolved = TRUE, resolved_at = $2 WHERE id = $1 AND NOT resolved", id, at)
	if err != nil {
		return fmt.Errorf("failed to resolve alert %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return p.unmatchedAlert(ctx, id)
}

// unmatchedAlert explains why an update guarded by NOT resolved matched no
// row.
func (p *PostgresStore) unmatchedAlert(ctx context.Context, id int64) error {
	var resolved bool
	err := p.conn.QueryRowContext(ctx, "SELECT resolved FROM alerts WHERE id = $1", id).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return model.ErrAlreadyResolved
}

// MarkAlertEmailed sets email_sent on an unresolved alert, with the same
// missing/resolved distinction as ResolveAlert.
func (p *PostgresStore) MarkAlertEmailed(ctx context.Context, id int64) error {
	result, err := p.conn.ExecContext(ctx, "UPDATE alerts SET email_sent = TRUE WHERE id = $1 AND NOT resolved", id)
	if err != nil {
		return fmt.Errorf("failed to mark alert %d emailed: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return p.unmatchedAlert(ctx, id)
}

// CountUnresolvedAlerts counts alerts that are not resolved.
func (p *PostgresStore) CountUnresolvedAlerts(ctx context.Context) (int, error) {
	var n int
	if err := p.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE NOT resolved").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unresolved alerts: %w", err)
	}
	return n, nil
}

// DeleteResolvedAlertsBefore removes resolved alerts resolved before cutoff.
func (p *PostgresStore) DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := p.conn.ExecContext(ctx, "DELETE FROM alerts WHERE resolved AND resolved_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (model.Device, error) {
	var (
		d             model.Device
		deviceType    string
		status        string
		responseTime  sql.NullInt64
		lastCheckedAt sql.NullTime
		lastError     sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Host, &deviceType, &status, &responseTime, &lastCheckedAt,
		&d.CheckURL, &d.Port, &d.Description, &d.IsActive, &d.ConsecutiveFailures,
		&lastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.Device{}, err
	}
	d.Type = model.DeviceType(deviceType)
	d.Status = model.Status(status)
	if responseTime.Valid {
		d.ResponseTimeMs = &responseTime.Int64
	}
	if lastCheckedAt.Valid {
		d.LastCheckedAt = &lastCheckedAt.Time
	}
	if lastError.Valid {
		d.LastError = &lastError.String
	}
	return d, nil
}

func expectOneRow(result sql.Result, kind string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
