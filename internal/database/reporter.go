package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"portwatch/internal/models"
)

const settingsColumns = `enabled, email_address, smtp_host, smtp_port, smtp_username, smtp_password, from_address, check_interval, last_run`

func (s *Store) ReporterSettings(ctx context.Context) (models.ReporterSettings, error) {
	var out models.ReporterSettings
	err := s.db.GetContext(ctx, &out, `SELECT `+settingsColumns+` FROM reporter_settings WHERE id = 1`)
	if err != nil {
		return out, fmt.Errorf("load reporter settings: %w", err)
	}
	return out, nil
}

// SaveReporterSettings replaces the singleton row wholesale. The polling
// interval is coerced: unset falls back to 60s, anything below the 30s
// floor is raised to it.
func (s *Store) SaveReporterSettings(ctx context.Context, in models.ReporterSettings) (models.ReporterSettings, error) {
	interval := in.CheckInterval
	if interval <= 0 {
		interval = 60
	} else if interval < 30 {
		interval = 30
	}

	q := s.db.Rebind(`UPDATE reporter_settings SET enabled = ?, email_address = ?, smtp_host = ?, smtp_port = ?, smtp_username = ?, smtp_password = ?, from_address = ?, check_interval = ? WHERE id = 1`)
	if _, err := s.db.ExecContext(ctx, q,
		in.Enabled, in.Destination, in.SMTPHost, in.SMTPPort,
		in.SMTPUsername, in.SMTPPassword, in.FromAddress, interval,
	); err != nil {
		return models.ReporterSettings{}, fmt.Errorf("save reporter settings: %w", err)
	}
	return s.ReporterSettings(ctx)
}

func (s *Store) SetLastRun(ctx context.Context, at time.Time) error {
	q := s.db.Rebind(`UPDATE reporter_settings SET last_run = ? WHERE id = 1`)
	if _, err := s.db.ExecContext(ctx, q, at.UTC()); err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	return nil
}

// LastAlertAt reports when an alert kind last fired for a holding.
// ok is false when it never has.
func (s *Store) LastAlertAt(ctx context.Context, holdingID int64, kind models.AlertKind) (time.Time, bool, error) {
	var at time.Time
	q := s.db.Rebind(`SELECT last_triggered FROM alerts_log WHERE holding_id = ? AND alert_type = ?`)
	err := s.db.GetContext(ctx, &at, q, holdingID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load alert log: %w", err)
	}
	return at, true, nil
}

// RecordAlert upserts the dedup row for (holding, kind). Called only
// after a notification was actually dispatched.
func (s *Store) RecordAlert(ctx context.Context, holdingID int64, kind models.AlertKind, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert log: %w", err)
	}
	defer tx.Rollback()

	var existing time.Time
	err = tx.GetContext(ctx, &existing, s.db.Rebind(`SELECT last_triggered FROM alerts_log WHERE holding_id = ? AND alert_type = ?`), holdingID, kind)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO alerts_log (holding_id, alert_type, last_triggered) VALUES (?, ?, ?)`), holdingID, kind, at.UTC())
	case err == nil:
		_, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE alerts_log SET last_triggered = ? WHERE holding_id = ? AND alert_type = ?`), at.UTC(), holdingID, kind)
	}
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert log: %w", err)
	}
	return nil
}
