// Package sqlite is the embedded automation repository used for single-box
// installs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeassist/internal/models"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Fixed-width UTC timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB is an automation repository backed by SQLite
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	conn, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite allows a single writer; an in-memory database exists per connection.
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := Apply(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{db: conn}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

const automationColumns = "id, name, enabled, trigger_type, trigger_config, action_type, action_config, last_triggered_at, created_at, updated_at"

// InsertAutomation stores a new automation row
func (d *DB) InsertAutomation(ctx context.Context, a models.Automation) error {
	trig, act, err := encodePayloads(a)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		"INSERT INTO automations ("+automationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.Name, a.Enabled, string(a.Trigger.Type()), trig, string(a.Action.Type()), act,
		formatTime(a.LastTriggeredAt), a.CreatedAt.UTC().Format(timeLayout), a.UpdatedAt.UTC().Format(timeLayout))
	return err
}

// GetAutomation fetches an automation by id
func (d *DB) GetAutomation(ctx context.Context, id string) (models.Automation, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+automationColumns+" FROM automations WHERE id = ?", id)
	a, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Automation{}, models.ErrNotFound
	}
	return a, err
}

// ListAutomations fetches all automations ordered by id
func (d *DB) ListAutomations(ctx context.Context, enabledOnly bool) ([]models.Automation, error) {
	query := "SELECT " + automationColumns + " FROM automations"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	automations := []models.Automation{}
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

// UpdateAutomation rewrites the mutable columns of an automation
func (d *DB) UpdateAutomation(ctx context.Context, a models.Automation) error {
	trig, act, err := encodePayloads(a)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx,
		"UPDATE automations SET name = ?, enabled = ?, trigger_type = ?, trigger_config = ?, action_type = ?, action_config = ?, updated_at = ? WHERE id = ?",
		a.Name, a.Enabled, string(a.Trigger.Type()), trig, string(a.Action.Type()), act, a.UpdatedAt.UTC().Format(timeLayout), a.ID)
	return checkAffected(res, err)
}

// DeleteAutomation removes an automation and its runs
func (d *DB) DeleteAutomation(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM automation_runs WHERE automation_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err := checkAffected(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

// SetAutomationEnabled updates the enabled flag
func (d *DB) SetAutomationEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	res, err := d.db.ExecContext(ctx, "UPDATE automations SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, at.UTC().Format(timeLayout), id)
	return checkAffected(res, err)
}

// MarkAutomationTriggered sets last_triggered_at
func (d *DB) MarkAutomationTriggered(ctx context.Context, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx, "UPDATE automations SET last_triggered_at = ? WHERE id = ?",
		at.UTC().Format(timeLayout), id)
	return checkAffected(res, err)
}

// InsertRun appends an execution record
func (d *DB) InsertRun(ctx context.Context, run models.Run) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO automation_runs (automation_id, started_at, duration_ms, success, detail, source) VALUES (?, ?, ?, ?, ?, ?)",
		run.AutomationID, run.StartedAt.UTC().Format(timeLayout), run.Duration.Milliseconds(), run.Success, run.Detail, string(run.Source))
	return err
}

// ListRuns returns the newest runs of an automation
func (d *DB) ListRuns(ctx context.Context, automationID string, limit int) ([]models.Run, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, automation_id, started_at, duration_ms, success, detail, source FROM automation_runs WHERE automation_id = ? ORDER BY started_at DESC, id DESC LIMIT ?",
		automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var (
			r          models.Run
			startedAt  string
			durationMs int64
			source     string
		)
		if err := rows.Scan(&r.ID, &r.AutomationID, &startedAt, &durationMs, &r.Success, &r.Detail, &source); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("sqlite: run %d started_at: %w", r.ID, err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Source = models.RunSource(source)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row scanner) (models.Automation, error) {
	var (
		a                    models.Automation
		triggerType          string
		triggerConfig        string
		actionType           string
		actionConfig         string
		lastTriggered        sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Enabled, &triggerType, &triggerConfig, &actionType, &actionConfig,
		&lastTriggered, &createdAt, &updatedAt); err != nil {
		return models.Automation{}, err
	}

	var err error
	if a.Trigger, err = models.DecodeTrigger(models.TriggerType(triggerType), json.RawMessage(triggerConfig)); err != nil {
		return models.Automation{}, fmt.Errorf("sqlite: automation %s: %w", a.ID, err)
	}
	if a.Action, err = models.DecodeAction(models.ActionType(actionType), json.RawMessage(actionConfig)); err != nil {
		return models.Automation{}, fmt.Errorf("sqlite: automation %s: %w", a.ID, err)
	}
	if lastTriggered.Valid {
		ts, err := time.Parse(timeLayout, lastTriggered.String)
		if err != nil {
			return models.Automation{}, fmt.Errorf("sqlite: automation %s last_triggered_at: %w", a.ID, err)
		}
		a.LastTriggeredAt = &ts
	}
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return models.Automation{}, fmt.Errorf("sqlite: automation %s created_at: %w", a.ID, err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return models.Automation{}, fmt.Errorf("sqlite: automation %s updated_at: %w", a.ID, err)
	}
	return a, nil
}

func encodePayloads(a models.Automation) (string, string, error) {
	trig, err := json.Marshal(a.Trigger)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: marshal trigger: %w", err)
	}
	act, err := json.Marshal(a.Action)
	if err != nil {
		return "", "", fmt.Errorf("sqlite: marshal action: %w", err)
	}
	return string(trig), string(act), nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
