package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homeassist/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const automationColumns = "id, name, enabled, trigger_type, trigger_config, action_type, action_config, last_triggered_at, created_at, updated_at"

// InsertAutomation stores a new automation row
func (d *DB) InsertAutomation(ctx context.Context, a models.Automation) error {
	trig, act, err := encodePayloads(a)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		"INSERT INTO automations ("+automationColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		a.ID, a.Name, a.Enabled, string(a.Trigger.Type()), trig, string(a.Action.Type()), act,
		a.LastTriggeredAt, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetAutomation fetches an automation by id
func (d *DB) GetAutomation(ctx context.Context, id string) (models.Automation, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+automationColumns+" FROM automations WHERE id = $1", id)
	a, err := scanAutomation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Automation{}, models.ErrNotFound
	}
	return a, err
}

// ListAutomations fetches all automations ordered by id
func (d *DB) ListAutomations(ctx context.Context, enabledOnly bool) ([]models.Automation, error) {
	query := "SELECT " + automationColumns + " FROM automations"
	if enabledOnly {
		query += " WHERE enabled"
	}
	query += " ORDER BY id"

	rows, err := d.pool.Query(ctx, query)
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
	tag, err := d.pool.Exec(ctx,
		"UPDATE automations SET name = $1, enabled = $2, trigger_type = $3, trigger_config = $4, action_type = $5, action_config = $6, updated_at = $7 WHERE id = $8",
		a.Name, a.Enabled, string(a.Trigger.Type()), trig, string(a.Action.Type()), act, a.UpdatedAt, a.ID)
	return checkAffected(tag, err)
}

// DeleteAutomation removes an automation; runs cascade
func (d *DB) DeleteAutomation(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, "DELETE FROM automations WHERE id = $1", id)
	return checkAffected(tag, err)
}

// SetAutomationEnabled updates the enabled flag
func (d *DB) SetAutomationEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	tag, err := d.pool.Exec(ctx, "UPDATE automations SET enabled = $1, updated_at = $2 WHERE id = $3", enabled, at, id)
	return checkAffected(tag, err)
}

// MarkAutomationTriggered sets last_triggered_at
func (d *DB) MarkAutomationTriggered(ctx context.Context, id string, at time.Time) error {
	tag, err := d.pool.Exec(ctx, "UPDATE automations SET last_triggered_at = $1 WHERE id = $2", at, id)
	return checkAffected(tag, err)
}

// InsertRun logs an execution to history
func (d *DB) InsertRun(ctx context.Context, run models.Run) error {
	_, err := d.pool.Exec(ctx,
		"INSERT INTO automation_runs (automation_id, started_at, duration_ms, success, detail, source) VALUES ($1, $2, $3, $4, $5, $6)",
		run.AutomationID, run.StartedAt, run.Duration.Milliseconds(), run.Success, run.Detail, string(run.Source))
	return err
}

// ListRuns fetches the newest runs of an automation
func (d *DB) ListRuns(ctx context.Context, automationID string, limit int) ([]models.Run, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT id, automation_id, started_at, duration_ms, success, detail, source FROM automation_runs WHERE automation_id = $1 ORDER BY started_at DESC, id DESC LIMIT $2",
		automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var (
			r          models.Run
			durationMs int64
			source     string
		)
		if err := rows.Scan(&r.ID, &r.AutomationID, &r.StartedAt, &durationMs, &r.Success, &r.Detail, &source); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Source = models.RunSource(source)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanAutomation(row pgx.Row) (models.Automation, error) {
	var (
		a             models.Automation
		triggerType   string
		triggerConfig []byte
		actionType    string
		actionConfig  []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Enabled, &triggerType, &triggerConfig, &actionType, &actionConfig,
		&a.LastTriggeredAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Automation{}, err
	}

	var err error
	if a.Trigger, err = models.DecodeTrigger(models.TriggerType(triggerType), triggerConfig); err != nil {
		return models.Automation{}, fmt.Errorf("db: automation %s: %w", a.ID, err)
	}
	if a.Action, err = models.DecodeAction(models.ActionType(actionType), actionConfig); err != nil {
		return models.Automation{}, fmt.Errorf("db: automation %s: %w", a.ID, err)
	}
	return a, nil
}

func encodePayloads(a models.Automation) ([]byte, []byte, error) {
	trig, err := json.Marshal(a.Trigger)
	if err != nil {
		return nil, nil, fmt.Errorf("db: marshal trigger: %w", err)
	}
	act, err := json.Marshal(a.Action)
	if err != nil {
		return nil, nil, fmt.Errorf("db: marshal action: %w", err)
	}
	return trig, act, nil
}

func checkAffected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
