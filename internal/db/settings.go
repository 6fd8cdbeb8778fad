package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DefaultSettingsID is the primary key of the singleton settings row.
const DefaultSettingsID = "default"

// GetAutomationSettings reads the persisted automation settings. Callers
// read these at admission/sweep time rather than caching them, so a settings
// change takes effect on the next request. Missing row or unparsable column
// falls back to defaults.
func (db *DB) GetAutomationSettings(ctx context.Context) (AutomationSettings, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT automation_settings FROM settings WHERE id = $1`, DefaultSettingsID,
	).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return DefaultAutomationSettings(), nil
		}
		return DefaultAutomationSettings(), fmt.Errorf("failed to read automation settings: %w", err)
	}

	if len(raw) == 0 {
		return DefaultAutomationSettings(), nil
	}

	settings := DefaultAutomationSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		return DefaultAutomationSettings(), nil
	}
	return settings, nil
}

// UpdateAutomationSettings writes the automation settings JSON, creating the
// settings row if it does not exist yet.
func (db *DB) UpdateAutomationSettings(ctx context.Context, settings AutomationSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal automation settings: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO settings (id, automation_settings)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET automation_settings = $2, updated_at = NOW()`,
		DefaultSettingsID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to update automation settings: %w", err)
	}
	return nil
}
