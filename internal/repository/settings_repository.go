package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/errors"
)

// SettingsRepository handles the system_settings singleton row.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// AutoGenerationEnabled reads the auto-generation toggle. A missing row
// means the toggle has never been set and reads as disabled.
func (r *SettingsRepository) AutoGenerationEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := r.db.QueryRow(ctx,
		`SELECT auto_generation_enabled FROM system_settings WHERE id = 1`,
	).Scan(&enabled)

	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to read system settings")
	}
	return enabled, nil
}

// SetAutoGenerationEnabled writes the toggle, creating the singleton row on
// first use.
func (r *SettingsRepository) SetAutoGenerationEnabled(ctx context.Context, enabled bool) error {
	query := `
		INSERT INTO system_settings (id, auto_generation_enabled)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE
		SET auto_generation_enabled = EXCLUDED.auto_generation_enabled,
		    updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, enabled); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update system settings")
	}
	return nil
}
