package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
)

// PostgresTerrariumRepo TerrariumRepo 的 PostgreSQL 实现
type PostgresTerrariumRepo struct {
	db *sql.DB
}

func NewPostgresTerrariumRepo(db *sql.DB) *PostgresTerrariumRepo {
	return &PostgresTerrariumRepo{db: db}
}

var _ TerrariumRepo = (*PostgresTerrariumRepo)(nil)

const terrariumColumns = `
	id, owner_id, name, location, description, uuid, device_token_hash,
	hc_url, hc_delay_minutes, hc_enabled, hc_last_triggered_at, hc_secret_id,
	created_at, updated_at`

func scanTerrarium(row interface{ Scan(...any) error }) (*domain.Terrarium, error) {
	var t domain.Terrarium
	var hcURL, hcSecretID string
	var hcDelay int
	var hcEnabled bool
	var hcLastTriggered sql.NullTime

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Name, &t.Location, &t.Description, &t.UUID, &t.DeviceTokenHash,
		&hcURL, &hcDelay, &hcEnabled, &hcLastTriggered, &hcSecretID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if hcURL != "" || hcEnabled || hcDelay > 0 {
		hc := &domain.HealthCheckConfig{
			URL:          hcURL,
			DelayMinutes: hcDelay,
			IsEnabled:    hcEnabled,
			SecretID:     hcSecretID,
		}
		if hcLastTriggered.Valid {
			at := hcLastTriggered.Time
			hc.LastTriggeredAt = &at
		}
		t.HealthCheck = hc
	}
	return &t, nil
}

func (r *PostgresTerrariumRepo) Create(ctx context.Context, t *domain.Terrarium) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terrariums (id, owner_id, name, location, description, uuid, device_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.OwnerID, t.Name, t.Location, t.Description, t.UUID, t.DeviceTokenHash,
	)
	if err != nil {
		return fmt.Errorf("failed to create terrarium: %w", err)
	}
	return nil
}

func (r *PostgresTerrariumRepo) GetByID(ctx context.Context, id string) (*domain.Terrarium, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+terrariumColumns+` FROM terrariums WHERE id = $1`, id)
	t, err := scanTerrarium(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terrarium: %w", err)
	}
	return t, nil
}

func (r *PostgresTerrariumRepo) GetByUUID(ctx context.Context, uuid string) (*domain.Terrarium, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+terrariumColumns+` FROM terrariums WHERE uuid = $1`, uuid)
	t, err := scanTerrarium(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terrarium by uuid: %w", err)
	}
	return t, nil
}

func (r *PostgresTerrariumRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Terrarium, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+terrariumColumns+` FROM terrariums WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terrariums: %w", err)
	}
	defer rows.Close()

	var out []domain.Terrarium
	for rows.Next() {
		t, err := scanTerrarium(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terrarium: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresTerrariumRepo) Update(ctx context.Context, t *domain.Terrarium) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE terrariums
		SET name = $2, location = $3, description = $4, device_token_hash = $5, updated_at = now()
		WHERE id = $1`,
		t.ID, t.Name, t.Location, t.Description, t.DeviceTokenHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update terrarium: %w", err)
	}
	return requireRowAffected(res)
}

func (r *PostgresTerrariumRepo) UpdateHealthCheck(ctx context.Context, terrariumID string, hc *domain.HealthCheckConfig) error {
	if hc == nil {
		hc = &domain.HealthCheckConfig{}
	}
	var lastTriggered any
	if hc.LastTriggeredAt != nil {
		lastTriggered = *hc.LastTriggeredAt
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE terrariums
		SET hc_url = $2, hc_delay_minutes = $3, hc_enabled = $4,
		    hc_last_triggered_at = $5, hc_secret_id = $6, updated_at = now()
		WHERE id = $1`,
		terrariumID, hc.URL, hc.DelayMinutes, hc.IsEnabled, lastTriggered, hc.SecretID,
	)
	if err != nil {
		return fmt.Errorf("failed to update health check config: %w", err)
	}
	return requireRowAffected(res)
}

func (r *PostgresTerrariumRepo) SetHealthCheckTriggeredAt(ctx context.Context, terrariumID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE terrariums SET hc_last_triggered_at = $2, updated_at = now() WHERE id = $1`,
		terrariumID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to set health check trigger: %w", err)
	}
	return requireRowAffected(res)
}

func (r *PostgresTerrariumRepo) ClearHealthCheckTriggeredAt(ctx context.Context, terrariumID string) error {
	// Conditional on non-null so a concurrent sweep writing a fresh trigger
	// still wins over a stale clear.
	_, err := r.db.ExecContext(ctx, `
		UPDATE terrariums SET hc_last_triggered_at = NULL, updated_at = now()
		WHERE id = $1 AND hc_last_triggered_at IS NOT NULL`,
		terrariumID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear health check trigger: %w", err)
	}
	return nil
}

func (r *PostgresTerrariumRepo) ListHealthCheckCandidates(ctx context.Context) ([]domain.Terrarium, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+terrariumColumns+`
		FROM terrariums
		WHERE hc_enabled = TRUE AND hc_url <> '' AND hc_delay_minutes > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to list health check candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Terrarium
	for rows.Next() {
		t, err := scanTerrarium(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terrarium: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresTerrariumRepo) Delete(ctx context.Context, terrariumID string) error {
	// samples/aggregates/webhooks follow via ON DELETE CASCADE
	res, err := r.db.ExecContext(ctx, `DELETE FROM terrariums WHERE id = $1`, terrariumID)
	if err != nil {
		return fmt.Errorf("failed to delete terrarium: %w", err)
	}
	return requireRowAffected(res)
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
