package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"

	"github.com/lib/pq"
)

// PostgresAlertRuleRepo AlertRuleRepo 的 PostgreSQL 实现
type PostgresAlertRuleRepo struct {
	db *sql.DB
}

func NewPostgresAlertRuleRepo(db *sql.DB) *PostgresAlertRuleRepo {
	return &PostgresAlertRuleRepo{db: db}
}

var _ AlertRuleRepo = (*PostgresAlertRuleRepo)(nil)

const alertRuleColumns = `
	id, terrarium_id::text, name, url, is_active, metric, comparator,
	threshold, cooldown_sec, last_triggered_at, secret_id, created_at, updated_at`

func scanAlertRule(row interface{ Scan(...any) error }) (*domain.AlertRule, error) {
	var r domain.AlertRule
	var metric, comparator string
	var lastTriggered sql.NullTime

	err := row.Scan(
		&r.ID, &r.TerrariumID, &r.Name, &r.URL, &r.IsActive, &metric, &comparator,
		&r.Threshold, &r.CooldownSec, &lastTriggered, &r.SecretID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Metric = domain.MetricType(metric)
	r.Comparator = domain.Comparator(comparator)
	if lastTriggered.Valid {
		at := lastTriggered.Time
		r.LastTriggeredAt = &at
	}
	return &r, nil
}

func (p *PostgresAlertRuleRepo) Create(ctx context.Context, r *domain.AlertRule) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, terrarium_id, name, url, is_active, metric, comparator, threshold, cooldown_sec, secret_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.TerrariumID, r.Name, r.URL, r.IsActive, string(r.Metric), string(r.Comparator),
		r.Threshold, r.CooldownSec, r.SecretID,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

func (p *PostgresAlertRuleRepo) GetByID(ctx context.Context, id string) (*domain.AlertRule, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+alertRuleColumns+` FROM webhooks WHERE id = $1`, id)
	r, err := scanAlertRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return r, nil
}

func (p *PostgresAlertRuleRepo) ListByTerrarium(ctx context.Context, terrariumID string) ([]domain.AlertRule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+alertRuleColumns+` FROM webhooks WHERE terrarium_id = $1 ORDER BY created_at DESC`,
		terrariumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()
	return collectAlertRules(rows)
}

func (p *PostgresAlertRuleRepo) ActiveRules(ctx context.Context, terrariumID string, metrics []domain.MetricType) ([]domain.AlertRule, error) {
	if len(metrics) == 0 {
		return nil, nil
	}
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = string(m)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+alertRuleColumns+`
		FROM webhooks
		WHERE terrarium_id = $1 AND metric = ANY($2) AND is_active = TRUE
		ORDER BY created_at ASC`,
		terrariumID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()
	return collectAlertRules(rows)
}

func (p *PostgresAlertRuleRepo) Update(ctx context.Context, r *domain.AlertRule) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhooks
		SET name = $2, url = $3, is_active = $4, metric = $5, comparator = $6,
		    threshold = $7, cooldown_sec = $8, secret_id = $9, updated_at = now()
		WHERE id = $1`,
		r.ID, r.Name, r.URL, r.IsActive, string(r.Metric), string(r.Comparator),
		r.Threshold, r.CooldownSec, r.SecretID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	return requireRowAffected(res)
}

func (p *PostgresAlertRuleRepo) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	return requireRowAffected(res)
}

func (p *PostgresAlertRuleRepo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhooks SET last_triggered_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark alert rule triggered: %w", err)
	}
	return requireRowAffected(res)
}

func collectAlertRules(rows *sql.Rows) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
