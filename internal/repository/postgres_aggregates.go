package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
)

// PostgresAggregateRepo AggregateRepo 的 PostgreSQL 实现。
// 合并在单条 ON CONFLICT DO UPDATE 里由服务端完成，
// 并发折叠同一桶键不会丢更新（读-改-写竞态在这里消除）。
type PostgresAggregateRepo struct {
	db *sql.DB
}

func NewPostgresAggregateRepo(db *sql.DB) *PostgresAggregateRepo {
	return &PostgresAggregateRepo{db: db}
}

var _ AggregateRepo = (*PostgresAggregateRepo)(nil)

// upsert 的 SET 子句里对目标表的引用读的是冲突前的旧行，
// 所以 avg_value 先于 sample_count 计算也是安全的。
const upsertHourlySQL = `
	INSERT INTO aggregate_hourly (terrarium_id, type, hour, sample_count, avg_value, min_value, max_value)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (terrarium_id, type, hour) DO UPDATE SET
		avg_value = (aggregate_hourly.avg_value * aggregate_hourly.sample_count + EXCLUDED.avg_value * EXCLUDED.sample_count)
			/ (aggregate_hourly.sample_count + EXCLUDED.sample_count),
		sample_count = aggregate_hourly.sample_count + EXCLUDED.sample_count,
		min_value = LEAST(aggregate_hourly.min_value, EXCLUDED.min_value),
		max_value = GREATEST(aggregate_hourly.max_value, EXCLUDED.max_value)`

const upsertDailySQL = `
	INSERT INTO aggregate_daily (terrarium_id, type, day, sample_count, avg_value, min_value, max_value)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (terrarium_id, type, day) DO UPDATE SET
		avg_value = (aggregate_daily.avg_value * aggregate_daily.sample_count + EXCLUDED.avg_value * EXCLUDED.sample_count)
			/ (aggregate_daily.sample_count + EXCLUDED.sample_count),
		sample_count = aggregate_daily.sample_count + EXCLUDED.sample_count,
		min_value = LEAST(aggregate_daily.min_value, EXCLUDED.min_value),
		max_value = GREATEST(aggregate_daily.max_value, EXCLUDED.max_value)`

const upsertHourOfDaySQL = `
	INSERT INTO aggregate_hour_of_day (terrarium_id, type, hour_of_day, sample_count, avg_value, min_value, max_value)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (terrarium_id, type, hour_of_day) DO UPDATE SET
		avg_value = (aggregate_hour_of_day.avg_value * aggregate_hour_of_day.sample_count + EXCLUDED.avg_value * EXCLUDED.sample_count)
			/ (aggregate_hour_of_day.sample_count + EXCLUDED.sample_count),
		sample_count = aggregate_hour_of_day.sample_count + EXCLUDED.sample_count,
		min_value = LEAST(aggregate_hour_of_day.min_value, EXCLUDED.min_value),
		max_value = GREATEST(aggregate_hour_of_day.max_value, EXCLUDED.max_value)`

func (r *PostgresAggregateRepo) UpsertHourly(ctx context.Context, terrariumID string, metric domain.MetricType, hour time.Time, add domain.Stats) error {
	if add.Count == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, upsertHourlySQL,
		terrariumID, string(metric), hour, add.Count, add.Avg, add.Min, add.Max)
	if err != nil {
		return fmt.Errorf("failed to upsert hourly aggregate: %w", err)
	}
	return nil
}

func (r *PostgresAggregateRepo) UpsertDaily(ctx context.Context, terrariumID string, metric domain.MetricType, day time.Time, add domain.Stats) error {
	if add.Count == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, upsertDailySQL,
		terrariumID, string(metric), day, add.Count, add.Avg, add.Min, add.Max)
	if err != nil {
		return fmt.Errorf("failed to upsert daily aggregate: %w", err)
	}
	return nil
}

func (r *PostgresAggregateRepo) UpsertHourOfDay(ctx context.Context, terrariumID string, metric domain.MetricType, hourOfDay int, add domain.Stats) error {
	if add.Count == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, upsertHourOfDaySQL,
		terrariumID, string(metric), hourOfDay, add.Count, add.Avg, add.Min, add.Max)
	if err != nil {
		return fmt.Errorf("failed to upsert hour-of-day aggregate: %w", err)
	}
	return nil
}

func (r *PostgresAggregateRepo) ListHourly(ctx context.Context, q BucketQuery) ([]domain.HourlyAggregate, error) {
	query := `
		SELECT terrarium_id::text, type, hour, sample_count, avg_value, min_value, max_value
		FROM aggregate_hourly
		WHERE terrarium_id = $1 AND type = $2`
	query, args := appendBucketRange(query, "hour", q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.HourlyAggregate
	for rows.Next() {
		var a domain.HourlyAggregate
		var metric string
		if err := rows.Scan(&a.TerrariumID, &metric, &a.Hour, &a.Count, &a.Avg, &a.Min, &a.Max); err != nil {
			return nil, fmt.Errorf("failed to scan hourly aggregate: %w", err)
		}
		a.Type = domain.MetricType(metric)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresAggregateRepo) ListDaily(ctx context.Context, q BucketQuery) ([]domain.DailyAggregate, error) {
	query := `
		SELECT terrarium_id::text, type, day, sample_count, avg_value, min_value, max_value
		FROM aggregate_daily
		WHERE terrarium_id = $1 AND type = $2`
	query, args := appendBucketRange(query, "day", q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyAggregate
	for rows.Next() {
		var a domain.DailyAggregate
		var metric string
		if err := rows.Scan(&a.TerrariumID, &metric, &a.Day, &a.Count, &a.Avg, &a.Min, &a.Max); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		a.Type = domain.MetricType(metric)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresAggregateRepo) ListHourOfDay(ctx context.Context, terrariumID string, metric domain.MetricType, limit int) ([]domain.HourOfDayAggregate, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT terrarium_id::text, type, hour_of_day, sample_count, avg_value, min_value, max_value
		FROM aggregate_hour_of_day
		WHERE terrarium_id = $1 AND type = $2
		ORDER BY hour_of_day ASC
		LIMIT $3`,
		terrariumID, string(metric), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hour-of-day aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.HourOfDayAggregate
	for rows.Next() {
		var a domain.HourOfDayAggregate
		var m string
		if err := rows.Scan(&a.TerrariumID, &m, &a.HourOfDay, &a.Count, &a.Avg, &a.Min, &a.Max); err != nil {
			return nil, fmt.Errorf("failed to scan hour-of-day aggregate: %w", err)
		}
		a.Type = domain.MetricType(m)
		out = append(out, a)
	}
	return out, rows.Err()
}

func appendBucketRange(query, keyColumn string, q BucketQuery) (string, []any) {
	args := []any{q.TerrariumID, string(q.Type)}
	argCount := 3

	if q.From != nil {
		query += " AND " + keyColumn + " >= $" + strconv.Itoa(argCount)
		args = append(args, *q.From)
		argCount++
	}
	if q.To != nil {
		query += " AND " + keyColumn + " <= $" + strconv.Itoa(argCount)
		args = append(args, *q.To)
		argCount++
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	query += " ORDER BY " + keyColumn + " ASC LIMIT $" + strconv.Itoa(argCount)
	args = append(args, limit)
	return query, args
}
