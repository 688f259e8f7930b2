package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"

	"github.com/lib/pq"
)

// PostgresSampleRepo SampleRepo 的 PostgreSQL 实现
type PostgresSampleRepo struct {
	db *sql.DB
}

func NewPostgresSampleRepo(db *sql.DB) *PostgresSampleRepo {
	return &PostgresSampleRepo{db: db}
}

var _ SampleRepo = (*PostgresSampleRepo)(nil)

func (r *PostgresSampleRepo) InsertBatch(ctx context.Context, samples []domain.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	// 单条 INSERT 多 VALUES，保持数组顺序写入
	var sb strings.Builder
	sb.WriteString(`INSERT INTO samples (terrarium_id, device_id, ts, type, unit, value, sent_at) VALUES `)
	args := make([]any, 0, len(samples)*7)
	for i, s := range samples {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		sb.WriteString("($" + strconv.Itoa(base+1) +
			", $" + strconv.Itoa(base+2) +
			", $" + strconv.Itoa(base+3) +
			", $" + strconv.Itoa(base+4) +
			", $" + strconv.Itoa(base+5) +
			", $" + strconv.Itoa(base+6) +
			", $" + strconv.Itoa(base+7) + ")")
		args = append(args, s.TerrariumID, s.DeviceID, s.Ts, string(s.Type), s.Unit, s.Value, s.SentAt)
	}

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(samples), nil
	}
	return int(n), nil
}

func (r *PostgresSampleRepo) LastSampleTimes(ctx context.Context, terrariumIDs []string) (map[string]time.Time, error) {
	if len(terrariumIDs) == 0 {
		return map[string]time.Time{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT terrarium_id::text, MAX(ts)
		FROM samples
		WHERE terrarium_id = ANY($1)
		GROUP BY terrarium_id`,
		pq.Array(terrariumIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query last sample times: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time, len(terrariumIDs))
	for rows.Next() {
		var id string
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan last sample time: %w", err)
		}
		out[id] = ts
	}
	return out, rows.Err()
}

func (r *PostgresSampleRepo) ListRaw(ctx context.Context, q RawSampleQuery) ([]domain.Sample, error) {
	query := `
		SELECT id, terrarium_id::text, device_id, ts, type, unit, value, sent_at, created_at
		FROM samples
		WHERE terrarium_id = $1 AND type = $2`
	args := []any{q.TerrariumID, string(q.Type)}
	argCount := 3

	if q.From != nil {
		query += " AND ts >= $" + strconv.Itoa(argCount)
		args = append(args, *q.From)
		argCount++
	}
	if q.To != nil {
		query += " AND ts <= $" + strconv.Itoa(argCount)
		args = append(args, *q.To)
		argCount++
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	query += " ORDER BY ts ASC LIMIT $" + strconv.Itoa(argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []domain.Sample
	for rows.Next() {
		var s domain.Sample
		var metric string
		if err := rows.Scan(&s.ID, &s.TerrariumID, &s.DeviceID, &s.Ts, &metric, &s.Unit, &s.Value, &s.SentAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.Type = domain.MetricType(metric)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresSampleRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge samples: %w", err)
	}
	return res.RowsAffected()
}
