package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// RawSampleQuery 原始样本查询条件（可选字段显式化，不做动态拼 map）
type RawSampleQuery struct {
	TerrariumID string
	Type        domain.MetricType
	From        *time.Time
	To          *time.Time
	Limit       int
}

// BucketQuery 聚合桶查询条件
type BucketQuery struct {
	TerrariumID string
	Type        domain.MetricType
	From        *time.Time
	To          *time.Time
	Limit       int
}

// TerrariumRepo 设备身份存取
type TerrariumRepo interface {
	Create(ctx context.Context, t *domain.Terrarium) error
	GetByID(ctx context.Context, id string) (*domain.Terrarium, error)
	GetByUUID(ctx context.Context, uuid string) (*domain.Terrarium, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Terrarium, error)
	Update(ctx context.Context, t *domain.Terrarium) error
	UpdateHealthCheck(ctx context.Context, terrariumID string, hc *domain.HealthCheckConfig) error
	SetHealthCheckTriggeredAt(ctx context.Context, terrariumID string, at time.Time) error
	ClearHealthCheckTriggeredAt(ctx context.Context, terrariumID string) error
	ListHealthCheckCandidates(ctx context.Context) ([]domain.Terrarium, error)
	// Delete cascades to samples, aggregates and alert rules.
	Delete(ctx context.Context, terrariumID string) error
}

// SampleRepo 样本存取
type SampleRepo interface {
	InsertBatch(ctx context.Context, samples []domain.Sample) (int, error)
	// LastSampleTimes returns the most recent sample timestamp per terrarium
	// in a single grouped query; terrariums with no samples are absent.
	LastSampleTimes(ctx context.Context, terrariumIDs []string) (map[string]time.Time, error)
	ListRaw(ctx context.Context, q RawSampleQuery) ([]domain.Sample, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AggregateRepo 聚合桶存取。Upsert* 必须对同一桶键原子合并
// （count 加权平均），并发写同一键不得丢更新。
type AggregateRepo interface {
	UpsertHourly(ctx context.Context, terrariumID string, metric domain.MetricType, hour time.Time, add domain.Stats) error
	UpsertDaily(ctx context.Context, terrariumID string, metric domain.MetricType, day time.Time, add domain.Stats) error
	UpsertHourOfDay(ctx context.Context, terrariumID string, metric domain.MetricType, hourOfDay int, add domain.Stats) error
	ListHourly(ctx context.Context, q BucketQuery) ([]domain.HourlyAggregate, error)
	ListDaily(ctx context.Context, q BucketQuery) ([]domain.DailyAggregate, error)
	ListHourOfDay(ctx context.Context, terrariumID string, metric domain.MetricType, limit int) ([]domain.HourOfDayAggregate, error)
}

// AlertRuleRepo 告警规则（webhook）存取
type AlertRuleRepo interface {
	Create(ctx context.Context, r *domain.AlertRule) error
	GetByID(ctx context.Context, id string) (*domain.AlertRule, error)
	ListByTerrarium(ctx context.Context, terrariumID string) ([]domain.AlertRule, error)
	ActiveRules(ctx context.Context, terrariumID string, metrics []domain.MetricType) ([]domain.AlertRule, error)
	Update(ctx context.Context, r *domain.AlertRule) error
	Delete(ctx context.Context, id string) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}
