package aggregate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
)

// Engine 聚合引擎：把一批样本折叠进小时/天/时段三类桶。
// 同一桶键的合并由 repo 层原子完成，引擎只负责分组和汇总。
type Engine struct {
	repo   repository.AggregateRepo
	logger *zap.Logger
}

func NewEngine(repo repository.AggregateRepo, logger *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger,
	}
}

type hourlyKey struct {
	terrariumID string
	metric      domain.MetricType
	hour        time.Time
}

type dailyKey struct {
	terrariumID string
	metric      domain.MetricType
	day         time.Time
}

type hourOfDayKey struct {
	terrariumID string
	metric      domain.MetricType
	hourOfDay   int
}

// Fold 计算批内每个桶键的增量统计并写入三类桶。
// 三类桶并行写，任一失败不影响其余两类，错误合并返回。
func (e *Engine) Fold(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	hourly := make(map[hourlyKey]domain.Stats)
	daily := make(map[dailyKey]domain.Stats)
	hourOfDay := make(map[hourOfDayKey]domain.Stats)

	for _, s := range samples {
		point := domain.Stats{Count: 1, Avg: s.Value, Min: s.Value, Max: s.Value}

		hk := hourlyKey{s.TerrariumID, s.Type, domain.TruncateToHour(s.Ts)}
		hourly[hk] = hourly[hk].Merge(point)

		dk := dailyKey{s.TerrariumID, s.Type, domain.TruncateToDay(s.Ts)}
		daily[dk] = daily[dk].Merge(point)

		hok := hourOfDayKey{s.TerrariumID, s.Type, domain.HourOfDay(s.Ts)}
		hourOfDay[hok] = hourOfDay[hok].Merge(point)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		for k, stats := range hourly {
			collect(e.repo.UpsertHourly(ctx, k.terrariumID, k.metric, k.hour, stats))
		}
	}()
	go func() {
		defer wg.Done()
		for k, stats := range daily {
			collect(e.repo.UpsertDaily(ctx, k.terrariumID, k.metric, k.day, stats))
		}
	}()
	go func() {
		defer wg.Done()
		for k, stats := range hourOfDay {
			collect(e.repo.UpsertHourOfDay(ctx, k.terrariumID, k.metric, k.hourOfDay, stats))
		}
	}()
	wg.Wait()

	if errs != nil {
		e.logger.Error("aggregate fold failed",
			zap.Int("samples", len(samples)),
			zap.Error(errs))
		return errs
	}

	e.logger.Debug("aggregate fold complete",
		zap.Int("samples", len(samples)),
		zap.Int("hourly_buckets", len(hourly)),
		zap.Int("daily_buckets", len(daily)),
		zap.Int("hour_of_day_buckets", len(hourOfDay)))
	return nil
}
