package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
)

// RetentionSweeper 周期清理超过保留窗口的原始样本。
// 聚合桶不受保留期影响，历史统计保持完整。
type RetentionSweeper struct {
	samples  repository.SampleRepo
	days     int
	interval time.Duration
	logger   *zap.Logger
}

func NewRetentionSweeper(samples repository.SampleRepo, days int, interval time.Duration, logger *zap.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		samples:  samples,
		days:     days,
		interval: interval,
		logger:   logger,
	}
}

// Run 阻塞运行清理循环直到 ctx 取消，启动时先清一次
func (r *RetentionSweeper) Run(ctx context.Context) {
	r.SweepOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce 清理一轮过期样本
func (r *RetentionSweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.days)
	removed, err := r.samples.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("sample retention sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("expired samples removed",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
}
