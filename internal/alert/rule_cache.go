package alert

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
	"github.com/BenoitPrmt/terrarium-monitor/internal/store"
)

// RuleSource 告警规则读取层，带可选的 Redis 短 TTL 缓存。
// kv 为 nil 时直连 repo，语义不变。
// 缓存里的 last_triggered_at 允许短暂滞后，冷却判断以 TTL 为精度上界。
type RuleSource struct {
	repo   repository.AlertRuleRepo
	kv     store.KV
	ttl    time.Duration
	logger *zap.Logger
}

func NewRuleSource(repo repository.AlertRuleRepo, kv store.KV, ttl time.Duration, logger *zap.Logger) *RuleSource {
	return &RuleSource{
		repo:   repo,
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

func ruleCacheKey(terrariumID string, metric domain.MetricType) string {
	return "rules:" + terrariumID + ":" + string(metric)
}

// ActiveRules 返回指定指标的启用规则，按创建顺序排列
func (s *RuleSource) ActiveRules(ctx context.Context, terrariumID string, metric domain.MetricType) ([]domain.AlertRule, error) {
	if s.kv == nil {
		return s.repo.ActiveRules(ctx, terrariumID, []domain.MetricType{metric})
	}

	key := ruleCacheKey(terrariumID, metric)
	if cached, err := s.kv.Get(ctx, key); err == nil {
		var rules []domain.AlertRule
		if err := json.Unmarshal([]byte(cached), &rules); err == nil {
			return rules, nil
		}
		s.logger.Warn("corrupt rule cache entry, refetching", zap.String("key", key))
	} else if err != store.ErrMiss {
		// 缓存故障退化为直连，不影响告警
		s.logger.Warn("rule cache unavailable", zap.Error(err))
	}

	rules, err := s.repo.ActiveRules(ctx, terrariumID, []domain.MetricType{metric})
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(rules); err == nil {
		if err := s.kv.Set(ctx, key, string(encoded), s.ttl); err != nil {
			s.logger.Warn("failed to populate rule cache", zap.Error(err))
		}
	}
	return rules, nil
}

// MarkTriggered 记录规则触发时间并立刻踢掉该指标的缓存条目。
// 冷却状态必须对下一批样本可见，不能等 TTL 到期。
func (s *RuleSource) MarkTriggered(ctx context.Context, rule domain.AlertRule, at time.Time) error {
	if err := s.repo.MarkTriggered(ctx, rule.ID, at); err != nil {
		return err
	}
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Del(ctx, ruleCacheKey(rule.TerrariumID, rule.Metric)); err != nil {
		s.logger.Warn("failed to evict rule cache after trigger",
			zap.String("rule_id", rule.ID),
			zap.String("terrarium_id", rule.TerrariumID),
			zap.Error(err))
	}
	return nil
}

// Invalidate 删除某终端的全部规则缓存，规则增删改后调用
func (s *RuleSource) Invalidate(ctx context.Context, terrariumID string) {
	if s.kv == nil {
		return
	}
	keys, err := s.kv.ScanKeys(ctx, "rules:"+terrariumID+":*")
	if err != nil {
		s.logger.Warn("failed to scan rule cache keys",
			zap.String("terrarium_id", terrariumID),
			zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate rule cache",
			zap.String("terrarium_id", terrariumID),
			zap.Error(err))
	}
}
