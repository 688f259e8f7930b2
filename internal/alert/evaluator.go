package alert

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/webhook"
)

// ThresholdAlertPayload 阈值告警通知体
type ThresholdAlertPayload struct {
	TerrariumID         string    `json:"terrariumId"`
	Metric              string    `json:"metric"`
	Comparator          string    `json:"comparator"`
	Threshold           float64   `json:"threshold"`
	Current             float64   `json:"current"`
	At                  time.Time `json:"at"`
	SamplesCountInBatch int       `json:"samplesCountInBatch"`
}

// Deliverer 出站投递抽象，生产实现是 webhook.Dispatcher
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload any, sc webhook.SigningContext) (bool, error)
}

// Evaluator 阈值规则评估器。
// 一批样本按指标分组评估，规则之间相互独立，
// 批内按到达顺序找第一个命中的样本作为通知值。
type Evaluator struct {
	rules         *RuleSource
	dispatcher    Deliverer
	signingSecret string
	logger        *zap.Logger
	now           func() time.Time
}

func NewEvaluator(rules *RuleSource, dispatcher Deliverer, signingSecret string, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rules:         rules,
		dispatcher:    dispatcher,
		signingSecret: signingSecret,
		logger:        logger,
		now:           time.Now,
	}
}

// Evaluate 对一批已持久化的样本评估告警规则。
// 单条规则的失败不阻断其余规则，错误合并返回由调用方记录。
func (e *Evaluator) Evaluate(ctx context.Context, terrariumID string, samples []domain.Sample) error {
	byMetric := make(map[domain.MetricType][]domain.Sample)
	for _, s := range samples {
		byMetric[s.Type] = append(byMetric[s.Type], s)
	}

	var errs error
	for _, metric := range domain.AllMetrics {
		batch, ok := byMetric[metric]
		if !ok {
			continue
		}

		rules, err := e.rules.ActiveRules(ctx, terrariumID, metric)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		for _, rule := range rules {
			errs = multierr.Append(errs, e.evaluateRule(ctx, rule, batch))
		}
	}
	return errs
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule domain.AlertRule, batch []domain.Sample) error {
	var matched *domain.Sample
	for i := range batch {
		hit, known := rule.Comparator.Matches(batch[i].Value, rule.Threshold)
		if !known {
			e.logger.Warn("skipping rule with unrecognized comparator",
				zap.String("rule_id", rule.ID),
				zap.String("comparator", string(rule.Comparator)))
			return nil
		}
		if hit {
			matched = &batch[i]
			break
		}
	}
	if matched == nil {
		return nil
	}

	now := e.now()
	if rule.InCooldown(now) {
		e.logger.Debug("alert suppressed by cooldown",
			zap.String("rule_id", rule.ID),
			zap.String("terrarium_id", rule.TerrariumID),
			zap.Time("last_triggered_at", *rule.LastTriggeredAt))
		return nil
	}

	payload := ThresholdAlertPayload{
		TerrariumID:         rule.TerrariumID,
		Metric:              string(rule.Metric),
		Comparator:          string(rule.Comparator),
		Threshold:           rule.Threshold,
		Current:             matched.Value,
		At:                  matched.Ts,
		SamplesCountInBatch: len(batch),
	}
	delivered, err := e.dispatcher.Deliver(ctx, rule.URL, payload, webhook.SigningContext{
		TerrariumID: rule.TerrariumID,
		Metric:      string(rule.Metric),
		Secret:      e.signingSecret,
		SecretID:    rule.SecretID,
	})
	if err != nil {
		return err
	}
	if !delivered {
		// 投递失败不更新 lastTriggeredAt，冷却窗口留给下一批重试
		return nil
	}

	if err := e.rules.MarkTriggered(ctx, rule, now); err != nil {
		return err
	}
	e.logger.Info("threshold alert dispatched",
		zap.String("rule_id", rule.ID),
		zap.String("terrarium_id", rule.TerrariumID),
		zap.String("metric", string(rule.Metric)),
		zap.Float64("current", matched.Value))
	return nil
}
