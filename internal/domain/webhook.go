package domain

import "time"

// 告警规则冷却时间边界（秒）
const (
	CooldownDefaultSec = 900
	CooldownMinSec     = 60
	CooldownMaxSec     = 86400
)

// 离线监控延迟边界（分钟）
const (
	HealthCheckMinDelayMinutes = 5
	HealthCheckMaxDelayMinutes = 24 * 60
)

// AlertRule 阈值告警规则（对外称 webhook）
type AlertRule struct {
	ID              string
	TerrariumID     string
	Name            string
	URL             string
	IsActive        bool
	Metric          MetricType
	Comparator      Comparator
	Threshold       float64
	CooldownSec     int
	LastTriggeredAt *time.Time // cooldown is enforced per rule, not per sample
	SecretID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InCooldown reports whether the rule is still cooling down at now.
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*r.LastTriggeredAt) < time.Duration(r.CooldownSec)*time.Second
}
