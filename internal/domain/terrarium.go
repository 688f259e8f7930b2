package domain

import "time"

// Terrarium 设备身份记录（一个饲养箱 = 一台上报设备）
type Terrarium struct {
	ID              string // 内部ID（UUID）
	OwnerID         string
	Name            string
	Location        string
	Description     string
	UUID            string // 公开设备标识，创建后不可变
	DeviceTokenHash string // sha256(token) 的十六进制，明文不落库
	HealthCheck     *HealthCheckConfig
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HealthCheckConfig 离线监控配置
type HealthCheckConfig struct {
	URL             string
	DelayMinutes    int
	IsEnabled       bool
	LastTriggeredAt *time.Time // one-shot gate; cleared on next ingested sample
	SecretID        string
}

// Armed reports whether the health check should be considered by the sweep.
func (h *HealthCheckConfig) Armed() bool {
	return h != nil && h.IsEnabled && h.URL != "" && h.DelayMinutes > 0
}
