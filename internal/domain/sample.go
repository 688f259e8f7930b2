package domain

import "time"

// Sample 单条传感器读数（入库后不可变）
type Sample struct {
	ID          int64
	TerrariumID string
	DeviceID    string // 可选的子设备标识
	Ts          time.Time
	Type        MetricType
	Unit        string
	Value       float64
	SentAt      time.Time
	CreatedAt   time.Time
}
