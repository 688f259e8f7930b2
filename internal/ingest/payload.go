package ingest

import (
	"errors"
	"math"
	"time"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
)

// 批量上报大小边界
const (
	MinBatchSize     = 1
	MaxBatchSize     = 200
	MaxDeviceIDLen   = 64
	ClampWindowHours = 24
)

// 整批拒绝：任何一条非法读数使整个请求失败，不做部分入库
var (
	ErrInvalidPayload = errors.New("invalid_payload")
	ErrInvalidSamples = errors.New("invalid_samples")
)

// RawSample 设备上报的单条读数（wire 格式）
type RawSample struct {
	T     int64   `json:"t"` // unix seconds, device clock
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Payload 设备上报的批量载荷（wire 格式）
type Payload struct {
	DeviceID string      `json:"device_id,omitempty"`
	SentAt   int64       `json:"sent_at,omitempty"` // unix seconds
	Samples  []RawSample `json:"samples"`
}

// ValidatePayload checks structure only: batch size, device_id length, metric
// enum, canonical unit per metric, finite values. Timestamp clamping happens
// later in SanitizeBatch because it depends on the ingestion clock.
func ValidatePayload(p *Payload) error {
	if p == nil {
		return ErrInvalidPayload
	}
	if len(p.Samples) < MinBatchSize || len(p.Samples) > MaxBatchSize {
		return ErrInvalidPayload
	}
	if len(p.DeviceID) > MaxDeviceIDLen {
		return ErrInvalidPayload
	}
	for _, s := range p.Samples {
		metric := domain.MetricType(s.Type)
		if !metric.Valid() {
			return ErrInvalidPayload
		}
		if s.Unit != metric.Unit() {
			return ErrInvalidPayload
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return ErrInvalidPayload
		}
	}
	return nil
}

// SanitizeBatch converts a validated payload into storable samples: humidity
// clamped into [0,100], timestamps clamped into ±24h around now so devices
// with clock drift cannot write far-future or far-past buckets.
func SanitizeBatch(terrariumID string, p *Payload, now time.Time) ([]domain.Sample, error) {
	sentAt := now
	if p.SentAt > 0 {
		sentAt = time.Unix(p.SentAt, 0).UTC()
	}

	samples := make([]domain.Sample, 0, len(p.Samples))
	for _, raw := range p.Samples {
		metric := domain.MetricType(raw.Type)
		if !metric.Valid() || raw.Unit != metric.Unit() {
			return nil, ErrInvalidSamples
		}
		value, err := sanitizeValue(metric, raw.Value)
		if err != nil {
			return nil, ErrInvalidSamples
		}
		if raw.T == 0 {
			return nil, ErrInvalidSamples
		}
		ts := clampToIngestionWindow(time.Unix(raw.T, 0).UTC(), now)

		samples = append(samples, domain.Sample{
			TerrariumID: terrariumID,
			DeviceID:    p.DeviceID,
			Ts:          ts,
			Type:        metric,
			Unit:        raw.Unit,
			Value:       value,
			SentAt:      sentAt,
		})
	}
	return samples, nil
}

func sanitizeValue(metric domain.MetricType, value float64) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrInvalidSamples
	}
	if metric == domain.MetricHumidity {
		return math.Min(math.Max(value, 0), 100), nil
	}
	// other metrics pass through unclamped
	return value, nil
}

func clampToIngestionWindow(ts, now time.Time) time.Time {
	window := ClampWindowHours * time.Hour
	if ts.After(now.Add(window)) {
		return now.Add(window)
	}
	if ts.Before(now.Add(-window)) {
		return now.Add(-window)
	}
	return ts
}
