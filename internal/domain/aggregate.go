package domain

import "time"

// Stats 一个聚合桶的统计摘要
type Stats struct {
	Count int64
	Avg   float64
	Min   float64
	Max   float64
}

// Merge folds addition into s using the count-weighted mean formula. The
// result is independent of how samples were split into batches.
func (s Stats) Merge(addition Stats) Stats {
	if addition.Count == 0 {
		return s
	}
	if s.Count == 0 {
		return addition
	}
	total := s.Count + addition.Count
	merged := Stats{
		Count: total,
		Avg:   (s.Avg*float64(s.Count) + addition.Avg*float64(addition.Count)) / float64(total),
		Min:   s.Min,
		Max:   s.Max,
	}
	if addition.Min < merged.Min {
		merged.Min = addition.Min
	}
	if addition.Max > merged.Max {
		merged.Max = addition.Max
	}
	return merged
}

// HourlyAggregate 按小时聚合桶，键为 (terrarium, metric, hour)
type HourlyAggregate struct {
	TerrariumID string
	Type        MetricType
	Hour        time.Time // UTC, truncated to the hour
	Stats
}

// DailyAggregate 按天聚合桶，键为 (terrarium, metric, day)
type DailyAggregate struct {
	TerrariumID string
	Type        MetricType
	Day         time.Time // UTC, truncated to midnight
	Stats
}

// HourOfDayAggregate 按一天中的小时聚合桶（0-23）
type HourOfDayAggregate struct {
	TerrariumID string
	Type        MetricType
	HourOfDay   int
	Stats
}

// TruncateToHour 截断到整点（UTC）
func TruncateToHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// TruncateToDay 截断到零点（UTC）
func TruncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// HourOfDay 返回 UTC 小时（0-23）
func HourOfDay(t time.Time) int {
	return t.UTC().Hour()
}
