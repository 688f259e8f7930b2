package domain

// MetricType 传感器指标类型
type MetricType string

const (
	MetricTemperature MetricType = "TEMPERATURE"
	MetricHumidity    MetricType = "HUMIDITY"
	MetricPressure    MetricType = "PRESSURE"
	MetricAltitude    MetricType = "ALTITUDE"
)

// AllMetrics 所有指标类型（固定顺序）
var AllMetrics = []MetricType{
	MetricTemperature,
	MetricHumidity,
	MetricPressure,
	MetricAltitude,
}

// MetricUnits maps each metric type to its canonical unit. Ingestion rejects
// any sample whose declared unit does not match.
var MetricUnits = map[MetricType]string{
	MetricTemperature: "C",
	MetricHumidity:    "%",
	MetricPressure:    "hPa",
	MetricAltitude:    "m",
}

// Valid 检查指标类型是否有效
func (m MetricType) Valid() bool {
	_, ok := MetricUnits[m]
	return ok
}

// Unit 返回指标的标准单位
func (m MetricType) Unit() string {
	return MetricUnits[m]
}

// Comparator 阈值比较符（gt/gte/lt/lte）
type Comparator string

const (
	ComparatorGT  Comparator = "gt"
	ComparatorGTE Comparator = "gte"
	ComparatorLT  Comparator = "lt"
	ComparatorLTE Comparator = "lte"
)

// Valid 检查比较符是否有效
func (c Comparator) Valid() bool {
	switch c {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE:
		return true
	}
	return false
}

// Matches reports whether value satisfies the comparator against threshold.
// The second return is false for an unrecognized comparator; callers skip the
// rule instead of guessing.
func (c Comparator) Matches(value, threshold float64) (bool, bool) {
	switch c {
	case ComparatorGT:
		return value > threshold, true
	case ComparatorGTE:
		return value >= threshold, true
	case ComparatorLT:
		return value < threshold, true
	case ComparatorLTE:
		return value <= threshold, true
	}
	return false, false
}

// Granularity 聚合查询粒度
type Granularity string

const (
	GranularityRaw         Granularity = "raw"
	GranularityHourly      Granularity = "hourly"
	GranularityDaily       Granularity = "daily"
	GranularityByHourOfDay Granularity = "byHourOfDay"
)

// Valid 检查粒度是否有效
func (g Granularity) Valid() bool {
	switch g {
	case GranularityRaw, GranularityHourly, GranularityDaily, GranularityByHourOfDay:
		return true
	}
	return false
}
