package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
)

const (
	defaultReadLimit = 500
	maxReadLimit     = 1000
)

// AggregatesHandler 查询侧只读接口，供仪表盘渲染图表
type AggregatesHandler struct {
	samples    repository.SampleRepo
	aggregates repository.AggregateRepo
	logger     *zap.Logger
}

func NewAggregatesHandler(samples repository.SampleRepo, aggregates repository.AggregateRepo, logger *zap.Logger) *AggregatesHandler {
	return &AggregatesHandler{
		samples:    samples,
		aggregates: aggregates,
		logger:     logger,
	}
}

type rawPoint struct {
	T     time.Time `json:"t"`
	Value float64   `json:"value"`
}

type bucketPoint struct {
	Bucket time.Time `json:"bucket"`
	Avg    float64   `json:"avg"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Count  int64     `json:"count"`
}

type hourOfDayPoint struct {
	HourOfDay int     `json:"hourOfDay"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Count     int64   `json:"count"`
}

// HandleQuery GET /v1/terrariums/{id}/aggregates?type=&granularity=&from=&to=&limit=
func (h *AggregatesHandler) HandleQuery(w http.ResponseWriter, r *http.Request, terrariumID string) {
	q := r.URL.Query()

	metric := domain.MetricType(q.Get("type"))
	if !metric.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_metric")
		return
	}

	granularity := domain.Granularity(q.Get("granularity"))
	if granularity == "" {
		granularity = domain.GranularityRaw
	}
	if !granularity.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_granularity")
		return
	}

	limit := parseInt(q.Get("limit"), defaultReadLimit)
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if limit > maxReadLimit {
		limit = maxReadLimit
	}

	var from, to *time.Time
	if t, ok := parseTimeParam(q.Get("from")); ok {
		from = &t
	}
	if t, ok := parseTimeParam(q.Get("to")); ok {
		to = &t
	}

	switch granularity {
	case domain.GranularityRaw:
		samples, err := h.samples.ListRaw(r.Context(), repository.RawSampleQuery{
			TerrariumID: terrariumID, Type: metric, From: from, To: to, Limit: limit,
		})
		if err != nil {
			h.writeQueryError(w, err)
			return
		}
		out := make([]rawPoint, len(samples))
		for i, s := range samples {
			out[i] = rawPoint{T: s.Ts, Value: s.Value}
		}
		writeJSON(w, http.StatusOK, out)

	case domain.GranularityHourly:
		buckets, err := h.aggregates.ListHourly(r.Context(), repository.BucketQuery{
			TerrariumID: terrariumID, Type: metric, From: from, To: to, Limit: limit,
		})
		if err != nil {
			h.writeQueryError(w, err)
			return
		}
		out := make([]bucketPoint, len(buckets))
		for i, b := range buckets {
			out[i] = bucketPoint{Bucket: b.Hour, Avg: b.Avg, Min: b.Min, Max: b.Max, Count: b.Count}
		}
		writeJSON(w, http.StatusOK, out)

	case domain.GranularityDaily:
		buckets, err := h.aggregates.ListDaily(r.Context(), repository.BucketQuery{
			TerrariumID: terrariumID, Type: metric, From: from, To: to, Limit: limit,
		})
		if err != nil {
			h.writeQueryError(w, err)
			return
		}
		out := make([]bucketPoint, len(buckets))
		for i, b := range buckets {
			out[i] = bucketPoint{Bucket: b.Day, Avg: b.Avg, Min: b.Min, Max: b.Max, Count: b.Count}
		}
		writeJSON(w, http.StatusOK, out)

	case domain.GranularityByHourOfDay:
		buckets, err := h.aggregates.ListHourOfDay(r.Context(), terrariumID, metric, limit)
		if err != nil {
			h.writeQueryError(w, err)
			return
		}
		out := make([]hourOfDayPoint, len(buckets))
		for i, b := range buckets {
			out[i] = hourOfDayPoint{HourOfDay: b.HourOfDay, Avg: b.Avg, Min: b.Min, Max: b.Max, Count: b.Count}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *AggregatesHandler) writeQueryError(w http.ResponseWriter, err error) {
	h.logger.Error("aggregate query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error")
}
