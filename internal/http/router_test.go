package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/aggregate"
	"github.com/BenoitPrmt/terrarium-monitor/internal/alert"
	"github.com/BenoitPrmt/terrarium-monitor/internal/ratelimit"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
	"github.com/BenoitPrmt/terrarium-monitor/internal/service"
	"github.com/BenoitPrmt/terrarium-monitor/internal/webhook"
)

type recordedDelivery struct {
	url     string
	payload any
}

type stubDeliverer struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
}

func (d *stubDeliverer) Deliver(ctx context.Context, url string, payload any, sc webhook.SigningContext) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, recordedDelivery{url: url, payload: payload})
	return true, nil
}

type apiFixture struct {
	router     *Router
	ingest     *service.IngestService
	terrariums *repository.MemoryTerrariumRepo
	samples    *repository.MemorySampleRepo
	dispatcher *stubDeliverer
	adminToken string
	cronSecret string
}

func newAPIFixture(t *testing.T, ratePerMinute int) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	terrariums := repository.NewMemoryTerrariumRepo()
	samples := repository.NewMemorySampleRepo()
	aggregates := repository.NewMemoryAggregateRepo()
	rules := repository.NewMemoryAlertRuleRepo()
	terrariums.AttachCascade(samples, aggregates, rules)

	dispatcher := &stubDeliverer{}
	engine := aggregate.NewEngine(aggregates, logger)
	ruleSource := alert.NewRuleSource(rules, nil, time.Minute, logger)
	evaluator := alert.NewEvaluator(ruleSource, dispatcher, "signing-secret", logger)
	monitor := alert.NewMonitor(terrariums, samples, dispatcher, "signing-secret", logger)

	ingestSvc := service.NewIngestService(terrariums, samples, engine, evaluator, ratelimit.NewLimiter(), ratePerMinute, logger)
	terrariumSvc := service.NewTerrariumService(terrariums, logger)
	ruleSvc := service.NewRuleService(rules, terrariums, ruleSource, logger)

	f := &apiFixture{
		ingest:     ingestSvc,
		terrariums: terrariums,
		samples:    samples,
		dispatcher: dispatcher,
		adminToken: "admin-secret",
		cronSecret: "cron-secret",
	}

	router := NewRouter(logger)
	router.RegisterRecordRoutes(NewRecordHandler(ingestSvc, 1<<20, logger))
	router.RegisterHealthCheckRoutes(NewHealthCheckHandler(monitor, f.cronSecret, logger))
	router.RegisterAdminRoutes(
		NewAdminHandler(terrariumSvc, ruleSvc, f.adminToken, logger),
		NewAggregatesHandler(samples, aggregates, logger),
	)
	f.router = router
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// createTerrarium registers a device through the admin API and returns
// its id, public uuid and one-time plaintext token.
func (f *apiFixture) createTerrarium(t *testing.T, name string) (id, uuid, token string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/terrariums", f.adminToken, map[string]string{
		"owner_id": "owner-1",
		"name":     name,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID          string `json:"id"`
		UUID        string `json:"uuid"`
		DeviceToken string `json:"device_token"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.UUID)
	require.NotEmpty(t, resp.DeviceToken)
	return resp.ID, resp.UUID, resp.DeviceToken
}

func tempBody(now time.Time, values ...float64) map[string]any {
	samples := make([]map[string]any, len(values))
	for i, v := range values {
		samples[i] = map[string]any{
			"t":     now.Add(time.Duration(i-len(values)) * time.Minute).Unix(),
			"type":  "TEMPERATURE",
			"value": v,
			"unit":  "C",
		}
	}
	return map[string]any{"device_id": "esp32-01", "samples": samples}
}

func (f *apiFixture) postRecord(t *testing.T, uuid, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/v1/record/"+uuid, &buf)
	if token != "" {
		req.Header.Set(DeviceTokenHeader, token)
	}
	req.RemoteAddr = "203.0.113.10:52000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRecordEndpoint_Accepted(t *testing.T) {
	f := newAPIFixture(t, 100)
	_, uuid, token := f.createTerrarium(t, "Gecko tank")

	rec := f.postRecord(t, uuid, token, tempBody(time.Now().UTC(), 20, 22, 24))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Status   string `json:"status"`
		Ingested int    `json:"ingested"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, 3, resp.Ingested)
}

func TestRecordEndpoint_ErrorCodes(t *testing.T) {
	f := newAPIFixture(t, 100)
	_, uuid, token := f.createTerrarium(t, "Gecko tank")
	body := tempBody(time.Now().UTC(), 21)

	cases := []struct {
		name     string
		uuid     string
		token    string
		body     any
		wantCode int
		wantErr  string
	}{
		{"missing token", uuid, "", body, http.StatusUnauthorized, "missing_token"},
		{"invalid token", uuid, "wrong-token", body, http.StatusUnauthorized, "invalid_token"},
		{"unknown device", "no-such-uuid", token, body, http.StatusNotFound, "not_found"},
		{"bad unit", uuid, token, map[string]any{"samples": []map[string]any{{"t": 1, "type": "TEMPERATURE", "value": 20.0, "unit": "F"}}}, http.StatusBadRequest, "invalid_payload"},
		{"empty batch", uuid, token, map[string]any{"samples": []map[string]any{}}, http.StatusBadRequest, "invalid_payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.postRecord(t, tc.uuid, tc.token, tc.body)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			var resp map[string]string
			decodeBody(t, rec, &resp)
			assert.Equal(t, tc.wantErr, resp["error"])
		})
	}
}

func TestRecordEndpoint_MissingUUIDSegment(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.do(t, http.MethodPost, "/v1/record", "", tempBody(time.Now().UTC(), 21))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "missing_uuid", resp["error"])
}

func TestRecordEndpoint_MalformedJSON(t *testing.T) {
	f := newAPIFixture(t, 100)
	_, uuid, token := f.createTerrarium(t, "Gecko tank")

	req := httptest.NewRequest(http.MethodPost, "/v1/record/"+uuid, strings.NewReader("{not json"))
	req.Header.Set(DeviceTokenHeader, token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid_payload", resp["error"])
}

func TestRecordEndpoint_MethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, 100)
	rec := f.do(t, http.MethodGet, "/v1/record/some-uuid", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecordEndpoint_MalformedFloodRateLimited(t *testing.T) {
	f := newAPIFixture(t, 2)
	_, uuid, token := f.createTerrarium(t, "Gecko tank")

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/record/"+uuid, strings.NewReader("{not json"))
		req.Header.Set(DeviceTokenHeader, token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	// 坏请求体同样计入限流配额
	for i := 0; i < 2; i++ {
		rec := send()
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "rate_limited", resp["error"])
}

func TestRecordEndpoint_RateLimited(t *testing.T) {
	f := newAPIFixture(t, 2)
	_, uuid, token := f.createTerrarium(t, "Gecko tank")
	body := tempBody(time.Now().UTC(), 21)

	for i := 0; i < 2; i++ {
		rec := f.postRecord(t, uuid, token, body)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := f.postRecord(t, uuid, token, body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "rate_limited", resp["error"])
}

func TestHealthCheckEndpoint_Auth(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.do(t, http.MethodPost, "/v1/health-check", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/health-check", f.cronSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Checked   int `json:"checked"`
		Triggered int `json:"triggered"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 0, resp.Checked)
	assert.Equal(t, 0, resp.Triggered)
}

func TestAggregatesEndpoint_HourlyAfterIngest(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, uuid, token := f.createTerrarium(t, "Gecko tank")

	rec := f.postRecord(t, uuid, token, tempBody(time.Now().UTC(), 20, 22, 24))
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.ingest.Flush()

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/terrariums/%s/aggregates?type=TEMPERATURE&granularity=hourly", id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var points []struct {
		Bucket time.Time `json:"bucket"`
		Avg    float64   `json:"avg"`
		Min    float64   `json:"min"`
		Max    float64   `json:"max"`
		Count  int64     `json:"count"`
	}
	decodeBody(t, rec, &points)
	require.NotEmpty(t, points)

	var count int64
	var min, max float64 = 1000, -1000
	for _, p := range points {
		count += p.Count
		if p.Min < min {
			min = p.Min
		}
		if p.Max > max {
			max = p.Max
		}
	}
	assert.Equal(t, int64(3), count)
	assert.Equal(t, 20.0, min)
	assert.Equal(t, 24.0, max)
}

func TestAggregatesEndpoint_Validation(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, _, _ := f.createTerrarium(t, "Gecko tank")

	rec := f.do(t, http.MethodGet, "/v1/terrariums/"+id+"/aggregates?type=LUX", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid_metric", resp["error"])

	rec = f.do(t, http.MethodGet, "/v1/terrariums/"+id+"/aggregates?type=TEMPERATURE&granularity=weekly", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid_granularity", resp["error"])
}

func TestAdminEndpoints_RequireBearer(t *testing.T) {
	f := newAPIFixture(t, 100)

	rec := f.do(t, http.MethodPost, "/v1/terrariums", "", map[string]string{"name": "Tank"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/terrariums", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminEndpoints_TerrariumCRUD(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, _, _ := f.createTerrarium(t, "Gecko tank")

	rec := f.do(t, http.MethodGet, "/v1/terrariums/"+id, f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got terrariumResponse
	decodeBody(t, rec, &got)
	assert.Equal(t, "Gecko tank", got.Name)
	assert.Empty(t, got.DeviceToken)

	rec = f.do(t, http.MethodPut, "/v1/terrariums/"+id, f.adminToken, map[string]string{
		"name":     "Gecko tank 2",
		"location": "living room",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &got)
	assert.Equal(t, "Gecko tank 2", got.Name)
	assert.Equal(t, "living room", got.Location)

	rec = f.do(t, http.MethodGet, "/v1/terrariums?owner_id=owner-1", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []terrariumResponse
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)

	rec = f.do(t, http.MethodDelete, "/v1/terrariums/"+id, f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/terrariums/"+id, f.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpoints_RotateTokenInvalidatesOld(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, uuid, oldToken := f.createTerrarium(t, "Gecko tank")

	rec := f.do(t, http.MethodPost, "/v1/terrariums/"+id+"/token", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	newToken := resp["device_token"]
	require.NotEmpty(t, newToken)
	require.NotEqual(t, oldToken, newToken)

	body := tempBody(time.Now().UTC(), 21)
	rec = f.postRecord(t, uuid, oldToken, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.postRecord(t, uuid, newToken, body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAdminEndpoints_HealthCheckConfig(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, _, _ := f.createTerrarium(t, "Gecko tank")

	rec := f.do(t, http.MethodPut, "/v1/terrariums/"+id+"/health-check", f.adminToken, map[string]any{
		"url":           "https://hooks.example.com/down",
		"delay_minutes": 30,
		"enabled":       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// enabled without a url is rejected
	rec = f.do(t, http.MethodPut, "/v1/terrariums/"+id+"/health-check", f.adminToken, map[string]any{
		"delay_minutes": 30,
		"enabled":       true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "validation_failed", resp["error"])
}

func TestAdminEndpoints_RuleCRUD(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, _, _ := f.createTerrarium(t, "Gecko tank")

	ruleBody := map[string]any{
		"name":       "too hot",
		"url":        "https://hooks.example.com/alert",
		"is_active":  true,
		"metric":     "TEMPERATURE",
		"comparator": "gt",
		"threshold":  28.5,
	}
	rec := f.do(t, http.MethodPost, "/v1/terrariums/"+id+"/webhooks", f.adminToken, ruleBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID          string  `json:"id"`
		CooldownSec int     `json:"cooldown_sec"`
		Threshold   float64 `json:"threshold"`
	}
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 900, created.CooldownSec)

	rec = f.do(t, http.MethodGet, "/v1/terrariums/"+id+"/webhooks", f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ruleBody["threshold"] = 30.0
	rec = f.do(t, http.MethodPut, "/v1/webhooks/"+created.ID, f.adminToken, ruleBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/v1/webhooks/"+created.ID, f.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/webhooks/"+created.ID, f.adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpoints_RuleValidation(t *testing.T) {
	f := newAPIFixture(t, 100)
	id, _, _ := f.createTerrarium(t, "Gecko tank")

	rec := f.do(t, http.MethodPost, "/v1/terrariums/"+id+"/webhooks", f.adminToken, map[string]any{
		"name":       "bad comparator",
		"url":        "https://hooks.example.com/alert",
		"metric":     "TEMPERATURE",
		"comparator": "between",
		"threshold":  28.5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "validation_failed", resp["error"])
}
