package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/domain"
	"github.com/BenoitPrmt/terrarium-monitor/internal/service"
)

const adminMaxBodyBytes = 64 * 1024

// AdminHandler 终端与告警规则的管理接口
type AdminHandler struct {
	terrariums *service.TerrariumService
	rules      *service.RuleService
	adminToken string
	logger     *zap.Logger
}

func NewAdminHandler(terrariums *service.TerrariumService, rules *service.RuleService, adminToken string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		terrariums: terrariums,
		rules:      rules,
		adminToken: adminToken,
		logger:     logger,
	}
}

// authorized 管理令牌未配置时接口开放（本地部署的弱默认）
func (h *AdminHandler) authorized(r *http.Request) bool {
	return h.adminToken == "" || bearerToken(r) == h.adminToken
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "validation_failed",
			"detail": err.Error(),
		})
	default:
		h.logger.Error("admin request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

type terrariumRequest struct {
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

type terrariumResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	UUID        string    `json:"uuid"`
	HealthCheck any       `json:"health_check,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	DeviceToken string    `json:"device_token,omitempty"` // 仅在注册和轮换时返回
}

func toTerrariumResponse(t *domain.Terrarium, token string) terrariumResponse {
	resp := terrariumResponse{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Name:        t.Name,
		Location:    t.Location,
		Description: t.Description,
		UUID:        t.UUID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		DeviceToken: token,
	}
	if t.HealthCheck != nil {
		resp.HealthCheck = map[string]any{
			"url":               t.HealthCheck.URL,
			"delay_minutes":     t.HealthCheck.DelayMinutes,
			"enabled":           t.HealthCheck.IsEnabled,
			"last_triggered_at": t.HealthCheck.LastTriggeredAt,
			"secret_id":         t.HealthCheck.SecretID,
		}
	}
	return resp
}

// HandleCreateTerrarium POST /v1/terrariums
func (h *AdminHandler) HandleCreateTerrarium(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req terrariumRequest
	if err := readBodyJSON(r, adminMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	terr, token, err := h.terrariums.Create(r.Context(), req.OwnerID, req.Name, req.Location, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTerrariumResponse(terr, token))
}

// HandleListTerrariums GET /v1/terrariums?owner_id=
func (h *AdminHandler) HandleListTerrariums(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	terrariums, err := h.terrariums.ListByOwner(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]terrariumResponse, len(terrariums))
	for i := range terrariums {
		out[i] = toTerrariumResponse(&terrariums[i], "")
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleTerrarium GET/PUT/DELETE /v1/terrariums/{id}
func (h *AdminHandler) HandleTerrarium(w http.ResponseWriter, r *http.Request, id string) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		terr, err := h.terrariums.Get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTerrariumResponse(terr, ""))

	case http.MethodPut:
		var req terrariumRequest
		if err := readBodyJSON(r, adminMaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
		terr, err := h.terrariums.Update(r.Context(), id, req.Name, req.Location, req.Description)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTerrariumResponse(terr, ""))

	case http.MethodDelete:
		if err := h.terrariums.Delete(r.Context(), id); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleRotateToken POST /v1/terrariums/{id}/token
func (h *AdminHandler) HandleRotateToken(w http.ResponseWriter, r *http.Request, id string) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	token, err := h.terrariums.RotateToken(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_token": token})
}

type healthCheckRequest struct {
	URL          string `json:"url"`
	DelayMinutes int    `json:"delay_minutes"`
	Enabled      bool   `json:"enabled"`
	SecretID     string `json:"secret_id"`
}

// HandleHealthCheckConfig PUT /v1/terrariums/{id}/health-check
func (h *AdminHandler) HandleHealthCheckConfig(w http.ResponseWriter, r *http.Request, id string) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req healthCheckRequest
	if err := readBodyJSON(r, adminMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}

	err := h.terrariums.ConfigureHealthCheck(r.Context(), id, &domain.HealthCheckConfig{
		URL:          req.URL,
		DelayMinutes: req.DelayMinutes,
		IsEnabled:    req.Enabled,
		SecretID:     req.SecretID,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type ruleRequest struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	IsActive    bool    `json:"is_active"`
	Metric      string  `json:"metric"`
	Comparator  string  `json:"comparator"`
	Threshold   float64 `json:"threshold"`
	CooldownSec int     `json:"cooldown_sec"`
	SecretID    string  `json:"secret_id"`
}

type ruleResponse struct {
	ID              string     `json:"id"`
	TerrariumID     string     `json:"terrarium_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	IsActive        bool       `json:"is_active"`
	Metric          string     `json:"metric"`
	Comparator      string     `json:"comparator"`
	Threshold       float64    `json:"threshold"`
	CooldownSec     int        `json:"cooldown_sec"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	SecretID        string     `json:"secret_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toRuleResponse(rule *domain.AlertRule) ruleResponse {
	return ruleResponse{
		ID:              rule.ID,
		TerrariumID:     rule.TerrariumID,
		Name:            rule.Name,
		URL:             rule.URL,
		IsActive:        rule.IsActive,
		Metric:          string(rule.Metric),
		Comparator:      string(rule.Comparator),
		Threshold:       rule.Threshold,
		CooldownSec:     rule.CooldownSec,
		LastTriggeredAt: rule.LastTriggeredAt,
		SecretID:        rule.SecretID,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}
}

func (r ruleRequest) params() service.RuleParams {
	return service.RuleParams{
		Name:        r.Name,
		URL:         r.URL,
		IsActive:    r.IsActive,
		Metric:      domain.MetricType(r.Metric),
		Comparator:  domain.Comparator(r.Comparator),
		Threshold:   r.Threshold,
		CooldownSec: r.CooldownSec,
		SecretID:    r.SecretID,
	}
}

// HandleTerrariumRules GET/POST /v1/terrariums/{id}/webhooks
func (h *AdminHandler) HandleTerrariumRules(w http.ResponseWriter, r *http.Request, terrariumID string) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rules, err := h.rules.ListByTerrarium(r.Context(), terrariumID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		out := make([]ruleResponse, len(rules))
		for i := range rules {
			out[i] = toRuleResponse(&rules[i])
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req ruleRequest
		if err := readBodyJSON(r, adminMaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
		rule, err := h.rules.Create(r.Context(), terrariumID, req.params())
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRuleResponse(rule))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleRule GET/PUT/DELETE /v1/webhooks/{id}
func (h *AdminHandler) HandleRule(w http.ResponseWriter, r *http.Request, id string) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rule, err := h.rules.Get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRuleResponse(rule))

	case http.MethodPut:
		var req ruleRequest
		if err := readBodyJSON(r, adminMaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
		rule, err := h.rules.Update(r.Context(), id, req.params())
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRuleResponse(rule))

	case http.MethodDelete:
		if err := h.rules.Delete(r.Context(), id); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
