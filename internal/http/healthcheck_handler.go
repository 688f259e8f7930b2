package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/alert"
)

// HealthCheckHandler 存活扫描触发入口，由外部调度器（cron）调用
type HealthCheckHandler struct {
	monitor    *alert.Monitor
	cronSecret string
	logger     *zap.Logger
}

func NewHealthCheckHandler(monitor *alert.Monitor, cronSecret string, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		monitor:    monitor,
		cronSecret: cronSecret,
		logger:     logger,
	}
}

// HandleSweep POST /v1/health-check
// cronSecret 未配置时端点是开放的（文档化的弱默认）。
func (h *HealthCheckHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret != "" && bearerToken(r) != h.cronSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	checked, triggered, err := h.monitor.Sweep(r.Context())
	if err != nil {
		if checked == 0 {
			h.logger.Error("health check sweep failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		// 部分设备投递失败不影响整轮结果
		h.logger.Warn("health check sweep finished with errors",
			zap.Int("checked", checked),
			zap.Int("triggered", triggered),
			zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"checked":   checked,
		"triggered": triggered,
	})
}
