package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/ingest"
	"github.com/BenoitPrmt/terrarium-monitor/internal/service"
)

// DeviceTokenHeader 设备凭证头
const DeviceTokenHeader = "X-Device-Token"

// RecordHandler 设备上报入口
type RecordHandler struct {
	svc          *service.IngestService
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewRecordHandler(svc *service.IngestService, maxBodyBytes int64, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{
		svc:          svc,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// HandleRecord POST /v1/record/{device-uuid}
func (h *RecordHandler) HandleRecord(w http.ResponseWriter, r *http.Request, deviceUUID string) {
	token := r.Header.Get(DeviceTokenHeader)
	// 请求体交给服务层在限流检查之后再解码
	accepted, err := h.svc.IngestFrom(r.Context(), deviceUUID, token, clientIP(r), func(p *ingest.Payload) error {
		return readBodyJSON(r, h.maxBodyBytes, p)
	})
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"ingested": accepted,
	})
}

func (h *RecordHandler) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited")
	case errors.Is(err, service.ErrMissingToken):
		writeError(w, http.StatusUnauthorized, "missing_token")
	case errors.Is(err, service.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, service.ErrMissingUUID):
		writeError(w, http.StatusBadRequest, "missing_uuid")
	case errors.Is(err, ingest.ErrInvalidSamples):
		writeError(w, http.StatusBadRequest, "invalid_samples")
	case errors.Is(err, ingest.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid_payload")
	default:
		h.logger.Error("ingestion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
