package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRecordRoutes 设备上报入口
func (r *Router) RegisterRecordRoutes(h *RecordHandler) {
	// record/{uuid}
	r.Handle("/v1/record/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		uuid := strings.TrimPrefix(req.URL.Path, "/v1/record/")
		if strings.Contains(uuid, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.HandleRecord(w, req, uuid)
	})

	// record without uuid segment still reaches the handler so the
	// missing_uuid error code is returned instead of a bare 404
	r.Handle("/v1/record", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.HandleRecord(w, req, "")
	})
}

// RegisterHealthCheckRoutes 定时任务触发的失联巡检
func (r *Router) RegisterHealthCheckRoutes(h *HealthCheckHandler) {
	r.Handle("/v1/health-check", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.HandleSweep(w, req)
	})
}

// RegisterAdminRoutes 终端管理 + 告警规则管理 + 聚合读取
func (r *Router) RegisterAdminRoutes(admin *AdminHandler, aggregates *AggregatesHandler) {
	r.Handle("/v1/terrariums", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			admin.HandleCreateTerrarium(w, req)
		case http.MethodGet:
			admin.HandleListTerrariums(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// terrariums/{id} 及其子资源
	r.Handle("/v1/terrariums/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/v1/terrariums/")
		id, sub, _ := strings.Cut(rest, "/")
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch sub {
		case "":
			admin.HandleTerrarium(w, req, id)
		case "token":
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			admin.HandleRotateToken(w, req, id)
		case "health-check":
			if req.Method != http.MethodPut {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			admin.HandleHealthCheckConfig(w, req, id)
		case "webhooks":
			admin.HandleTerrariumRules(w, req, id)
		case "aggregates":
			// read endpoint is open; no admin token required
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			aggregates.HandleQuery(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// webhooks/{id}
	r.Handle("/v1/webhooks/", func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimPrefix(req.URL.Path, "/v1/webhooks/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		admin.HandleRule(w, req, id)
	})
}
