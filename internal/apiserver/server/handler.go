// Package server 路由配置
//
// 本文件定义 HTTP API 路由，将请求分发到各领域独立包。
package server

import (
	"net/http"

	"exam-monitor/api"
	"exam-monitor/internal/apiserver/activity"
	"exam-monitor/internal/apiserver/auth"
	"exam-monitor/internal/apiserver/remote"
	"exam-monitor/internal/apiserver/session"
	"exam-monitor/internal/apiserver/student"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//   - GET /metrics - Prometheus 指标
//   - GET /api/docs, /api/openapi.yaml - API 文档
//
// 学生端（无 JWT，靠会话 ID 标识）:
//   - POST /api/session/create        - 创建/重连会话
//   - POST /api/session/end           - 结束会话
//   - POST /api/activity              - 上报活动
//   - POST /api/screenshot            - 上报截图
//   - POST /api/student/verify        - 考生登记
//   - POST /api/student/consent       - 知情同意
//   - POST /api/remote-control/poll   - 领取指令
//   - POST /api/remote-control/result - 上报指令结果
//   - GET  /ws/client                 - 学生端推送通道
//
// 管理端（JWT）:
//   - POST /api/admin/auth/login               - 登录
//   - POST /api/admin/auth/refresh             - 刷新令牌
//   - GET  /api/admin/auth/me                  - 当前账号
//   - GET/POST /api/admin/admins               - 账号管理（super_admin）
//   - GET  /api/admin/sessions/active          - 活跃会话
//   - GET  /api/admin/sessions                 - 历史会话
//   - GET  /api/admin/sessions/{id}            - 会话详情
//   - POST /api/admin/sessions/{id}/end        - 强制结束
//   - GET  /api/admin/sessions/{id}/activities - 活动流
//   - GET  /api/admin/sessions/{id}/screenshots- 截图列表
//   - GET  /api/admin/sessions/{id}/commands   - 指令历史
//   - GET  /api/admin/suspicious               - 可疑告警
//   - GET  /api/admin/screenshots/{id}         - 截图元数据
//   - GET  /api/admin/screenshots/{id}/image   - 截图字节
//   - POST /api/admin/screenshots/{id}/flag    - 标记截图
//   - GET  /api/admin/students                 - 考生名册
//   - GET  /api/admin/statistics               - 按日统计
//   - POST /api/remote-control/command         - 下发指令
//   - GET  /ws/admin                           - 监控推送流
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// OpenAPI 文档
	mux.HandleFunc("GET /api/docs", serveDocs)
	mux.HandleFunc("GET /api/openapi.yaml", serveOpenAPI)

	// 会话接口
	sessionHandler := session.NewHandler(h.coord)
	sessionHandler.RegisterRoutes(mux)

	// 远程控制接口
	remoteHandler := remote.NewHandler(h.relay)
	remoteHandler.RegisterRoutes(mux)

	// 活动日志与截图接口
	activityHandler := activity.NewHandler(h.coord, h.store, h.downloader)
	activityHandler.RegisterRoutes(mux)

	// 考生档案接口
	studentHandler := student.NewHandler(h.store)
	studentHandler.RegisterRoutes(mux)

	// Auth 路由
	authHandler := auth.NewHandler(h.store, h.authConfig)
	authHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authConfig)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(authedHandler)

	// 顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	if h.gateway != nil {
		wsMux := http.NewServeMux()
		h.gateway.RegisterRoutes(wsMux)
		topMux.Handle("GET /ws/client", wsMux)
		topMux.Handle("GET /ws/admin", auth.Middleware(h.authConfig)(wsMux))
	}
	topMux.Handle("/", corsHandler)

	return topMux
}

// serveDocs 提供嵌入的 API 文档页面
func serveDocs(w http.ResponseWriter, r *http.Request) {
	data, err := api.DocsFS.ReadFile("docs/index.html")
	if err != nil {
		http.Error(w, "docs not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// serveOpenAPI 提供嵌入的 OpenAPI 定义
func serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	data, err := api.OpenAPIFS.ReadFile("openapi/exam-monitor.yaml")
	if err != nil {
		http.Error(w, "spec not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
