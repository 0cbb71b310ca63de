// Package server 提供 HTTP API 核心基础设施
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由配置
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	"exam-monitor/internal/apiserver/activity"
	"exam-monitor/internal/apiserver/auth"
	"exam-monitor/internal/apiserver/gateway"
	"exam-monitor/internal/coordinator"
	"exam-monitor/internal/relay"
	"exam-monitor/internal/shared/storage"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责把请求分发到各领域独立包，
// 并持有跨领域的共享组件（协调器、中继器、推送网关、指标）。
type Handler struct {
	store storage.PersistentStore

	coord   *coordinator.Coordinator
	relay   *relay.Relay
	gateway *gateway.Gateway

	authConfig auth.Config
	downloader activity.Downloader // 截图对象存储，可为 nil

	metrics *Metrics
}

// NewHandler 创建 Handler 实例
func NewHandler(store storage.PersistentStore, coord *coordinator.Coordinator, rl *relay.Relay, gw *gateway.Gateway, authCfg auth.Config) *Handler {
	return &Handler{
		store:      store,
		coord:      coord,
		relay:      rl,
		gateway:    gw,
		authConfig: authCfg,
		metrics:    NewMetrics("exam_monitor"),
	}
}

// SetDownloader 接入截图对象存储
func (h *Handler) SetDownloader(d activity.Downloader) {
	h.downloader = d
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
