package auth

import (
	"log"
	"net/http"
	"strings"

	"exam-monitor/internal/shared/model"
)

// 学生端路由白名单（前缀匹配）
//
// 学生客户端没有账号体系，靠会话 ID 标识身份；所有 /api/admin/
// 之外的上报与轮询端点对客户端开放。
var publicPrefixes = []string{
	"/api/session/",
	"/api/activity",
	"/api/screenshot",
	"/api/student/",
	"/api/remote-control/poll",
	"/api/remote-control/result",
	"/api/admin/auth/login",
	"/api/admin/auth/refresh",
	"/api/docs",
	"/api/openapi.yaml",
	"/health",
	"/metrics",
	"/ws/client",
}

func isPublicRoute(method, path string) bool {
	_ = method
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware 创建 JWT 认证中间件
// 如果 cfg.Enabled() == false，直接放行所有请求（开发模式）
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 无认证模式：直接放行
			if !cfg.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			// 学生端与公开路由：直接放行
			if isPublicRoute(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// /ws/admin 从查询参数取令牌，浏览器 WebSocket 不能带自定义头
			tokenString := ""
			if strings.HasPrefix(r.URL.Path, "/ws/admin") {
				tokenString = r.URL.Query().Get("token")
			} else {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
					return
				}
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
					http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
					return
				}
				tokenString = parts[1]
			}
			if tokenString == "" {
				http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(cfg, tokenString)
			if err != nil {
				log.Printf("[auth] token parse error: %v", err)
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			if claims.Type != "access" {
				http.Error(w, `{"error":"invalid token type"}`, http.StatusUnauthorized)
				return
			}

			admin := &AuthAdmin{
				ID:       claims.Subject,
				Username: claims.Username,
				Role:     model.AdminRole(claims.Role),
			}
			next.ServeHTTP(w, r.WithContext(WithAuthAdmin(r.Context(), admin)))
		})
	}
}

// RequireControl 远程控制与结束会话的角色门槛
// monitor 只读，super_admin 与 admin 放行
func RequireControl(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := GetAuthAdmin(r.Context())
		if admin != nil && !admin.Role.CanControl() {
			http.Error(w, `{"error":"control access required"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// SuperAdminOnly 账号管理专属路由中间件
func SuperAdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := GetAuthAdmin(r.Context())
		if admin != nil && admin.Role != model.RoleSuperAdmin {
			http.Error(w, `{"error":"super admin access required"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
