package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"exam-monitor/internal/shared/model"
)

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		expected bool
	}{
		// 学生端路由无需 JWT
		{"session create", "POST", "/api/session/create", true},
		{"session end", "POST", "/api/session/end", true},
		{"activity report", "POST", "/api/activity", true},
		{"screenshot report", "POST", "/api/screenshot", true},
		{"student verify", "POST", "/api/student/verify", true},
		{"command poll", "POST", "/api/remote-control/poll", true},
		{"result report", "POST", "/api/remote-control/result", true},
		{"client ws", "GET", "/ws/client", true},
		{"admin login", "POST", "/api/admin/auth/login", true},
		{"health", "GET", "/health", true},
		{"metrics", "GET", "/metrics", true},

		// 管理端路由需要 JWT
		{"active sessions", "GET", "/api/admin/sessions/active", false},
		{"end session", "POST", "/api/admin/sessions/sess-1/end", false},
		{"issue command", "POST", "/api/remote-control/command", false},
		{"admin ws", "GET", "/ws/admin", false},
		{"admin accounts", "GET", "/api/admin/admins", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isPublicRoute(tt.method, tt.path)
			if got != tt.expected {
				t.Errorf("isPublicRoute(%q, %q) = %v, want %v", tt.method, tt.path, got, tt.expected)
			}
		})
	}
}

func TestMiddlewareRejectsWithoutToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/admin/sessions/active", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareInjectsAdmin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"

	token, err := GenerateAccessToken(cfg, "adm-1", "proctor", model.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	var got *AuthAdmin
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/admin/sessions/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.ID != "adm-1" || got.Role != model.RoleAdmin {
		t.Errorf("unexpected auth admin: %+v", got)
	}
}

func TestMiddlewareRejectsRefreshToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"

	token, err := GenerateRefreshToken(cfg, "adm-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}

	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/admin/sessions/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequireControl(t *testing.T) {
	handler := RequireControl(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		role     model.AdminRole
		expected int
	}{
		{model.RoleSuperAdmin, http.StatusOK},
		{model.RoleAdmin, http.StatusOK},
		{model.RoleMonitor, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/remote-control/command", nil)
			ctx := WithAuthAdmin(context.Background(), &AuthAdmin{ID: "adm-1", Role: tt.role})
			rec := httptest.NewRecorder()
			handler(rec, req.WithContext(ctx))
			if rec.Code != tt.expected {
				t.Errorf("role %s: expected %d, got %d", tt.role, tt.expected, rec.Code)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("s3cret-pass", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong-pass", hash) {
		t.Error("wrong password accepted")
	}
}
