package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// AdminStore 管理员账号存储接口
type AdminStore interface {
	CreateAdminUser(ctx context.Context, admin *model.AdminUser) error
	GetAdminByUsername(ctx context.Context, username string) (*model.AdminUser, error)
	GetAdminByID(ctx context.Context, id string) (*model.AdminUser, error)
	UpdateAdminLastLogin(ctx context.Context, id string, at time.Time) error
	ListAdmins(ctx context.Context) ([]*model.AdminUser, error)
}

// 登录处理器直接接收组合存储，签名漂移在编译期暴露
var _ AdminStore = (storage.PersistentStore)(nil)

// Handler 认证 HTTP 处理器
type Handler struct {
	store AdminStore
	cfg   Config
}

// NewHandler 创建认证处理器
func NewHandler(store AdminStore, cfg Config) *Handler {
	return &Handler{store: store, cfg: cfg}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/auth/login", h.Login)
	mux.HandleFunc("POST /api/admin/auth/refresh", h.Refresh)
	mux.HandleFunc("GET /api/admin/auth/me", h.Me)
	mux.HandleFunc("GET /api/admin/admins", SuperAdminOnly(h.ListAdmins))
	mux.HandleFunc("POST /api/admin/admins", SuperAdminOnly(h.CreateAdmin))
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createAdminRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type authResponse struct {
	Admin        *model.AdminUser `json:"admin"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

// Login 管理员登录
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	admin, err := h.store.GetAdminByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[auth.login] GetAdminByUsername error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if admin == nil || err != nil || !CheckPassword(req.Password, admin.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if !admin.Active {
		writeError(w, http.StatusForbidden, "account is disabled")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, admin.ID, admin.Username, admin.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	refreshToken, err := GenerateRefreshToken(h.cfg, admin.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.store.UpdateAdminLastLogin(r.Context(), admin.ID, time.Now()); err != nil {
		log.Printf("[auth.login] UpdateAdminLastLogin error: %v", err)
	}

	log.Printf("[auth] Admin logged in: %s", admin.Username)
	writeJSON(w, http.StatusOK, authResponse{
		Admin:        admin,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Refresh 刷新访问令牌
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	claims, err := ParseToken(h.cfg, req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if claims.Type != "refresh" {
		writeError(w, http.StatusUnauthorized, "invalid token type")
		return
	}

	// 查询账号确保仍然存在且有效
	admin, err := h.store.GetAdminByID(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "admin not found")
		return
	}
	if !admin.Active {
		writeError(w, http.StatusForbidden, "account is disabled")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, admin.ID, admin.Username, admin.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": accessToken,
	})
}

// Me 获取当前管理员信息
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	authAdmin := GetAuthAdmin(r.Context())
	if authAdmin == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	admin, err := h.store.GetAdminByID(r.Context(), authAdmin.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "admin not found")
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

// ListAdmins 列出全部账号（仅 super_admin）
func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		log.Printf("[auth.admins] ListAdmins error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admins": admins,
		"total":  len(admins),
	})
}

// CreateAdmin 创建账号（仅 super_admin）
func (h *Handler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	role := model.AdminRole(req.Role)
	if req.Role == "" {
		role = model.RoleMonitor
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.Role))
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Printf("[auth.admins] HashPassword error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	admin := &model.AdminUser{
		ID:           generateID(),
		Username:     req.Username,
		PasswordHash: hash,
		FullName:     req.FullName,
		Email:        req.Email,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateAdminUser(r.Context(), admin); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		log.Printf("[auth.admins] CreateAdminUser error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create admin")
		return
	}

	log.Printf("[auth] Admin created: %s (%s, %s)", admin.Username, admin.ID, admin.Role)
	writeJSON(w, http.StatusCreated, admin)
}

// ============================================================================
// Admin Bootstrap
// ============================================================================

// EnsureAdminUser 确保超级管理员账号存在（启动时调用）
// 如果配置了初始账号且数据库中不存在，则自动创建
func EnsureAdminUser(store AdminStore, username, password string) error {
	if username == "" || password == "" {
		return nil
	}

	ctx := context.Background()
	existing, err := store.GetAdminByUsername(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check admin user: %w", err)
	}
	if existing != nil {
		log.Printf("[auth] Admin user already exists: %s (%s)", username, existing.ID)
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now()
	admin := &model.AdminUser{
		ID:           generateID(),
		Username:     username,
		PasswordHash: hash,
		FullName:     "Administrator",
		Role:         model.RoleSuperAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateAdminUser(ctx, admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.Printf("[auth] Created super admin: %s (%s)", username, admin.ID)
	return nil
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func generateID() string {
	return fmt.Sprintf("adm-%d", time.Now().UnixNano())
}
