// Package main 监考服务端入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-monitor/internal/apiserver/auth"
	"exam-monitor/internal/apiserver/gateway"
	"exam-monitor/internal/apiserver/server"
	"exam-monitor/internal/config"
	"exam-monitor/internal/coordinator"
	"exam-monitor/internal/relay"
	"exam-monitor/internal/shared/cache"
	cacheredis "exam-monitor/internal/shared/cache/redis"
	"exam-monitor/internal/shared/objstore"
	"exam-monitor/internal/shared/storage"
	"exam-monitor/internal/shared/storage/driver/mysql"
	"exam-monitor/internal/shared/storage/driver/postgres"
	"exam-monitor/internal/shared/storage/driver/sqlite"
	"exam-monitor/internal/shared/storage/mongostore"
	"exam-monitor/internal/shared/storage/repository"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换数据库和 Redis）
	cfg := config.Load()

	log.Printf("Starting exam monitor server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化持久存储（业务数据）
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to database [driver=%s]", cfg.DatabaseDriver)

	// 初始化在线状态缓存（未配置 Redis 时退化为进程内缓存）
	presence, closePresence, err := openPresence(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer closePresence()

	// 初始化截图对象存储（可选）
	var shots coordinator.ScreenshotStorage
	var objClient *objstore.Client
	if cfg.MinIO.Enabled() {
		objClient, err = objstore.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("Failed to connect to MinIO: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := objClient.EnsureBucket(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure MinIO bucket: %v", err)
		}
		cancel()
		shots = objClient
		log.Printf("Connected to MinIO [bucket=%s]", cfg.MinIO.Bucket)
	}

	authCfg := auth.Config{
		JWTSecret:       cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	}
	if !authCfg.Enabled() {
		log.Println("WARNING: JWT_SECRET not set, admin API runs without authentication")
	}

	// 核心服务：会话协调器 + 远程命令中继 + WebSocket 网关
	coord := coordinator.New(store, presence, shots, coordinator.NopEvents{})
	rl := relay.New(store, relay.NopNotifier{})
	rl.SetStaleTimeout(cfg.CommandStaleTimeout)
	gw := gateway.New(coord, presence)

	h := server.NewHandler(store, coord, rl, gw, authCfg)
	if objClient != nil {
		h.SetDownloader(objClient)
	}

	// 事件分流：推送到网关并记录指标
	tee := h.NewEventsTee()
	coord.SetEvents(tee)
	rl.SetNotifier(tee)

	// 初始管理员账号
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := auth.EnsureAdminUser(store, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Fatalf("Failed to ensure admin user: %v", err)
		}
	}

	// 超时命令看门狗
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rl.RunWatchdog(ctx, cfg.WatchdogSweepInterval)

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Exam monitor server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// openStore 根据配置的数据库驱动创建持久存储
func openStore(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := sqlite.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migrate: %w", err)
		}
		return repository.NewStore(db, dialect), nil
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect := postgres.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return repository.NewStore(db, dialect), nil
	case "mysql":
		// MySQL 方言目前只有 SQL 生成部分，驱动注册与迁移未接入
		return nil, fmt.Errorf("mysql backend not wired: %w", mysql.NewDialect().AutoMigrate(nil))
	case "mongodb":
		return mongostore.NewStore(cfg.DatabaseURL, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// openPresence 创建在线状态缓存，返回关闭函数
func openPresence(cfg *config.Config) (cache.PresenceCache, func(), error) {
	if cfg.RedisURL == "" {
		log.Println("Redis not configured, using in-memory presence cache")
		return cache.NewMemoryPresence(), func() {}, nil
	}
	rs, err := cacheredis.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Println("Connected to Redis")
	return rs, func() { rs.Close() }, nil
}
