// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载 configs/common.yaml 与 configs/{env}.yaml
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// Config 应用配置（最终使用的配置）
type Config struct {
	Env     Environment
	APIPort string

	// 数据库
	DatabaseDriver string // sqlite | postgres | mysql | mongodb
	DatabaseURL    string
	MongoDatabase  string

	// Redis presence 缓存，空表示退化为进程内缓存
	RedisURL string

	// MinIO 截图存储，Endpoint 为空表示截图内联落库
	MinIO MinIOConfig

	// 认证
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// 初始超级管理员，空则不自动创建
	AdminUsername string
	AdminPassword string

	// 指令看门狗
	CommandStaleTimeout   time.Duration
	WatchdogSweepInterval time.Duration
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled 是否启用对象存储
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// yamlConfig YAML 配置文件结构
type yamlConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Driver  string `yaml:"driver"`
		Path    string `yaml:"path"` // sqlite
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		User    string `yaml:"user"`
		Name    string `yaml:"name"`
		SSLMode string `yaml:"sslmode"`
		URI     string `yaml:"uri"` // mongodb
	} `yaml:"database"`
	Redis struct {
		URL  string `yaml:"url"`
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	MinIO MinIOConfig `yaml:"minio"`
	Auth  struct {
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	} `yaml:"auth"`
	Watchdog struct {
		StaleTimeout  time.Duration `yaml:"stale_timeout"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"watchdog"`
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	dbPassword := getEnv("DB_PASSWORD", "")
	databaseURL := getEnv("DATABASE_URL", buildDatabaseURL(yamlCfg, dbPassword))

	cfg := &Config{
		Env:            env,
		APIPort:        getEnv("API_PORT", yamlCfg.Server.Port),
		DatabaseDriver: detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL),
		DatabaseURL:    databaseURL,
		MongoDatabase:  getEnv("MONGO_DATABASE", yamlCfg.Database.Name),

		RedisURL: getEnv("REDIS_URL", buildRedisURL(yamlCfg)),

		MinIO: yamlCfg.MinIO,

		JWTSecret:       getEnv("JWT_SECRET", ""),
		AccessTokenTTL:  yamlCfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: yamlCfg.Auth.RefreshTokenTTL,

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		CommandStaleTimeout:   yamlCfg.Watchdog.StaleTimeout,
		WatchdogSweepInterval: yamlCfg.Watchdog.SweepInterval,
	}

	// 敏感的 MinIO 凭据允许环境变量覆盖
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}

	cfg.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfig {
	cfg := &yamlConfig{}
	cfg.Server.Port = "8080"
	cfg.Database.Path = "exam-monitor.db"
	cfg.Database.Port = 5432
	cfg.Database.SSLMode = "disable"
	cfg.Database.Name = "exam_monitor"

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildDatabaseURL 根据驱动类型构建数据库连接字符串
func buildDatabaseURL(cfg *yamlConfig, password string) string {
	db := cfg.Database
	switch strings.ToLower(db.Driver) {
	case "sqlite", "":
		path := db.Path
		if path == "" {
			path = "exam-monitor.db"
		}
		return path
	case "mongodb":
		if db.URI != "" {
			return db.URI
		}
		host := db.Host
		if host == "" {
			host = "localhost"
		}
		port := db.Port
		if port == 0 || port == 5432 {
			port = 27017
		}
		if db.User != "" && password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", db.User, password, host, port)
		}
		return fmt.Sprintf("mongodb://%s:%d", host, port)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.User, password, db.Host, db.Port, db.Name)
	default: // postgres
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, password, db.Host, db.Port, db.Name, db.SSLMode)
	}
}

// detectDatabaseDriver 检测数据库驱动类型
// 优先级：YAML driver 字段 > DATABASE_URL 前缀自动检测 > 默认 sqlite
func detectDatabaseDriver(yamlDriver, databaseURL string) string {
	switch d := strings.ToLower(yamlDriver); d {
	case "sqlite", "postgres", "mysql", "mongodb":
		return d
	}
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return "mongodb"
	case strings.Contains(databaseURL, "@tcp("):
		return "mysql"
	default:
		return "sqlite"
	}
}

// buildRedisURL 构建 Redis 连接字符串，未配置 host 返回空（不启用）
func buildRedisURL(cfg *yamlConfig) string {
	if cfg.Redis.URL != "" {
		return cfg.Redis.URL
	}
	if cfg.Redis.Host == "" {
		return ""
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("redis://%s:%d/%d", cfg.Redis.Host, port, cfg.Redis.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s, Redis: %s}",
		c.Env, c.DatabaseDriver, maskPassword(c.DatabaseURL), c.RedisURL)
}

// maskPassword 隐藏连接串里的密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:/]+:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// validate 填充默认值
func (c *Config) validate() {
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "exam_monitor"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.CommandStaleTimeout == 0 {
		c.CommandStaleTimeout = 5 * time.Minute
	}
	if c.WatchdogSweepInterval == 0 {
		c.WatchdogSweepInterval = time.Minute
	}
}
