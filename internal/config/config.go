package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	commoncfg "titipanq-admin/common/config"

	"github.com/spf13/viper"
)

// Config titipanq-admin 配置
type Config struct {
	API struct {
		BaseURL      string        // registry API 根地址，例如 http://localhost:8000/api/v1
		ImageBaseURL string        // 图片根地址，用于拼接 package_image / proof_image
		Timeout      time.Duration // 单次请求超时
		RetryCount   int           // 5xx / 传输错误的重试次数
	}
	Session struct {
		File string // token 持久化文件
		Role string // "admin" | "user"，决定 login / refresh-token 的路由前缀
	}
	RedisEnabled bool
	Redis        commoncfg.RedisConfig
	CacheTTL     time.Duration

	MQTTEnabled bool
	MQTT        commoncfg.MQTTConfig

	JournalEnabled bool
	Database       commoncfg.DatabaseConfig

	ExpireCron string
	Stub       struct {
		Addr string
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置；若设置了 TITIPANQ_CONFIG，再用配置文件覆盖
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.API.BaseURL = getEnv("API_BASE_URL", "http://localhost:8000/api/v1")
	cfg.API.ImageBaseURL = getEnv("IMAGE_BASE_URL", "http://localhost:8000/assets")
	cfg.API.Timeout = time.Duration(parseInt(getEnv("API_TIMEOUT_SECONDS", "30"), 30)) * time.Second
	cfg.API.RetryCount = parseInt(getEnv("API_RETRY_COUNT", "2"), 2)

	cfg.Session.File = getEnv("SESSION_FILE", defaultSessionFile())
	cfg.Session.Role = getEnv("SESSION_ROLE", "admin")

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.CacheTTL = time.Duration(parseInt(getEnv("CACHE_TTL_SECONDS", "60"), 60)) * time.Second

	cfg.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "titipanq-admin"
	cfg.MQTT.Topic = "titipanq/pickups"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.JournalEnabled = getEnv("JOURNAL_ENABLED", "false") == "true"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "titipanq"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.ExpireCron = getEnv("EXPIRE_CRON", "@daily")
	cfg.Stub.Addr = getEnv("STUB_ADDR", "127.0.0.1:8000")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "console")

	if path := os.Getenv("TITIPANQ_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Session.Role != "admin" && cfg.Session.Role != "user" {
		return nil, fmt.Errorf("invalid SESSION_ROLE %q (want admin or user)", cfg.Session.Role)
	}
	return cfg, nil
}

// overlayFile 读取 yaml/json/toml 配置文件，只覆盖文件中出现的键
func (c *Config) overlayFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	overlayString(v, "api.base_url", &c.API.BaseURL)
	overlayString(v, "api.image_base_url", &c.API.ImageBaseURL)
	if v.IsSet("api.timeout_seconds") {
		c.API.Timeout = time.Duration(v.GetInt("api.timeout_seconds")) * time.Second
	}
	if v.IsSet("api.retry_count") {
		c.API.RetryCount = v.GetInt("api.retry_count")
	}
	overlayString(v, "session.file", &c.Session.File)
	overlayString(v, "session.role", &c.Session.Role)

	if v.IsSet("redis.enabled") {
		c.RedisEnabled = v.GetBool("redis.enabled")
	}
	overlayString(v, "redis.addr", &c.Redis.Addr)
	overlayString(v, "redis.password", &c.Redis.Password)
	if v.IsSet("redis.db") {
		c.Redis.DB = v.GetInt("redis.db")
	}
	if v.IsSet("redis.cache_ttl_seconds") {
		c.CacheTTL = time.Duration(v.GetInt("redis.cache_ttl_seconds")) * time.Second
	}

	if v.IsSet("mqtt.enabled") {
		c.MQTTEnabled = v.GetBool("mqtt.enabled")
	}
	overlayString(v, "mqtt.broker", &c.MQTT.Broker)
	overlayString(v, "mqtt.client_id", &c.MQTT.ClientID)
	overlayString(v, "mqtt.username", &c.MQTT.Username)
	overlayString(v, "mqtt.password", &c.MQTT.Password)
	overlayString(v, "mqtt.topic", &c.MQTT.Topic)

	if v.IsSet("journal.enabled") {
		c.JournalEnabled = v.GetBool("journal.enabled")
	}
	overlayString(v, "database.host", &c.Database.Host)
	if v.IsSet("database.port") {
		c.Database.Port = v.GetInt("database.port")
	}
	overlayString(v, "database.user", &c.Database.User)
	overlayString(v, "database.password", &c.Database.Password)
	overlayString(v, "database.name", &c.Database.Database)
	overlayString(v, "database.sslmode", &c.Database.SSLMode)

	overlayString(v, "expire_cron", &c.ExpireCron)
	overlayString(v, "stub.addr", &c.Stub.Addr)
	overlayString(v, "log.level", &c.Log.Level)
	overlayString(v, "log.format", &c.Log.Format)
	return nil
}

func overlayString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".titipanq-session.json"
	}
	return filepath.Join(dir, "titipanq", "session.json")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
