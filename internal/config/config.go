package config

import (
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// MQTTConfig MQTT 摄入桥配置（默认禁用）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // 订阅主题，设备 UUID 在主题第二段（terrarium/{uuid}/record）
	QoS      byte
}

// Config terrarium-monitor 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Ingest struct {
		RatePerMinute   int
		MaxBodyBytes    int64
		RetentionDays   int
		RuleCacheTTLSec int
	}
	Webhook struct {
		SigningSecret string
		UserAgent     string
		TimeoutSec    int
		MaxRetries    int
	}
	HealthCheck struct {
		CronSecret string // empty = endpoint is open (documented weak default)
	}
	Admin struct {
		Token string // empty = management endpoints are open (dev only)
	}
	MQTT MQTTConfig
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// Default to true for local dev: if DB is unavailable the service falls
	// back to in-memory repositories so the ingest pipeline stays testable.
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "terrarium")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Ingest.RatePerMinute = parseInt(getEnv("INGEST_RATE_PER_MINUTE", "120"), 120)
	cfg.Ingest.MaxBodyBytes = int64(parseInt(getEnv("INGEST_MAX_BODY_BYTES", "1048576"), 1048576))
	cfg.Ingest.RetentionDays = parseInt(getEnv("SAMPLE_RETENTION_DAYS", "31"), 31)
	cfg.Ingest.RuleCacheTTLSec = parseInt(getEnv("RULE_CACHE_TTL_SEC", "30"), 30)

	cfg.Webhook.SigningSecret = getEnv("WEBHOOK_SIGNATURE_SECRET", "")
	cfg.Webhook.UserAgent = getEnv("WEBHOOK_USER_AGENT", "terrarium-monitor/1.0")
	cfg.Webhook.TimeoutSec = parseInt(getEnv("WEBHOOK_TIMEOUT_SEC", "10"), 10)
	cfg.Webhook.MaxRetries = parseInt(getEnv("WEBHOOK_MAX_RETRIES", "3"), 3)

	cfg.HealthCheck.CronSecret = getEnv("HEALTHCHECK_CRON_SECRET", "")
	cfg.Admin.Token = getEnv("ADMIN_TOKEN", "")

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "terrarium-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "terrarium/+/record")
	cfg.MQTT.QoS = 1

	return cfg
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
