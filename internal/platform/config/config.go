package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures service configuration so main stays lean. Values come from
// the environment with development defaults; production deployments override
// the secrets explicitly.
type Config struct {
	Addr        string
	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Token       TokenConfig
	Anomaly     AnomalyConfig
	Alert       AlertConfig
	Export      ExportConfig
	Retention   RetentionConfig
}

// RedisConfig configures the optional externally-backed registry store.
// An empty URL keeps registry state in process memory.
type RedisConfig struct {
	URL string
}

// KafkaConfig configures the optional alert feed. Empty brokers disable it.
type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

// TokenConfig holds token lifecycle and lockout tuning.
type TokenConfig struct {
	SigningSecret      string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	WSTokenTTL         time.Duration
	MaxSessionLifetime time.Duration
	MaxFailedAttempts  int
	FailureWindow      time.Duration
	LockoutDuration    time.Duration
}

// AnomalyConfig holds default per-action thresholds for the anomaly report.
// Keys are canonical SECURITY_* action names.
type AnomalyConfig struct {
	Thresholds           map[string]int
	DefaultWindowMinutes int
}

// AlertConfig holds auto-alert governance tuning. SilenceCaps bounds how long
// each role may silence a fingerprint; roles absent from the map get zero.
// MaxCooldown bounds how long a creation timestamp is retained, and with it
// the largest per-request cooldown window that can still suppress.
type AlertConfig struct {
	SilenceCaps     map[string]time.Duration
	DefaultCooldown time.Duration
	MaxCooldown     time.Duration
}

// ExportConfig holds export signing material and paging bounds. An empty
// SigningKey exports unsigned envelopes (hash only); cursor tokens are
// always signed, falling back to the token secret.
type ExportConfig struct {
	SigningKey   string
	KeyID        string
	DefaultLimit int
	MaxLimit     int
}

// RetentionConfig holds the purge window and the protected-action allowlist.
type RetentionConfig struct {
	DefaultDays      int
	ProtectedActions []string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        envStr("VIGIL_ADDR", ":8080"),
		PostgresDSN: envStr("VIGIL_POSTGRES_DSN", ""),
		Redis: RedisConfig{
			URL: envStr("VIGIL_REDIS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    envCSV("VIGIL_KAFKA_BROKERS", nil),
			AlertTopic: envStr("VIGIL_KAFKA_ALERT_TOPIC", "vigil.security-alerts"),
		},
		Token: TokenConfig{
			// Development default - must be overridden in production.
			SigningSecret:      envStr("VIGIL_TOKEN_SECRET", "dev-secret-change-in-production"),
			AccessTTL:          envDur("VIGIL_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:         envDur("VIGIL_REFRESH_TTL", 8*time.Hour),
			WSTokenTTL:         envDur("VIGIL_WS_TOKEN_TTL", 2*time.Minute),
			MaxSessionLifetime: envDur("VIGIL_MAX_SESSION_LIFETIME", 12*time.Hour),
			MaxFailedAttempts:  envInt("VIGIL_MAX_FAILED_ATTEMPTS", 5),
			FailureWindow:      envDur("VIGIL_FAILURE_WINDOW", 5*time.Minute),
			LockoutDuration:    envDur("VIGIL_LOCKOUT_DURATION", 15*time.Minute),
		},
		Anomaly: AnomalyConfig{
			Thresholds:           defaultThresholds(),
			DefaultWindowMinutes: envInt("VIGIL_ANOMALY_WINDOW_MINUTES", 60),
		},
		Alert: AlertConfig{
			SilenceCaps: map[string]time.Duration{
				"admin": envDur("VIGIL_ADMIN_SILENCE_CAP", 24*time.Hour),
			},
			DefaultCooldown: envDur("VIGIL_ALERT_COOLDOWN", 30*time.Minute),
			MaxCooldown:     envDur("VIGIL_ALERT_MAX_COOLDOWN", 24*time.Hour),
		},
		Export: ExportConfig{
			SigningKey:   envStr("VIGIL_EXPORT_SIGNING_KEY", ""),
			KeyID:        envStr("VIGIL_EXPORT_KEY_ID", ""),
			DefaultLimit: envInt("VIGIL_EXPORT_DEFAULT_LIMIT", 500),
			MaxLimit:     envInt("VIGIL_EXPORT_MAX_LIMIT", 5000),
		},
		Retention: RetentionConfig{
			DefaultDays: envInt("VIGIL_RETENTION_DAYS", 365),
			ProtectedActions: envCSV("VIGIL_RETENTION_PROTECTED_ACTIONS", []string{
				// Purge evidence and consumer positions survive by default;
				// operators must opt out explicitly.
				"SECURITY_RETENTION_PURGE",
				"SECURITY_EXPORT_CHECKPOINT",
			}),
		},
	}
}

func defaultThresholds() map[string]int {
	return map[string]int{
		"SECURITY_LOGIN_FAILED":      10,
		"SECURITY_ACCOUNT_LOCKED":    3,
		"SECURITY_REFRESH_FAILED":    10,
		"SECURITY_TOKEN_REJECTED":    25,
		"SECURITY_PERMISSION_DENIED": 15,
		"SECURITY_TOKEN_REVOKED":     20,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envCSV(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
