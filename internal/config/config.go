// Package config loads broker configuration the way the teacher does:
// layered .env files under real process env, with Vault as the preferred
// secrets source and env as fallback — adapted from
// internal/config/config.go's Load()/VaultClient, but trimmed to the
// secrets this broker actually has (TURN shared secret, object-store
// credentials) instead of a JWT secret (spec's Session Manager uses
// opaque tokens, not JWTs).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerID    string
	ServerPort  string
	RedisURL    string
	PostgresURL string
	ConsulURL   string

	MinioEndpoint string
	MinioKey      string
	MinioSecret   string
	MinioBucket   string
	MinioUseSSL   bool

	TurnSharedSecret string
	TurnURLs         []string

	APNsKeyPath string
	APNsKeyID   string
	APNsTeamID  string
	APNsTopic   string
	APNsSandbox bool

	SessionTTL      time.Duration
	RateLimits      *RateLimitConfig
	AllowedOrigins  []string
	RateLimitBypass bool // test-only bypass flag, spec §4.10
}

// RateLimitConfig mirrors the teacher's tiered-limit shape
// (internal/config/config.go RateLimitConfig/TieredLimitConfig/LimitConfig)
// but keyed by frame type per spec §4.10 instead of by HTTP endpoint.
type RateLimitConfig struct {
	PerFrameType map[string]LimitConfig
	Default      LimitConfig
}

type LimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

func defaultRateLimits() *RateLimitConfig {
	return &RateLimitConfig{
		Default: LimitConfig{MaxRequests: 60, Window: time.Minute},
		PerFrameType: map[string]LimitConfig{
			"register_begin":       {MaxRequests: 10, Window: time.Minute},
			"send_message":         {MaxRequests: 60, Window: time.Minute},
			"group_send_message":   {MaxRequests: 60, Window: time.Minute},
			"call_initiate":        {MaxRequests: 10, Window: 60 * time.Second},
			"get_turn_credentials": {MaxRequests: 20, Window: time.Minute},
		},
	}
}

var vaultClient *vaultapi.Client

func initVault(addr, token string) error {
	cfg := &vaultapi.Config{Address: addr}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)
	if _, err := client.Sys().Health(); err != nil {
		return fmt.Errorf("failed to reach vault: %w", err)
	}
	vaultClient = client
	return nil
}

// secretFromVault reads secret/data/whisper-broker#key via KV v2, falling
// back to the given environment variable when Vault is unavailable,
// mirroring the teacher's Vault-then-env precedence exactly.
func secretFromVault(key, envFallback string) (string, error) {
	if vaultClient != nil {
		sec, err := vaultClient.Logical().Read("secret/data/whisper-broker")
		if err == nil && sec != nil {
			if data, ok := sec.Data["data"].(map[string]interface{}); ok {
				if v, ok := data[key].(string); ok && v != "" {
					return v, nil
				}
			}
		} else if err != nil {
			log.Printf("[config] vault read failed, falling back to env: %v", err)
		}
	}
	if v := os.Getenv(envFallback); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s not found in vault or %s", key, envFallback)
}

func loadEnvFiles() {
	_ = godotenv.Load(".env")
	if env := os.Getenv("NODE_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Load builds the Config once at process startup; it is never a package
// global after this call — it flows down through constructors (spec §9
// "no ambient globals").
func Load() *Config {
	loadEnvFiles()

	vaultAddr := os.Getenv("VAULT_ADDR")
	vaultToken := os.Getenv("VAULT_TOKEN")
	if vaultAddr != "" && vaultToken != "" {
		if err := initVault(vaultAddr, vaultToken); err != nil {
			log.Printf("[config] vault init failed, using env fallback: %v", err)
		}
	}

	turnSecret, err := secretFromVault("turn_shared_secret", "TURN_SHARED_SECRET")
	if err != nil {
		log.Printf("[config] WARNING: %v (get_turn_credentials will fail until set)", err)
	}
	minioSecret, _ := secretFromVault("minio_secret_key", "MINIO_SECRET_KEY")

	return &Config{
		ServerID:    getEnv("SERVER_ID", "broker-1"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),
		PostgresURL: getEnv("DATABASE_URL", "postgres://localhost/whisper?sslmode=disable"),
		ConsulURL:   getEnv("CONSUL_URL", "localhost:8500"),

		MinioEndpoint: getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecret:   minioSecret,
		MinioBucket:   getEnv("MINIO_BUCKET", "whisper-attachments"),
		MinioUseSSL:   getEnvBool("MINIO_USE_SSL", false),

		TurnSharedSecret: turnSecret,
		TurnURLs:         []string{getEnv("TURN_URL", "turn:turn.example.com:3478")},

		APNsKeyPath: getEnv("APNS_KEY_PATH", ""),
		APNsKeyID:   getEnv("APNS_KEY_ID", ""),
		APNsTeamID:  getEnv("APNS_TEAM_ID", ""),
		APNsTopic:   getEnv("APNS_TOPIC", ""),
		APNsSandbox: getEnvBool("APNS_SANDBOX", true),

		SessionTTL:      30 * 24 * time.Hour,
		RateLimits:      defaultRateLimits(),
		AllowedOrigins:  []string{getEnv("ALLOWED_ORIGIN", "*")},
		RateLimitBypass: getEnvBool("RATE_LIMIT_BYPASS", false),
	}
}
