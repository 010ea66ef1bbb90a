package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Worker      WorkerConfig
	WhatsApp    WhatsAppConfig
	Credentials CredentialsConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// WorkerConfig holds the queue poller tunables. The defaults match the
// observed production settings: one retry, 2s idle scan, 1s courtesy
// delay after a send, 3s back-off after a failure.
type WorkerConfig struct {
	MaxRetries     int
	IdleSleep      time.Duration
	SendDelay      time.Duration
	FailureBackoff time.Duration
}

type WhatsAppConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

// CredentialsConfig carries the AES-256 key (hex) used to decrypt
// vendor access tokens. An empty key means tokens are stored in the
// clear (dev setups).
type CredentialsConfig struct {
	Key string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}

	maxRetries, err := getEnvInt("WORKER_MAX_RETRIES", 1)
	if err != nil {
		errs = append(errs, err)
	}
	idleSleep, err := getEnvInt("WORKER_IDLE_SLEEP_SECONDS", 2)
	if err != nil {
		errs = append(errs, err)
	}
	sendDelay, err := getEnvInt("WORKER_SEND_DELAY_SECONDS", 1)
	if err != nil {
		errs = append(errs, err)
	}
	failureBackoff, err := getEnvInt("WORKER_FAILURE_BACKOFF_SECONDS", 3)
	if err != nil {
		errs = append(errs, err)
	}
	httpTimeout, err := getEnvInt("WHATSAPP_HTTP_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Worker: WorkerConfig{
			MaxRetries:     maxRetries,
			IdleSleep:      time.Duration(idleSleep) * time.Second,
			SendDelay:      time.Duration(sendDelay) * time.Second,
			FailureBackoff: time.Duration(failureBackoff) * time.Second,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:     getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v24.0"),
			HTTPTimeout: time.Duration(httpTimeout) * time.Second,
		},
		Credentials: CredentialsConfig{
			Key: os.Getenv("CREDENTIALS_KEY"),
		},
		Redis: redisCfg,
	}

	if err := joinErrors(validate(cfg)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}
	if err := joinErrors(errs); err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Worker.MaxRetries <= 0 {
		errs = append(errs, errors.New("WORKER_MAX_RETRIES must be > 0"))
	}
	if cfg.Worker.IdleSleep <= 0 {
		errs = append(errs, errors.New("WORKER_IDLE_SLEEP_SECONDS must be > 0"))
	}
	if cfg.Worker.SendDelay < 0 {
		errs = append(errs, errors.New("WORKER_SEND_DELAY_SECONDS must be >= 0"))
	}
	if cfg.Worker.FailureBackoff < 0 {
		errs = append(errs, errors.New("WORKER_FAILURE_BACKOFF_SECONDS must be >= 0"))
	}
	if cfg.WhatsApp.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("WHATSAPP_HTTP_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Credentials.Key != "" {
		if raw, err := hex.DecodeString(cfg.Credentials.Key); err != nil || len(raw) != 32 {
			errs = append(errs, errors.New("CREDENTIALS_KEY must be 64 hex characters (AES-256)"))
		}
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
