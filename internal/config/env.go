package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gateway/internal/domain"
	"gateway/internal/pagination"
	"gateway/internal/utils"

	"github.com/joho/godotenv"
)

const (
	TransportQueue = "queue"
	TransportStub  = "stub"
)

// BackendEnv says how the gateway reaches one backend.
type BackendEnv struct {
	Transport string
	Queue     string
	URL       string
}

type Env struct {
	AppAddr  string
	GinMode  string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RPCTimeout     time.Duration
	SectionTimeout time.Duration
	PageMaxLimit   int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	Backends map[domain.Backend]BackendEnv
}

// UsesQueue reports whether any backend is reached over the Redis queue.
func (e Env) UsesQueue() bool {
	for _, b := range e.Backends {
		if b.Transport == TransportQueue {
			return true
		}
	}
	return false
}

// LoadDotEnv reads .env when present. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func LoadEnv() Env {
	return Env{
		AppAddr:  pickFirst(env("APP_ADDR"), ":8080"),
		GinMode:  env("GIN_MODE"),
		LogLevel: pickFirst(env("LOG_LEVEL"), "info"),

		RedisAddr:     pickFirst(env("REDIS_ADDR"), "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intEnv("REDIS_DB", 0),

		RPCTimeout:     msEnv("RPC_TIMEOUT_MS", 5000),
		SectionTimeout: msEnv("SECTION_TIMEOUT_MS", 5000),
		PageMaxLimit:   positive(intEnv("PAGE_MAX_LIMIT", pagination.MaxLimit), pagination.MaxLimit),

		RateLimitRPS:   floatEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: positive(intEnv("RATE_LIMIT_BURST", 40), 40),
		CORSOrigins:    utils.SplitList(pickFirst(env("CORS_ALLOWED_ORIGINS"), "*")),

		Backends: loadBackends(),
	}
}

func defaultTransport(b domain.Backend) string {
	switch b {
	case domain.BackendCracks, domain.BackendNotifications:
		return TransportStub
	default:
		return TransportQueue
	}
}

func loadBackends() map[domain.Backend]BackendEnv {
	out := make(map[domain.Backend]BackendEnv)
	for _, b := range domain.Backends() {
		prefix := b.EnvPrefix()
		transport := strings.ToLower(pickFirst(env(prefix+"_TRANSPORT"), defaultTransport(b)))
		out[b] = BackendEnv{
			Transport: transport,
			Queue:     pickFirst(env(prefix+"_QUEUE"), string(b)+":requests"),
			URL:       env(prefix + "_URL"),
		}
	}
	return out
}

// TaskServiceEnv configures the task backend process.
type TaskServiceEnv struct {
	DSN      string
	Queue    string
	Workers  int
	RPCAddr  string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadTaskServiceEnv() TaskServiceEnv {
	return TaskServiceEnv{
		DSN:      env("TASKS_DB_DSN"),
		Queue:    pickFirst(env("TASKS_QUEUE"), string(domain.BackendTasks)+":requests"),
		Workers:  positive(intEnv("TASKS_WORKERS", 8), 8),
		RPCAddr:  pickFirst(env("TASKS_RPC_ADDR"), ":9102"),
		LogLevel: pickFirst(env("LOG_LEVEL"), "info"),

		RedisAddr:     pickFirst(env("REDIS_ADDR"), "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intEnv("REDIS_DB", 0),
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func pickFirst(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, fallback int) int {
	n, err := strconv.Atoi(env(key))
	if err != nil {
		return fallback
	}
	return n
}

func floatEnv(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(env(key), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func msEnv(key string, fallback int) time.Duration {
	return time.Duration(positive(intEnv(key, fallback), fallback)) * time.Millisecond
}

func positive(n, fallback int) int {
	if n < 1 {
		return fallback
	}
	return n
}
