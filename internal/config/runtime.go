package config

import (
	"os"
	"strconv"
	"strings"
)

// RuntimeConfig is the process-wide configuration assembled from environment
// variables at boot, per spec §6.
type RuntimeConfig struct {
	WorkerDirs      []string
	PluginDirs      []string
	PoolSize        int
	HomepageApp     string
	Port            string
	NodeEnv         string
	LibSQLURL       string
	LibSQLAuthToken string
	RootKey         string

	// GlobalBodySizeMax is the hard ceiling every worker's maxBodySize is
	// clamped to, regardless of what the worker's own manifest requests.
	GlobalBodySizeMax int64

	// RedisAddr, RedisPassword and RedisDB hold the REDIS_* variables. No
	// code reads these fields; the admission plugin reads REDIS_ADDR from the
	// environment itself to back its rate limiter with Redis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATSUrl holds EVENTS_NATS_URL. No code reads it; the runtime opens no
	// NATS connection.
	NATSUrl string

	// PostgresDSN, when set, backs the PAP with github.com/lib/pq instead of
	// (or in addition to) the JSON file mirror.
	PostgresDSN string

	LogLevel    string
	PrettyLogs  bool
}

// LoadRuntimeConfig reads the process environment into a RuntimeConfig,
// applying the defaults spec §6 implies for optional variables.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	workerDirs := splitCSV(os.Getenv("WORKER_DIRS"))
	if len(workerDirs) == 0 {
		return nil, &missingEnvError{name: "WORKER_DIRS"}
	}

	cfg := &RuntimeConfig{
		WorkerDirs:        workerDirs,
		PluginDirs:        splitCSVOr(os.Getenv("PLUGIN_DIRS"), []string{"./plugins"}),
		PoolSize:          intEnvOr("POOL_SIZE", 50),
		HomepageApp:       os.Getenv("HOMEPAGE_APP"),
		Port:              stringEnvOr("PORT", "8080"),
		NodeEnv:           stringEnvOr("NODE_ENV", "production"),
		LibSQLURL:         os.Getenv("LIBSQL_URL"),
		LibSQLAuthToken:   os.Getenv("LIBSQL_AUTH_TOKEN"),
		RootKey:           os.Getenv("ROOT_KEY"),
		GlobalBodySizeMax: sizeEnvOr("BODY_SIZE_MAX", 50<<20),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           intEnvOr("REDIS_DB", 0),
		NATSUrl:           os.Getenv("EVENTS_NATS_URL"),
		PostgresDSN:       os.Getenv("POLICY_POSTGRES_DSN"),
		LogLevel:          stringEnvOr("LOG_LEVEL", "info"),
		PrettyLogs:        stringEnvOr("NODE_ENV", "production") != "production",
	}
	return cfg, nil
}

type missingEnvError struct{ name string }

func (e *missingEnvError) Error() string {
	return "config: required environment variable " + e.name + " is not set"
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSVOr(s string, def []string) []string {
	if v := splitCSV(s); v != nil {
		return v
	}
	return def
}

func stringEnvOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func intEnvOr(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func sizeEnvOr(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := ParseSizeBytes(v)
	if err != nil {
		return def
	}
	return n
}
