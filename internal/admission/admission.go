// Package admission is a compile-time-registered plugin enforcing the
// token-bucket rate limiter (spec §4.6) as an onRequest hook, keyed by
// client IP.
package admission

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/wharfd/wharfd/internal/cache"
	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/ratelimit"
)

const pluginName = "admission"

// Config is the admission plugin's manifest-derived configuration.
type Config struct {
	Capacity      int     `json:"capacity"`
	WindowSeconds float64 `json:"windowSeconds"`
}

// Plugin gates requests through a shared token-bucket limiter.
type Plugin struct {
	limiter *ratelimit.Limiter
}

func init() {
	plugins.RegisterFactory(pluginName, build)
}

func build() *plugins.Descriptor {
	log := logger.Named(pluginName)
	cfg := Config{Capacity: 60, WindowSeconds: 60}

	if _, manifest, ok := config.FindOwnPluginDir(pluginName); ok {
		if err := config.DecodeExtra(manifest.Extra, &cfg); err != nil {
			log.Warn().Err(err).Msg("failed to decode admission plugin config, using defaults")
		}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 60
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}

	limiter := ratelimit.New(cfg.Capacity, cfg.WindowSeconds)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
		redisCache, err := cache.NewCache(cache.Config{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
			Enabled:  true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable for distributed rate limiting, using in-process buckets")
		} else {
			limiter = limiter.WithRedis(cache.NewRateLimitStore(redisCache))
		}
	}
	p := &Plugin{limiter: limiter}

	return &plugins.Descriptor{
		Name:       pluginName,
		OnRequest:  p.onRequest,
		OnShutdown: p.onShutdown,
	}
}

func (p *Plugin) onRequest(ctx *plugins.Context, req *http.Request) *plugins.HookResult {
	key := clientKey(req)
	allowed, retryAfter := p.limiter.Consume(ctx, key)
	if allowed {
		return nil
	}
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"code":    "RATE_LIMITED",
		"message": "rate limit exceeded",
		"data":    map[string]any{"retryAfter": retryAfter},
	})
	return &plugins.HookResult{Response: &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       newBody(body),
	}}
}

func (p *Plugin) onShutdown(_ *plugins.Context) error {
	p.limiter.Stop()
	return nil
}

func newBody(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

func clientKey(req *http.Request) string {
	if fwd := req.Header.Get("x-forwarded-for"); fwd != "" {
		return fwd
	}
	return req.RemoteAddr
}
