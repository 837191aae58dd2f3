// Package authz is the policy enforcement point: a compile-time-registered
// plugin wrapping internal/policy's decision engine and policy store behind
// an onRequest hook (spec §4.4's PEP) and an admin HTTP surface (spec §6).
package authz

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/policy"
)

const pluginName = "authz"

// Config is the authz plugin's manifest-derived configuration.
type Config struct {
	ExcludePaths  []string                  `json:"excludePaths"`
	Algorithm     policy.CombiningAlgorithm `json:"algorithm"`
	DefaultEffect policy.Effect             `json:"defaultEffect"`
	Seed          policy.SeedConfig         `json:"seed"`
	StorePath     string                    `json:"storePath"`
}

// Plugin implements the authz PEP and admin surface over a policy.Store.
type Plugin struct {
	cfg      Config
	store    *policy.Store
	excludes []*regexp.Regexp
	sanitize *bluemonday.Policy
}

func init() {
	plugins.RegisterFactory(pluginName, build)
}

func build() *plugins.Descriptor {
	log := logger.Named("authz")
	cfg := Config{Algorithm: policy.DenyOverrides, DefaultEffect: policy.EffectDeny}
	var publicRoutes *config.RouteMatcher

	if _, manifest, ok := config.FindOwnPluginDir(pluginName); ok {
		if err := config.DecodeExtra(manifest.Extra, &cfg); err != nil {
			log.Warn().Err(err).Msg("failed to decode authz plugin config, using defaults")
		}
		if !manifest.PublicRoutes.Empty() {
			publicRoutes = manifest.PublicRoutes
		}
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = policy.DenyOverrides
	}
	if cfg.DefaultEffect == "" {
		cfg.DefaultEffect = policy.EffectDeny
	}

	var store *policy.Store
	if cfg.StorePath != "" {
		store = policy.NewFileBackedStore(cfg.StorePath)
		if err := store.Load(); err != nil {
			log.Warn().Err(err).Str("path", cfg.StorePath).Msg("failed to load policy store, starting empty")
		}
	} else {
		store = policy.NewStore()
	}
	if err := store.Seed(cfg.Seed); err != nil {
		log.Warn().Err(err).Msg("policy seed failed")
	}

	excludes := make([]*regexp.Regexp, 0, len(cfg.ExcludePaths))
	for _, pattern := range cfg.ExcludePaths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("invalid authz excludePaths pattern, ignoring")
			continue
		}
		excludes = append(excludes, re)
	}

	p := &Plugin{cfg: cfg, store: store, excludes: excludes, sanitize: bluemonday.StrictPolicy()}

	return &plugins.Descriptor{
		Name:                pluginName,
		BasePath:            "/authz",
		Routes:              p.routes,
		OnRequest:           p.onRequest,
		PublicRoutePatterns: publicRoutes,
	}
}

func (p *Plugin) excluded(path string) bool {
	for _, re := range p.excludes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// onRequest is the PEP hook: it builds an evaluation context from the
// request and the X-Identity header and denies with the literal {error,
// reason, policy} body spec §4.4 mandates on deny.
func (p *Plugin) onRequest(_ *plugins.Context, req *http.Request) *plugins.HookResult {
	path := req.URL.Path
	if p.excluded(path) {
		return nil
	}

	subject := identityFromHeader(req.Header.Get("X-Identity"))
	pctx := policy.Context{
		Subject:  subject,
		Resource: policy.Resource{Path: path, App: req.Header.Get("x-base")},
		Action:   policy.Action{Method: req.Method},
		IP:       clientIP(req),
		Now:      wallClock,
	}

	decision := policy.Evaluate(pctx, p.store.List(), p.cfg.Algorithm, p.cfg.DefaultEffect)
	if decision.Effect != policy.EffectDeny {
		return nil
	}

	body := map[string]any{
		"error":  "Forbidden",
		"reason": p.sanitize.Sanitize(decision.Reason),
	}
	if decision.MatchedPolicy != nil {
		body["policy"] = *decision.MatchedPolicy
	}
	return &plugins.HookResult{Response: jsonResponse(http.StatusForbidden, body)}
}

func wallClock() (hour, minute, weekday int) {
	now := time.Now()
	return now.Hour(), now.Minute(), int(now.Weekday())
}

func identityFromHeader(raw string) policy.Subject {
	if raw == "" {
		return policy.Subject{}
	}
	var subject policy.Subject
	if err := json.Unmarshal([]byte(raw), &subject); err != nil {
		return policy.Subject{}
	}
	return subject
}

func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("x-forwarded-for"); fwd != "" {
		return fwd
	}
	return req.RemoteAddr
}

func jsonResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}
