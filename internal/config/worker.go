package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wharfd/wharfd/internal/globmatch"
	"github.com/wharfd/wharfd/internal/logger"
)

// Visibility controls whether a worker app is reachable directly, only
// through a plugin, or not at all from outside the process.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityProtected Visibility = "protected"
	VisibilityInternal  Visibility = "internal"
)

// methodAll is the keyed publicRoutes map key whose globs apply to every
// HTTP method.
const methodAll = "ALL"

// WorkerConfig is the normalized, immutable-once-loaded configuration for one
// worker app. Every duration and size field has already been converted to
// milliseconds/bytes by LoadWorkerConfig.
type WorkerConfig struct {
	Entrypoint      string            `yaml:"entrypoint"`
	TimeoutMs       int64             `yaml:"-"`
	IdleTimeoutMs   int64             `yaml:"-"`
	TTLMs           int64             `yaml:"-"`
	MaxRequests     int64             `yaml:"maxRequests"`
	MaxBodySizeBytes int64            `yaml:"-"`
	AutoInstall     bool              `yaml:"autoInstall"`
	LowMemory       bool              `yaml:"lowMemory"`
	InjectBase      bool              `yaml:"injectBase"`
	PublicRoutes    *RouteMatcher     `yaml:"-"`
	Env             map[string]string `yaml:"env"`
	Visibility      Visibility        `yaml:"visibility"`
}

// rawWorkerManifest mirrors the on-disk YAML/JSONC shape before duration and
// size strings are normalized into the typed WorkerConfig above.
type rawWorkerManifest struct {
	Entrypoint   string            `yaml:"entrypoint"`
	Timeout      any               `yaml:"timeout"`
	IdleTimeout  any               `yaml:"idleTimeout"`
	TTL          any               `yaml:"ttl"`
	MaxRequests  int64             `yaml:"maxRequests"`
	MaxBodySize  any               `yaml:"maxBodySize"`
	AutoInstall  bool              `yaml:"autoInstall"`
	LowMemory    bool              `yaml:"lowMemory"`
	InjectBase   bool              `yaml:"injectBase"`
	PublicRoutes any               `yaml:"publicRoutes"`
	Env          map[string]string `yaml:"env"`
	Visibility   string            `yaml:"visibility"`
}

// Defaults applied when a worker manifest is missing or a field is absent.
const (
	DefaultTimeoutMs     = 30_000
	DefaultIdleTimeoutMs = 5 * 60_000
	DefaultMaxRequests   = 0 // 0 = unbounded
	DefaultMaxBodySize   = 10 << 20
)

// LoadWorkerConfig reads manifest.yaml (or manifest.yml / manifest.jsonc) from
// appDir. A missing manifest yields the all-defaults configuration.
func LoadWorkerConfig(appDir string, globalBodySizeMax int64) (*WorkerConfig, error) {
	raw, err := readWorkerManifestFile(appDir)
	if err != nil {
		return nil, err
	}
	return normalizeWorkerConfig(raw, globalBodySizeMax)
}

func readWorkerManifestFile(appDir string) (*rawWorkerManifest, error) {
	for _, name := range []string{"manifest.yaml", "manifest.yml", "manifest.jsonc", "manifest.json"} {
		path := filepath.Join(appDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if filepath.Ext(name) == ".jsonc" {
			data = stripJSONComments(data)
		}
		var raw rawWorkerManifest
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		return &raw, nil
	}
	return &rawWorkerManifest{}, nil
}

func normalizeWorkerConfig(raw *rawWorkerManifest, globalBodySizeMax int64) (*WorkerConfig, error) {
	cfg := &WorkerConfig{
		Entrypoint:  raw.Entrypoint,
		MaxRequests: raw.MaxRequests,
		AutoInstall: raw.AutoInstall,
		LowMemory:   raw.LowMemory,
		InjectBase:  raw.InjectBase,
		Env:         raw.Env,
		Visibility:  Visibility(raw.Visibility),
	}
	if cfg.Visibility == "" {
		cfg.Visibility = VisibilityPublic
	}

	var err error
	cfg.TimeoutMs, err = normalizedOr(raw.Timeout, DefaultTimeoutMs)
	if err != nil {
		return nil, err
	}
	cfg.IdleTimeoutMs, err = normalizedOr(raw.IdleTimeout, DefaultIdleTimeoutMs)
	if err != nil {
		return nil, err
	}
	cfg.TTLMs, err = normalizedOr(raw.TTL, 0)
	if err != nil {
		return nil, err
	}

	maxBody, err := ParseSizeBytes(raw.MaxBodySize)
	if err != nil {
		return nil, err
	}
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}
	if globalBodySizeMax > 0 && maxBody > globalBodySizeMax {
		maxBody = globalBodySizeMax
	}
	cfg.MaxBodySizeBytes = maxBody

	cfg.PublicRoutes, err = ParseRouteMatcher(raw.PublicRoutes)
	if err != nil {
		return nil, err
	}

	if err := validateRelationshipInvariants(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalizedOr(raw any, def int64) (int64, error) {
	if raw == nil {
		return def, nil
	}
	return ParseDurationMs(raw)
}

// validateRelationshipInvariants enforces spec §3: when ttlMs > 0, ttlMs must
// be >= timeoutMs and idleTimeoutMs must be >= timeoutMs (hard error);
// idleTimeoutMs should be <= ttlMs (auto-clamped with a warning, not fatal).
func validateRelationshipInvariants(cfg *WorkerConfig) error {
	if cfg.TTLMs <= 0 {
		return nil
	}
	if cfg.TTLMs < cfg.TimeoutMs {
		return fmt.Errorf("config: ttl must be >= timeout")
	}
	if cfg.IdleTimeoutMs < cfg.TimeoutMs {
		return fmt.Errorf("config: idleTimeout must be >= timeout")
	}
	if cfg.IdleTimeoutMs > cfg.TTLMs {
		logger.Named("config").Warn().
			Int64("idleTimeoutMs", cfg.IdleTimeoutMs).
			Int64("ttlMs", cfg.TTLMs).
			Msg("idleTimeout exceeds ttl; clamping idleTimeout to ttl")
		cfg.IdleTimeoutMs = cfg.TTLMs
	}
	return nil
}

// RouteMatcher answers publicRoutes queries for a worker or plugin: either an
// array of globs (all methods) or a keyed form mapping ALL|GET|POST|... to
// per-method glob arrays, unioned with ALL per spec's IsPublicRoute contract.
type RouteMatcher struct {
	all     []string
	perMeth map[string][]string
}

// Empty reports whether rm carries no patterns at all, i.e. a manifest
// omitted publicRoutes entirely rather than declaring an intentionally empty
// set. Callers with a compiled-in default use this to decide whether a
// parsed RouteMatcher should override it.
func (rm *RouteMatcher) Empty() bool {
	return rm == nil || (len(rm.all) == 0 && len(rm.perMeth) == 0)
}

// NewRouteMatcher builds an array-form RouteMatcher (all methods) directly
// from a glob list, for callers that have a compiled-in default rather than
// a manifest to parse (e.g. a plugin's built-in public routes).
func NewRouteMatcher(patterns []string) *RouteMatcher {
	return &RouteMatcher{all: patterns}
}

// ParseRouteMatcher accepts either a YAML/JSON array or map decoded into any.
func ParseRouteMatcher(raw any) (*RouteMatcher, error) {
	if raw == nil {
		return &RouteMatcher{}, nil
	}
	switch v := raw.(type) {
	case []any:
		globs := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("config: publicRoutes array must contain strings")
			}
			globs = append(globs, s)
		}
		return &RouteMatcher{all: globs}, nil
	case map[string]any:
		rm := &RouteMatcher{perMeth: map[string][]string{}}
		for method, val := range v {
			arr, ok := val.([]any)
			if !ok {
				return nil, fmt.Errorf("config: publicRoutes[%s] must be an array", method)
			}
			globs := make([]string, 0, len(arr))
			for _, item := range arr {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("config: publicRoutes[%s] must contain strings", method)
				}
				globs = append(globs, s)
			}
			rm.perMeth[method] = globs
		}
		return rm, nil
	default:
		return nil, fmt.Errorf("config: publicRoutes must be an array or object, got %T", raw)
	}
}

// Matches reports whether path is public for the given method: array form
// matches any method; keyed form unions the ALL bucket with the specific
// method's bucket. See SortedPatterns for the deterministic form used when
// iterating.
func (rm *RouteMatcher) Matches(path, method string) bool {
	if rm == nil {
		return false
	}
	if len(rm.all) > 0 {
		return matchAny(rm.all, path)
	}
	patterns := rm.SortedPatterns(method)
	return globmatch.MatchAny(patterns, path)
}

// SortedPatterns returns the deterministic, sorted union of glob patterns
// that apply to method (ALL plus the method-specific bucket). Per the spec's
// resolved open question, this is a sorted set rather than map iteration
// order, so repeated calls are reproducible.
func (rm *RouteMatcher) SortedPatterns(method string) []string {
	if rm == nil {
		return nil
	}
	if len(rm.all) > 0 {
		out := append([]string{}, rm.all...)
		sort.Strings(out)
		return out
	}
	set := map[string]struct{}{}
	for _, p := range rm.perMeth[methodAll] {
		set[p] = struct{}{}
	}
	for _, p := range rm.perMeth[method] {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func matchAny(patterns []string, path string) bool {
	return globmatch.MatchAny(patterns, path)
}
