package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadWorkerConfigDefaultsOnMissingManifest(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadWorkerConfig(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultTimeoutMs), cfg.TimeoutMs)
	assert.Equal(t, int64(DefaultIdleTimeoutMs), cfg.IdleTimeoutMs)
	assert.Equal(t, int64(0), cfg.TTLMs)
	assert.Equal(t, VisibilityPublic, cfg.Visibility)
}

func TestLoadWorkerConfigAcceptsValidRelationship(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", "ttl: 1h\ntimeout: 30s\nidleTimeout: 2m\n")
	cfg, err := LoadWorkerConfig(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3_600_000), cfg.TTLMs)
	assert.Equal(t, int64(30_000), cfg.TimeoutMs)
	assert.Equal(t, int64(120_000), cfg.IdleTimeoutMs)
}

func TestLoadWorkerConfigRejectsInvalidRelationship(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", "ttl: 1h\ntimeout: 2m\nidleTimeout: 30s\n")
	_, err := LoadWorkerConfig(dir, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idleTimeout must be >= timeout")
}

func TestLoadWorkerConfigClampsIdleToTTL(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", "ttl: 1m\ntimeout: 10s\nidleTimeout: 5m\n")
	cfg, err := LoadWorkerConfig(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, cfg.TTLMs, cfg.IdleTimeoutMs)
}

func TestLoadWorkerConfigClampsMaxBodySizeToGlobalCap(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", "maxBodySize: 1gb\n")
	cfg, err := LoadWorkerConfig(dir, 10<<20)
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), cfg.MaxBodySizeBytes)
}

func TestRouteMatcherArrayForm(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", "publicRoutes:\n  - /health\n  - /metrics/*\n")
	cfg, err := LoadWorkerConfig(dir, 0)
	require.NoError(t, err)
	assert.True(t, cfg.PublicRoutes.Matches("/health", "GET"))
	assert.True(t, cfg.PublicRoutes.Matches("/health", "POST"))
	assert.False(t, cfg.PublicRoutes.Matches("/private", "GET"))
}

func TestRouteMatcherKeyedFormUnionsAllAndMethod(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "manifest.yaml", `publicRoutes:
  ALL:
    - /health
  GET:
    - /status
`)
	cfg, err := LoadWorkerConfig(dir, 0)
	require.NoError(t, err)
	assert.True(t, cfg.PublicRoutes.Matches("/health", "POST"))
	assert.True(t, cfg.PublicRoutes.Matches("/status", "GET"))
	assert.False(t, cfg.PublicRoutes.Matches("/status", "POST"))

	p1 := cfg.PublicRoutes.SortedPatterns("GET")
	p2 := cfg.PublicRoutes.SortedPatterns("GET")
	assert.Equal(t, p1, p2, "sorted patterns must be stable across calls")
}
