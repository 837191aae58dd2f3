// Package workerapps resolves a request path's leading segment to a worker
// app directory, searching the configured WORKER_DIRS in order.
package workerapps

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps app names to directories under one or more worker-app
// roots.
type Resolver struct {
	roots []string
}

// NewResolver creates a resolver searching roots in order.
func NewResolver(roots []string) *Resolver {
	return &Resolver{roots: roots}
}

// Resolve returns the directory for appName, the first root that contains
// it, searched in configuration order.
func (r *Resolver) Resolve(appName string) (string, bool) {
	if appName == "" {
		return "", false
	}
	for _, root := range r.roots {
		candidate := filepath.Join(root, appName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// AppNameFromPath extracts the first path segment, e.g. "/blog/posts" →
// "blog".
func AppNameFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}
