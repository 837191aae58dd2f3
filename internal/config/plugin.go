package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PluginManifest is the per-plugin-directory manifest. Everything beyond the
// recognized keys becomes the plugin's own config in Extra, which each plugin
// decodes itself via FindOwnPluginDir and DecodeExtra (it is not this
// package's job to interpret it).
type PluginManifest struct {
	Name                 string         `yaml:"name"`
	Base                 string         `yaml:"base"`
	Enabled              bool           `yaml:"enabled"`
	Dependencies         []string       `yaml:"dependencies"`
	OptionalDependencies []string       `yaml:"optionalDependencies"`
	PublicRoutes         *RouteMatcher  `yaml:"-"`
	Extra                map[string]any `yaml:",inline"`
}

type rawPluginManifest struct {
	Name                 string         `yaml:"name"`
	Base                 string         `yaml:"base"`
	Enabled              *bool          `yaml:"enabled"`
	Dependencies         []string       `yaml:"dependencies"`
	OptionalDependencies []string       `yaml:"optionalDependencies"`
	PublicRoutes         any            `yaml:"publicRoutes"`
	Extra                map[string]any `yaml:",inline"`
}

// LoadPluginManifest reads plugin.yaml (or .yml/.jsonc/.json) from dir.
func LoadPluginManifest(dir string) (*PluginManifest, error) {
	for _, name := range []string{"plugin.yaml", "plugin.yml", "plugin.jsonc", "plugin.json"} {
		path := filepath.Join(dir, name)
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
		var raw rawPluginManifest
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if raw.Name == "" {
			return nil, fmt.Errorf("config: %s: plugin manifest requires \"name\"", path)
		}

		routes, err := ParseRouteMatcher(raw.PublicRoutes)
		if err != nil {
			return nil, err
		}
		enabled := true
		if raw.Enabled != nil {
			enabled = *raw.Enabled
		}
		return &PluginManifest{
			Name:                 raw.Name,
			Base:                 raw.Base,
			Enabled:              enabled,
			Dependencies:         raw.Dependencies,
			OptionalDependencies: raw.OptionalDependencies,
			PublicRoutes:         routes,
			Extra:                raw.Extra,
		}, nil
	}
	return nil, fmt.Errorf("config: no plugin manifest found in %s", dir)
}

// FindOwnPluginDir scans PLUGIN_DIRS (or "./plugins" if unset) for a
// directory whose manifest declares name. Compile-time-registered plugin
// factories call this to locate their own manifest without the runtime
// having to inject it, since a Factory takes no arguments.
func FindOwnPluginDir(name string) (dir string, manifest *PluginManifest, found bool) {
	roots := splitCSVOr(os.Getenv("PLUGIN_DIRS"), []string{"./plugins"})
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			candidate := filepath.Join(root, entry.Name())
			m, err := LoadPluginManifest(candidate)
			if err != nil {
				continue
			}
			if m.Name == name {
				return candidate, m, true
			}
		}
	}
	return "", nil, false
}

// DecodeExtra re-marshals a plugin manifest's free-form Extra map into a
// typed config struct via JSON, since yaml.v3 already normalizes nested
// mappings to map[string]any.
func DecodeExtra(extra map[string]any, target any) error {
	data, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("config: marshal plugin config: %w", err)
	}
	return json.Unmarshal(data, target)
}
