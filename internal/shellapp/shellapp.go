// Package shellapp is a compile-time-registered plugin publishing the
// "shell" descriptor the dispatcher looks for by convention (spec §4.3
// steps 3 and 9): a served worker app directory that renders a branded
// layout for top-level navigations and 404s.
package shellapp

import (
	"os"

	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
)

const pluginName = "shell"

// Config is the shell plugin's manifest-derived configuration.
type Config struct {
	AppDir string `json:"appDir"`
	Base   string `json:"base"`
}

func init() {
	plugins.RegisterFactory(pluginName, build)
}

func build() *plugins.Descriptor {
	log := logger.Named(pluginName)
	cfg := Config{Base: "/"}

	if _, manifest, ok := config.FindOwnPluginDir(pluginName); ok {
		if err := config.DecodeExtra(manifest.Extra, &cfg); err != nil {
			log.Warn().Err(err).Msg("failed to decode shell plugin config")
		}
		if manifest.Base != "" {
			cfg.Base = manifest.Base
		}
	}
	if cfg.AppDir == "" {
		cfg.AppDir = os.Getenv("SHELL_APP_DIR")
	}
	if cfg.Base == "" {
		cfg.Base = "/"
	}

	if cfg.AppDir == "" {
		log.Warn().Msg("no shell app directory configured; shell pre-emption and 404 fallback are disabled")
	}

	return &plugins.Descriptor{
		Name:         pluginName,
		BasePath:     cfg.Base,
		ServedAppDir: cfg.AppDir,
	}
}
