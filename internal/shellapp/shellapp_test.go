package shellapp

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildReadsAppDirFromEnvWhenManifestAbsent(t *testing.T) {
	t.Setenv("PLUGIN_DIRS", t.TempDir())
	t.Setenv("SHELL_APP_DIR", "/tmp/shell-app")

	desc := build()
	assert.Equal(t, pluginName, desc.Name)
	assert.Equal(t, "/", desc.BasePath)
	assert.Equal(t, "/tmp/shell-app", desc.ServedAppDir)
}

func TestBuildDefaultsBaseToRoot(t *testing.T) {
	t.Setenv("PLUGIN_DIRS", t.TempDir())
	t.Setenv("SHELL_APP_DIR", "")
	os.Unsetenv("SHELL_APP_DIR")

	desc := build()
	assert.Equal(t, "/", desc.BasePath)
}
