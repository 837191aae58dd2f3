package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/internal/config"
)

func TestBuildWiresPoolAndVHostsAsCoreServices(t *testing.T) {
	cfg := &config.RuntimeConfig{
		WorkerDirs: []string{t.TempDir()},
		PluginDirs: []string{t.TempDir()},
		PoolSize:   4,
	}

	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	assert.NotNil(t, rt.Pool)
	assert.NotNil(t, rt.VHosts)
	assert.NotNil(t, rt.Dispatcher)

	assert.Same(t, rt.Pool, rt.Registry.GetService("pool"))
	assert.Same(t, rt.VHosts, rt.Registry.GetService("vhosts"))
	assert.Same(t, rt.Apps, rt.Registry.GetService("apps"))
}
