package plugins

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/internal/config"
)

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "a"}))
	err := r.Register(&Descriptor{Name: "a"})
	assert.Error(t, err)
}

func TestInitFailsOnMissingDependency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "a", Dependencies: []string{"b"}}))
	err := r.Init(context.Background())
	assert.Error(t, err)
}

func TestInitFailsOnDependencyCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "a", Dependencies: []string{"b"}}))
	require.NoError(t, r.Register(&Descriptor{Name: "b", Dependencies: []string{"a"}}))
	err := r.Init(context.Background())
	assert.ErrorContains(t, err, "cycle")
}

func TestInitFailsOnBasePathCollision(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "a", BasePath: "/admin"}))
	require.NoError(t, r.Register(&Descriptor{Name: "b", BasePath: "/admin"}))
	err := r.Init(context.Background())
	assert.ErrorContains(t, err, "route collision")
}

func TestInitRunsOnInitInTopologicalOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	require.NoError(t, r.Register(&Descriptor{
		Name:         "authz",
		Dependencies: []string{"authn"},
		OnInit: func(ctx *Context) (any, error) {
			order = append(order, "authz")
			return nil, nil
		},
	}))
	require.NoError(t, r.Register(&Descriptor{
		Name: "authn",
		OnInit: func(ctx *Context) (any, error) {
			order = append(order, "authn")
			return "authn-service", nil
		},
	}))

	require.NoError(t, r.Init(context.Background()))
	require.Equal(t, []string{"authn", "authz"}, order)
	assert.Equal(t, "authn-service", r.GetService("authn"))
}

func TestRegisterAfterInitFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Init(context.Background()))
	err := r.Register(&Descriptor{Name: "late"})
	assert.Error(t, err)
}

func TestRoutedPluginsSortedByBasePathLength(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "short", BasePath: "/a", Routes: func(router gin.IRoutes) {}}))
	require.NoError(t, r.Register(&Descriptor{Name: "long", BasePath: "/a/b/c", Routes: func(router gin.IRoutes) {}}))
	require.NoError(t, r.Init(context.Background()))

	routed := r.RoutedPlugins()
	require.Len(t, routed, 2)
	assert.Equal(t, "long", routed[0].Name)
	assert.Equal(t, "short", routed[1].Name)
}

func TestResolvePluginAppPrefersLongestPrefix(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "root-app", BasePath: "/", ServedAppDir: "/apps/root"}))
	require.NoError(t, r.Register(&Descriptor{Name: "nested-app", BasePath: "/blog", ServedAppDir: "/apps/blog"}))
	require.NoError(t, r.Init(context.Background()))

	resolved := r.ResolvePluginApp("/blog/posts/1")
	require.NotNil(t, resolved)
	assert.Equal(t, "/apps/blog", resolved.Dir)
}

func TestIsPublicRouteDelegatesToGlobPatternsAcrossAllMethods(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{
		Name:                "authn",
		PublicRoutePatterns: config.NewRouteMatcher([]string{"/authn/login", "/authn/callback/*"}),
	}))
	require.NoError(t, r.Init(context.Background()))

	assert.True(t, r.IsPublicRoute("authn", "/authn/login", http.MethodPost))
	assert.True(t, r.IsPublicRoute("authn", "/authn/callback/google", http.MethodGet))
	assert.False(t, r.IsPublicRoute("authn", "/authn/admin", http.MethodGet))
	assert.False(t, r.IsPublicRoute("unknown", "/anything", http.MethodGet))
}

func TestIsPublicRouteKeyedFormUnionsAllAndMethod(t *testing.T) {
	raw := map[string]any{
		"ALL":  []any{"/metrics/api/stats"},
		"POST": []any{"/metrics/api/admin-reset"},
	}
	rm, err := config.ParseRouteMatcher(raw)
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Register(&Descriptor{Name: "metrics", PublicRoutePatterns: rm}))
	require.NoError(t, r.Init(context.Background()))

	assert.True(t, r.IsPublicRoute("metrics", "/metrics/api/stats", http.MethodGet), "ALL bucket applies regardless of method")
	assert.True(t, r.IsPublicRoute("metrics", "/metrics/api/admin-reset", http.MethodPost), "POST bucket applies to POST")
	assert.False(t, r.IsPublicRoute("metrics", "/metrics/api/admin-reset", http.MethodGet), "POST bucket must not apply to GET")
}

func TestShutdownRunsInReverseTopologicalOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	require.NoError(t, r.Register(&Descriptor{
		Name:         "authz",
		Dependencies: []string{"authn"},
		OnShutdown: func(ctx *Context) error {
			order = append(order, "authz")
			return nil
		},
	}))
	require.NoError(t, r.Register(&Descriptor{
		Name: "authn",
		OnShutdown: func(ctx *Context) error {
			order = append(order, "authn")
			return nil
		},
	}))
	require.NoError(t, r.Init(context.Background()))

	r.Shutdown(context.Background())
	assert.Equal(t, []string{"authz", "authn"}, order)
}
