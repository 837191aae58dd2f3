// Package plugins implements the plugin registry described in spec §4.2: a
// topologically ordered set of plugins with lifecycle hooks, request/response
// hooks, owned HTTP routes, an optional served app, and an inter-plugin
// service registry.
//
// Each plugin is a struct conforming to the capability set
// {Init, Shutdown, OnRequest, OnResponse, ServerFetch, Routes, ServedApp};
// absent capabilities are nil function fields rather than interface methods
// a struct must stub out, so a minimal plugin declares only what it uses.
package plugins

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wharfd/wharfd/internal/config"
)

// HookResult is returned by OnRequest/OnResponse/ServerFetch hooks. A hook
// either lets the request continue (Response nil), or short-circuits with a
// Response.
type HookResult struct {
	Response *http.Response
}

// Context is the per-plugin handle into the rest of the runtime, passed to
// every lifecycle and request hook. It never exposes package-level globals;
// everything a plugin needs is reachable through this struct.
type Context struct {
	context.Context
	Registry *Registry
	Config   map[string]any
}

// Descriptor is the declaration one plugin registers with the registry. Name
// and (if set) BasePath must be globally unique; Register rejects a duplicate
// Name, and Init validates BasePath uniqueness plus acyclicity of the
// dependency graph.
type Descriptor struct {
	Name                 string
	Dependencies         []string
	OptionalDependencies []string

	// BasePath, if non-empty, is this plugin's exclusive URL mount prefix.
	BasePath string

	// PublicRoutePatterns exempts matching requests from
	// authentication/authorization for this plugin's own routes. Array
	// form applies to all methods; keyed form unions the ALL bucket with
	// the request's specific method (config.RouteMatcher).
	PublicRoutePatterns *config.RouteMatcher

	// ServedAppDir, if non-empty, publishes a worker app directory the
	// dispatcher serves through the pool when ResolvePluginApp matches.
	ServedAppDir string

	// Routes, if non-nil, is invoked for requests under BasePath once the
	// dispatcher has stripped the prefix. A 404 response falls through to
	// worker routing.
	Routes func(router gin.IRoutes)

	// ServerFetch, if non-nil, runs before the global onRequest chain for
	// paths this plugin claims (public routes are not gated by onRequest
	// first). Returning nil lets the chain continue to the global
	// onRequest/routing steps.
	ServerFetch func(ctx *Context, req *http.Request) *HookResult

	// OnRequest/OnResponse run in topological order across every plugin
	// that declares them.
	OnRequest  func(ctx *Context, req *http.Request) *HookResult
	OnResponse func(ctx *Context, resp *http.Response) *http.Response

	// OnInit runs once, in topological order, during Registry.Init. A
	// plugin may return a named service object for later plugins and
	// request-time lookup via GetService.
	OnInit func(ctx *Context) (service any, err error)

	// OnShutdown runs once, in reverse topological order, during
	// Registry.Shutdown.
	OnShutdown func(ctx *Context) error
}
