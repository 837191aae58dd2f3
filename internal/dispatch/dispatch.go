// Package dispatch implements the main dispatcher: the per-request state
// machine described in spec §4.3 that composes virtual-host matching,
// shell interception, plugin hooks and routes, and worker-pool dispatch
// into a single gin.HandlerFunc.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wharfd/wharfd/internal/config"
	apperrors "github.com/wharfd/wharfd/internal/errors"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/pool"
	"github.com/wharfd/wharfd/internal/vhost"
	"github.com/wharfd/wharfd/internal/workerapps"
)

// RequestIDHeader is injected on every response, client-supplied or fresh.
const RequestIDHeader = "x-request-id"

// ShellPluginName is the conventional name of the plugin that publishes a
// shell app. A registry with no plugin under this name runs with shell
// pre-emption and 404 fallback both disabled.
const ShellPluginName = "shell"

// Dispatcher wires together the collaborators the main dispatch loop
// needs. It is constructed once in main and threaded explicitly, per
// spec §9's replacement for shared singletons.
type Dispatcher struct {
	VHosts        *vhost.Table
	Registry      *plugins.Registry
	Pool          *pool.Pool
	Apps          *workerapps.Resolver
	GlobalBodyMax int64

	pluginEngines map[string]*gin.Engine
}

// New creates a Dispatcher and builds one internal gin.Engine per routed
// plugin, so plugin routes can be invoked as isolated sub-requests.
func New(vhosts *vhost.Table, registry *plugins.Registry, p *pool.Pool, apps *workerapps.Resolver, globalBodyMax int64) *Dispatcher {
	d := &Dispatcher{
		VHosts:        vhosts,
		Registry:      registry,
		Pool:          p,
		Apps:          apps,
		GlobalBodyMax: globalBodyMax,
		pluginEngines: map[string]*gin.Engine{},
	}
	for _, desc := range registry.RoutedPlugins() {
		engine := gin.New()
		desc.Routes(engine)
		d.pluginEngines[desc.Name] = engine
	}
	return d
}

// Handle is the gin.HandlerFunc entry point. Entry guards (CSRF, body size)
// are expected to run as ordinary gin middleware ahead of this handler;
// everything from virtual-host matching onward happens here.
func (d *Dispatcher) Handle(c *gin.Context) {
	req := c.Request
	ensureRequestID(c)

	resp, aerr := d.route(c, req)
	if aerr != nil {
		resp = errorHTTPResponse(aerr)
	}
	resp = d.runOnResponseChain(req, resp)
	writeResponse(c, resp)
}

func ensureRequestID(c *gin.Context) {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(RequestIDHeader, id)
	c.Set("requestId", id)
}

// route implements spec §4.3 steps 2 through 9. Step 1 (entry guards) is
// applied by middleware before Handle runs; step 10 (onResponse) is
// applied once by Handle after route returns, regardless of which step
// produced the response.
func (d *Dispatcher) route(c *gin.Context, req *http.Request) (*http.Response, *apperrors.AppError) {
	path := req.URL.Path

	if resp, aerr, ok := d.tryVHost(req, path); ok {
		return resp, aerr
	}

	if d.shellClaims(req, path) {
		if resp := d.runOnRequestChain(req); resp != nil {
			return resp, nil
		}
		return d.dispatchShell(req, path, false)
	}

	ranOnRequest := false
	for _, desc := range d.Registry.OrderedHooks(plugins.HookServerFetch) {
		if !d.Registry.IsPublicRoute(desc.Name, path, req.Method) && !ranOnRequest {
			if resp := d.runOnRequestChain(req); resp != nil {
				return resp, nil
			}
			ranOnRequest = true
		}
		pctx := d.pluginContext(req)
		if result := desc.ServerFetch(pctx, req); result != nil && result.Response != nil && result.Response.StatusCode != http.StatusNotFound {
			return result.Response, nil
		}
	}

	if !ranOnRequest {
		if resp := d.runOnRequestChain(req); resp != nil {
			return resp, nil
		}
	}

	if resp, matched := d.dispatchPluginRoute(req, path); matched && resp.StatusCode != http.StatusNotFound {
		return resp, nil
	}

	if resolved := d.Registry.ResolvePluginApp(path); resolved != nil {
		req.Header.Set("x-base", resolved.BasePath)
		resp, aerr := d.dispatchDir(req.Context(), resolved.Dir, req)
		if aerr != nil {
			return nil, aerr
		}
		if resp.StatusCode != http.StatusNotFound {
			return resp, nil
		}
	}

	appName := workerapps.AppNameFromPath(path)
	if dir, ok := d.Apps.Resolve(appName); ok {
		resp, aerr := d.dispatchDir(req.Context(), dir, req)
		if aerr != nil {
			return nil, aerr
		}
		if resp.StatusCode != http.StatusNotFound {
			return resp, nil
		}
	}

	if d.hasShell() {
		return d.dispatchShell(req, path, true)
	}

	return nil, apperrors.NotFound("route")
}

func (d *Dispatcher) tryVHost(req *http.Request, path string) (*http.Response, *apperrors.AppError, bool) {
	match := d.VHosts.Resolve(req.Host)
	if match == nil {
		return nil, nil, false
	}
	if match.PathPrefix != "" && !strings.HasPrefix(path, match.PathPrefix) {
		return nil, nil, false
	}
	req.Header.Set("x-base", "/")
	if match.Tenant != "" {
		req.Header.Set("x-vhost-tenant", match.Tenant)
	}
	dir, ok := d.Apps.Resolve(match.App)
	if !ok {
		aerr := apperrors.NotFound("app " + match.App)
		return nil, aerr, true
	}
	resp, aerr := d.dispatchDir(req.Context(), dir, req)
	return resp, aerr, true
}

func (d *Dispatcher) shellDescriptor() *plugins.Descriptor {
	for _, desc := range d.Registry.Descriptors() {
		if desc.Name == ShellPluginName && desc.ServedAppDir != "" {
			return desc
		}
	}
	return nil
}

func (d *Dispatcher) hasShell() bool {
	return d.shellDescriptor() != nil
}

// shellClaims reports whether a top-level navigation to path should be
// preempted straight to the shell, ahead of the usual plugin/worker
// resolution. A path is the shell's own (it falls under its base, or under
// no other registered plugin base or worker app) — the shell then renders
// its layout and lets client-side routing take over for paths it doesn't
// itself recognize.
func (d *Dispatcher) shellClaims(req *http.Request, path string) bool {
	shell := d.shellDescriptor()
	if shell == nil {
		return false
	}
	if req.Header.Get("Sec-Fetch-Mode") != "navigate" {
		return false
	}
	if strings.HasPrefix(path, shell.BasePath) {
		return true
	}
	for _, desc := range d.Registry.Descriptors() {
		if desc.Name == shell.Name {
			continue
		}
		if desc.BasePath != "" && strings.HasPrefix(path, desc.BasePath) {
			return false
		}
	}
	if _, ok := d.Apps.Resolve(workerapps.AppNameFromPath(path)); ok {
		return false
	}
	return true
}

func (d *Dispatcher) dispatchShell(req *http.Request, originalPath string, notFound bool) (*http.Response, *apperrors.AppError) {
	shell := d.shellDescriptor()
	req.Header.Set("x-base", shell.BasePath)
	if notFound {
		req.Header.Set("x-not-found", "true")
	} else {
		req.Header.Set("x-fragment-route", originalPath)
	}
	return d.dispatchDir(req.Context(), shell.ServedAppDir, req)
}

func (d *Dispatcher) dispatchPluginRoute(req *http.Request, path string) (*http.Response, bool) {
	for _, desc := range d.Registry.RoutedPlugins() {
		if !strings.HasPrefix(path, desc.BasePath) {
			continue
		}
		engine, ok := d.pluginEngines[desc.Name]
		if !ok {
			return nil, false
		}
		req2 := req.Clone(req.Context())
		req2.URL.Path = relativePath(path, desc.BasePath)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req2)
		return rec.Result(), true
	}
	return nil, false
}

func relativePath(path, basePath string) string {
	rel := strings.TrimPrefix(path, basePath)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

func (d *Dispatcher) dispatchDir(ctx context.Context, dir string, req *http.Request) (*http.Response, *apperrors.AppError) {
	cfg, err := config.LoadWorkerConfig(dir, d.GlobalBodyMax)
	if err != nil {
		return nil, apperrors.InternalServer(err.Error())
	}
	return d.Pool.Dispatch(ctx, dir, cfg, req)
}

func (d *Dispatcher) pluginContext(req *http.Request) *plugins.Context {
	return &plugins.Context{Context: req.Context(), Registry: d.Registry}
}

// runOnRequestChain runs every plugin's onRequest hook in topological
// order. Hook-mutated requests are cumulative (they mutate req in place);
// a hook that returns a Response short-circuits dispatch.
func (d *Dispatcher) runOnRequestChain(req *http.Request) *http.Response {
	pctx := d.pluginContext(req)
	for _, desc := range d.Registry.OrderedHooks(plugins.HookOnRequest) {
		if result := desc.OnRequest(pctx, req); result != nil && result.Response != nil {
			return result.Response
		}
	}
	return nil
}

// runOnResponseChain runs every plugin's onResponse hook, in the same
// (forward, not reversed) topological order as onRequest, per spec §9's
// explicit resolution of that open question.
func (d *Dispatcher) runOnResponseChain(req *http.Request, resp *http.Response) *http.Response {
	pctx := d.pluginContext(req)
	for _, desc := range d.Registry.OrderedHooks(plugins.HookOnResponse) {
		if replaced := desc.OnResponse(pctx, resp); replaced != nil {
			resp = replaced
		}
	}
	return resp
}

func errorHTTPResponse(aerr *apperrors.AppError) *http.Response {
	body, _ := json.Marshal(aerr.ToResponse())
	return &http.Response{
		StatusCode: aerr.StatusCode,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func writeResponse(c *gin.Context, resp *http.Response) {
	if resp == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Status(resp.StatusCode)
	if resp.Body != nil {
		defer resp.Body.Close()
		_, err := io.Copy(c.Writer, resp.Body)
		if err != nil {
			logger.Dispatch().Warn().Err(err).Msg("failed to stream response body")
		}
	}
}
