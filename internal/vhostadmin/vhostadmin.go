// Package vhostadmin is a compile-time-registered plugin exposing CRUD over
// the virtual-host table (spec §4.5 defines the matcher; this supplies the
// runtime-mutation surface the spec leaves unspecified).
package vhostadmin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wharfd/wharfd/internal/errors"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/vhost"
)

const pluginName = "vhostadmin"

// Plugin exposes CRUD over a shared *vhost.Table, published as a core
// service by the runtime.
type Plugin struct {
	table *vhost.Table
}

func init() {
	plugins.RegisterFactory(pluginName, build)
}

func build() *plugins.Descriptor {
	p := &Plugin{}
	return &plugins.Descriptor{
		Name:         pluginName,
		Dependencies: []string{"core"},
		BasePath:     "/vhostadmin",
		Routes:       p.routes,
		OnInit:       p.onInit,
	}
}

func (p *Plugin) onInit(ctx *plugins.Context) (any, error) {
	if svc, ok := ctx.Registry.GetService("vhosts").(*vhost.Table); ok {
		p.table = svc
	}
	return nil, nil
}

func (p *Plugin) routes(router gin.IRoutes) {
	router.GET("/api/hosts", p.list)
	router.PUT("/api/hosts/*pattern", p.upsert)
	router.DELETE("/api/hosts/*pattern", p.remove)
}

func (p *Plugin) list(c *gin.Context) {
	if p.table == nil {
		c.JSON(http.StatusOK, []string{})
		return
	}
	c.JSON(http.StatusOK, p.table.Patterns())
}

type upsertRequest struct {
	App        string `json:"app" binding:"required"`
	PathPrefix string `json:"pathPrefix"`
}

func (p *Plugin) upsert(c *gin.Context) {
	pattern := normalizePattern(c.Param("pattern"))
	if pattern == "" {
		writeAppError(c, apperrors.ValidationError("host pattern is required"))
		return
	}
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if p.table == nil {
		writeAppError(c, apperrors.InternalServer("vhost table unavailable"))
		return
	}
	p.table.Set(pattern, vhost.Entry{App: req.App, PathPrefix: req.PathPrefix})
	c.Status(http.StatusNoContent)
}

func (p *Plugin) remove(c *gin.Context) {
	pattern := normalizePattern(c.Param("pattern"))
	if p.table == nil {
		writeAppError(c, apperrors.InternalServer("vhost table unavailable"))
		return
	}
	p.table.Delete(pattern)
	c.Status(http.StatusNoContent)
}

func normalizePattern(raw string) string {
	if len(raw) > 0 && raw[0] == '/' {
		return raw[1:]
	}
	return raw
}

func writeAppError(c *gin.Context, aerr *apperrors.AppError) {
	c.JSON(aerr.StatusCode, aerr.ToResponse())
}
