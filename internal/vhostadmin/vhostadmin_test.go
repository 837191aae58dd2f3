package vhostadmin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/internal/vhost"
)

func newTestPlugin() *Plugin {
	return &Plugin{table: vhost.NewTable(nil)}
}

func TestUpsertThenResolveReflectsNewHost(t *testing.T) {
	p := newTestPlugin()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	p.routes(engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/hosts/example.com", strings.NewReader(`{"app":"homepage"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	match := p.table.Resolve("example.com")
	require.NotNil(t, match)
	assert.Equal(t, "homepage", match.App)
}

func TestDeleteRemovesHost(t *testing.T) {
	p := newTestPlugin()
	p.table.Set("example.com", vhost.Entry{App: "homepage"})
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	p.routes(engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/hosts/example.com", nil)
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Nil(t, p.table.Resolve("example.com"))
}

func TestUpsertRejectsMissingApp(t *testing.T) {
	p := newTestPlugin()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	p.routes(engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/hosts/example.com", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
