package admission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/ratelimit"
)

func TestOnRequestAllowsWithinCapacity(t *testing.T) {
	p := &Plugin{limiter: ratelimit.New(2, 60)}
	defer p.limiter.Stop()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "1.2.3.4:5555"
	pctx := &plugins.Context{Context: context.Background()}

	assert.Nil(t, p.onRequest(pctx, req))
	assert.Nil(t, p.onRequest(pctx, req))
}

func TestOnRequestDeniesOverCapacity(t *testing.T) {
	p := &Plugin{limiter: ratelimit.New(1, 60)}
	defer p.limiter.Stop()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "1.2.3.4:5555"
	pctx := &plugins.Context{Context: context.Background()}

	require.Nil(t, p.onRequest(pctx, req))
	result := p.onRequest(pctx, req)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusTooManyRequests, result.Response.StatusCode)
}

func TestClientKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "1.2.3.4:5555"
	req.Header.Set("x-forwarded-for", "9.9.9.9")
	assert.Equal(t, "9.9.9.9", clientKey(req))
}
