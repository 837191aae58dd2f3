package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/internal/pool"
)

func TestStatsReturnsZeroValueMetricsWithoutPool(t *testing.T) {
	p := &Plugin{hub: newHub(), stop: make(chan struct{})}
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	p.routes(engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snapshot pool.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(0), snapshot.RequestCount)
}

func TestServerFetchServesStatsDirectly(t *testing.T) {
	p := &Plugin{hub: newHub(), stop: make(chan struct{})}
	req := httptest.NewRequest(http.MethodGet, "/metrics/api/stats", nil)

	result := p.serverFetch(nil, req)
	require.NotNil(t, result)
	require.NotNil(t, result.Response)
	assert.Equal(t, http.StatusOK, result.Response.StatusCode)

	var snapshot pool.Metrics
	require.NoError(t, json.NewDecoder(result.Response.Body).Decode(&snapshot))
	assert.Equal(t, int64(0), snapshot.RequestCount)
}

func TestServerFetchIgnoresOtherPathsAndMethods(t *testing.T) {
	p := &Plugin{hub: newHub(), stop: make(chan struct{})}

	other := httptest.NewRequest(http.MethodGet, "/metrics/ws", nil)
	assert.Nil(t, p.serverFetch(nil, other))

	wrongMethod := httptest.NewRequest(http.MethodPost, "/metrics/api/stats", nil)
	assert.Nil(t, p.serverFetch(nil, wrongMethod))
}

func TestHubBroadcastDropsWhenChannelFull(t *testing.T) {
	h := newHub()
	for i := 0; i < 16; i++ {
		h.broadcast([]byte("x"))
	}
	// 17th send must not block: broadcast is best-effort.
	h.broadcast([]byte("overflow"))
	assert.Len(t, h.broadcastC, 16)
}
