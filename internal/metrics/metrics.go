// Package metrics is a compile-time-registered plugin exposing the worker
// pool's counters (pool.Metrics) as plain JSON (spec's external contract
// is JSON throughout, not Prometheus wire format) plus a streaming
// WebSocket route for live updates, grounded on the teacher's
// internal/websocket/hub.go broadcast pattern.
package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/pool"
)

const pluginName = "metrics"

// Config is the metrics plugin's manifest-derived configuration.
type Config struct {
	BroadcastIntervalStr string        `json:"broadcastInterval"`
	BroadcastInterval    time.Duration `json:"-"`
}

// Plugin streams pool.Metrics snapshots and serves a point-in-time JSON
// view.
type Plugin struct {
	cfg  Config
	pool *pool.Pool
	hub  *hub
	stop chan struct{}
}

func init() {
	plugins.RegisterFactory(pluginName, build)
}

func build() *plugins.Descriptor {
	log := logger.Named(pluginName)
	cfg := Config{BroadcastInterval: 5 * time.Second}
	publicRoutes := config.NewRouteMatcher([]string{"/metrics/api/stats"})
	if _, manifest, ok := config.FindOwnPluginDir(pluginName); ok {
		if err := config.DecodeExtra(manifest.Extra, &cfg); err != nil {
			log.Warn().Err(err).Msg("failed to decode metrics plugin config, using defaults")
		}
		if !manifest.PublicRoutes.Empty() {
			publicRoutes = manifest.PublicRoutes
		}
	}
	if d, err := time.ParseDuration(cfg.BroadcastIntervalStr); err == nil {
		cfg.BroadcastInterval = d
	} else if cfg.BroadcastInterval == 0 {
		cfg.BroadcastInterval = 5 * time.Second
	}

	p := &Plugin{cfg: cfg, hub: newHub(), stop: make(chan struct{})}

	return &plugins.Descriptor{
		Name:                pluginName,
		Dependencies:        []string{"core"},
		BasePath:            "/metrics",
		Routes:              p.routes,
		OnInit:              p.onInit,
		OnShutdown:          p.onShutdown,
		ServerFetch:         p.serverFetch,
		PublicRoutePatterns: publicRoutes,
	}
}

func (p *Plugin) onInit(ctx *plugins.Context) (any, error) {
	if svc, ok := ctx.Registry.GetService("pool").(*pool.Pool); ok {
		p.pool = svc
	}
	go p.hub.run()
	go p.broadcastLoop()
	return nil, nil
}

func (p *Plugin) onShutdown(_ *plugins.Context) error {
	close(p.stop)
	p.hub.closeAll()
	return nil
}

func (p *Plugin) broadcastLoop() {
	ticker := time.NewTicker(p.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.pool == nil {
				continue
			}
			snapshot := p.pool.Metrics()
			data, err := json.Marshal(snapshot)
			if err != nil {
				continue
			}
			p.hub.broadcast(data)
		}
	}
}

// serverFetch serves the stats snapshot directly, ahead of the global
// onRequest/auth chain, since it is this plugin's one declared public route.
// Any other path or method falls through to ordinary routing.
func (p *Plugin) serverFetch(_ *plugins.Context, req *http.Request) *plugins.HookResult {
	if req.Method != http.MethodGet || req.URL.Path != "/metrics/api/stats" {
		return nil
	}
	snapshot := pool.Metrics{}
	if p.pool != nil {
		snapshot = p.pool.Metrics()
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil
	}
	return &plugins.HookResult{Response: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(data)),
	}}
}

func (p *Plugin) routes(router gin.IRoutes) {
	router.GET("/api/stats", p.stats)
	router.GET("/ws", p.serveWS)
}

func (p *Plugin) stats(c *gin.Context) {
	if p.pool == nil {
		c.JSON(http.StatusOK, pool.Metrics{})
		return
	}
	c.JSON(http.StatusOK, p.pool.Metrics())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (p *Plugin) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Named(pluginName).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	p.hub.serveClient(conn)
}

// hub fans metrics snapshots out to connected WebSocket clients, mirroring
// the teacher's register/unregister/broadcast channel pattern.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcastC chan []byte
}

func newHub() *hub {
	return &hub{
		clients:    map[*websocket.Conn]struct{}{},
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcastC: make(chan []byte, 16),
	}
}

func (h *hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcastC:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *hub) broadcast(msg []byte) {
	select {
	case h.broadcastC <- msg:
	default:
	}
}

func (h *hub) serveClient(conn *websocket.Conn) {
	h.register <- conn
	defer func() { h.unregister <- conn }()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
}
