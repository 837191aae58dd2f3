// Command wharfd is the process entrypoint: it loads the runtime config
// from the environment, builds the Runtime (pool, plugin registry,
// dispatcher), wires the gin entry-point middleware chain, and serves HTTP
// until a signal asks it to stop, at which point it drains in the order
// spec §5 describes (HTTP server, then pool, then plugins).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/wharfd/wharfd/internal/config"
	apperrors "github.com/wharfd/wharfd/internal/errors"
	"github.com/wharfd/wharfd/internal/guard"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/runtime"

	// Blank-imported so each plugin's init() registers its Factory with the
	// compile-time registration table in internal/plugins before main runs.
	_ "github.com/wharfd/wharfd/internal/admission"
	_ "github.com/wharfd/wharfd/internal/authn"
	_ "github.com/wharfd/wharfd/internal/authz"
	_ "github.com/wharfd/wharfd/internal/metrics"
	_ "github.com/wharfd/wharfd/internal/shellapp"
	_ "github.com/wharfd/wharfd/internal/vhostadmin"
)

func main() {
	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "wharfd: loading config:", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.PrettyLogs)
	log := logger.HTTP()
	log.Info().Str("nodeEnv", cfg.NodeEnv).Int("poolSize", cfg.PoolSize).Msg("starting wharfd")

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	rt, err := runtime.Build(bootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build runtime")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(apperrors.Recovery(log))
	router.Use(requestLogger(log))
	router.Use(guard.CSRF())
	router.Use(guard.BodySize(cfg.GlobalBodySizeMax))
	router.Use(apperrors.Handler(log))
	router.NoRoute(rt.Dispatcher.Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal, draining")

	shutdownTimeout := 30 * time.Second
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			shutdownTimeout = d
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Msg("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	} else {
		log.Info().Msg("http server stopped gracefully")
	}

	rt.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}

// requestLogger logs one structured line per request: method, path, status,
// duration, and client IP, mirroring the teacher's structured request
// logger field set without its per-request user/session enrichment (wharfd
// has no session concept of its own; that lives in the authn plugin).
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		ev := log.Info()
		if status >= 500 {
			ev = log.Error()
		} else if status >= 400 {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("clientIp", c.ClientIP()).
			Str("requestId", c.GetString("requestId")).
			Msg("request handled")
	}
}
