package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global base logger. Initialize must run before any component
// logger is requested.
var Log zerolog.Logger

// Initialize configures the global logger.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "wharfd").
		Logger()

	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// GetLogger returns the global logger.
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// Pool returns the worker pool's component logger.
func Pool() zerolog.Logger { return component("pool") }

// Dispatch returns the main dispatcher's component logger.
func Dispatch() zerolog.Logger { return component("dispatch") }

// Policy returns the PDP/PAP's component logger.
func Policy() zerolog.Logger { return component("policy") }

// Plugins returns the plugin registry's component logger.
func Plugins() zerolog.Logger { return component("plugins") }

// RateLimit returns the rate limiter's component logger.
func RateLimit() zerolog.Logger { return component("ratelimit") }

// Guard returns the CSRF/body-size guard's component logger.
func Guard() zerolog.Logger { return component("guard") }

// VHost returns the virtual-host matcher's component logger.
func VHost() zerolog.Logger { return component("vhost") }

// HTTP returns the top-level HTTP server's component logger.
func HTTP() zerolog.Logger { return component("http") }

// Named returns a component logger for an arbitrary name, for compile-time
// plugins that don't warrant their own dedicated accessor.
func Named(name string) zerolog.Logger { return component(name) }
