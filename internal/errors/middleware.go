package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler turns the last error attached to the gin context into the wire
// response shape. Handlers that record an error with c.Error (as Abort does)
// have it rendered here; this runs once per request after the chain unwinds.
func Handler(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		if appErr, ok := err.Err.(*AppError); ok {
			if appErr.StatusCode >= 500 {
				log.Error().Str("code", appErr.Code).Str("message", appErr.Message).Msg("request failed")
			} else {
				log.Warn().Str("code", appErr.Code).Str("message", appErr.Message).Msg("request rejected")
			}
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}

		log.Error().Err(err.Err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Code:    CodeInternalServer,
			Message: "an unexpected error occurred",
		})
	}
}

// Recovery recovers from a panic in any downstream handler, logs it with the
// request id, and responds 500 without taking down the process. Per spec, a
// plugin hook panic is isolated to the offending request.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("requestId", c.GetString("requestId")).
					Msg("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
					Success: false,
					Code:    CodeInternalServer,
					Message: "an unexpected error occurred",
				})
			}
		}()
		c.Next()
	}
}

// Abort aborts the request immediately with the error's wire response.
func Abort(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
