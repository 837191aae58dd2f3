// Package guard implements the entry-point gates that run before any
// routing decision: body-size enforcement and CSRF origin checking, per
// spec §4.7. This is a deliberate departure from the teacher's
// double-submit-cookie CSRF implementation (internal/middleware/csrf.go):
// the spec's algorithm is Origin/Host equality with a trusted-transport
// escape hatch, not a cookie/header pair, so the check is rebuilt from
// scratch in the teacher's verbose-doc-comment idiom rather than adapted
// line-by-line.
package guard

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wharfd/wharfd/internal/errors"
	"github.com/wharfd/wharfd/internal/logger"
)

// ErrBodyTooLarge is returned from a LimitedReadCloser's Read once the
// stream exceeds its configured limit, for a body with no (or an
// understated) Content-Length. Callers that forward the body onward (e.g.
// the pool's worker transport) should check errors.Is against this to
// surface the spec's BODY_TOO_LARGE code instead of a generic transport
// failure.
var ErrBodyTooLarge = errors.New("guard: request body exceeds the configured limit")

// TrustedInternalHeader is the header a trusted internal caller (e.g. an
// edge proxy terminating TLS in front of this process) sets to bypass the
// Origin check entirely.
const TrustedInternalHeader = "X-Buntime-Internal"

var stateChangingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// CSRF returns a gin middleware enforcing spec §4.7's origin-equality check.
// GET/HEAD requests always bypass. State-changing methods require either
// the trusted-internal header or an Origin header whose scheme is http/https,
// carries no embedded credentials, and whose host equals the request's Host
// header.
func CSRF() gin.HandlerFunc {
	log := logger.Guard()
	return func(c *gin.Context) {
		if !stateChangingMethods[c.Request.Method] {
			c.Next()
			return
		}

		if c.GetHeader(TrustedInternalHeader) != "" {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" {
			log.Warn().Str("path", c.Request.URL.Path).Msg("csrf: missing origin on state-changing request")
			apperrors.Abort(c, apperrors.Forbidden("missing Origin header"))
			return
		}

		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
			log.Warn().Str("origin", origin).Msg("csrf: malformed or non-http origin")
			apperrors.Abort(c, apperrors.Forbidden("invalid Origin header"))
			return
		}

		if u.Host != c.Request.Host {
			log.Warn().Str("origin", origin).Str("host", c.Request.Host).Msg("csrf: origin/host mismatch")
			apperrors.Abort(c, apperrors.Forbidden("origin does not match host"))
			return
		}

		c.Next()
	}
}

// BodySize returns a gin middleware enforcing a maximum request body size.
// When Content-Length is present and exceeds the limit, the request is
// rejected without reading the body at all. Otherwise the body reader is
// wrapped so an unannounced oversized body is caught while streaming.
func BodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			apperrors.Abort(c, apperrors.BodyTooLarge(limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()

		if len(c.Errors) > 0 {
			if _, isMaxBytesErr := c.Errors.Last().Err.(*http.MaxBytesError); isMaxBytesErr {
				apperrors.Abort(c, apperrors.BodyTooLarge(limit))
			}
		}
	}
}

// LimitedReader wraps r so at most limit+1 bytes can be read; it returns no
// error of its own. A caller that sees more than limit bytes knows the body
// was over the limit (limitedReadCloser below turns that into
// ErrBodyTooLarge).
func LimitedReader(r io.Reader, limit int64) io.Reader {
	return io.LimitReader(r, limit+1)
}

// limitedReadCloser streams at most limit+1 bytes from the wrapped body
// (the same +1 trick as LimitedReader) so it can tell "read exactly limit
// bytes then hit EOF" apart from "there was at least one more byte beyond
// limit" and return ErrBodyTooLarge instead of silently truncating.
type limitedReadCloser struct {
	r     io.Reader
	rc    io.Closer
	limit int64
	read  int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.rc.Close()
}

// LimitedReadCloser wraps an io.ReadCloser body so the pool's forwarding
// path enforces maxBodySizeBytes by counting bytes while streaming and
// aborting with ErrBodyTooLarge on overflow, rather than trusting
// Content-Length alone or silently truncating a chunked/unannounced body.
func LimitedReadCloser(rc io.ReadCloser, limit int64) io.ReadCloser {
	return &limitedReadCloser{r: LimitedReader(rc, limit), rc: rc, limit: limit}
}
