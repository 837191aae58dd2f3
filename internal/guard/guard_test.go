package guard

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runCSRF(method, host, origin, internalHeader string) int {
	router := gin.New()
	router.Use(CSRF())
	router.Any("/*path", func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest(method, "http://"+host+"/x", nil)
	req.Host = host
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if internalHeader != "" {
		req.Header.Set(TrustedInternalHeader, internalHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestCSRFPostWithoutOriginRejected(t *testing.T) {
	assert.Equal(t, 403, runCSRF("POST", "localhost", "", ""))
}

func TestCSRFPostWithMatchingOriginAllowed(t *testing.T) {
	assert.Equal(t, 200, runCSRF("POST", "localhost", "http://localhost", ""))
}

func TestCSRFPutWithMismatchedOriginRejected(t *testing.T) {
	assert.Equal(t, 403, runCSRF("PUT", "localhost", "http://evil.com", ""))
}

func TestCSRFPostWithNonHTTPOriginRejected(t *testing.T) {
	assert.Equal(t, 403, runCSRF("POST", "localhost", "file://localhost", ""))
}

func TestCSRFPostWithTrustedInternalHeaderAllowed(t *testing.T) {
	assert.Equal(t, 200, runCSRF("POST", "localhost", "", "true"))
}

func TestCSRFGetWithoutOriginAllowed(t *testing.T) {
	assert.Equal(t, 200, runCSRF("GET", "localhost", "", ""))
}

func TestBodySizeRejectsByContentLength(t *testing.T) {
	router := gin.New()
	router.Use(BodySize(10 << 20))
	router.POST("/x", func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest("POST", "/x", nil)
	req.ContentLength = 1073741824
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 413, w.Code)
}

// TestLimitedReadCloserAbortsOnStreamingOverflow covers the no-Content-Length
// path: a body that never announces its size but exceeds the limit while
// being read must abort with ErrBodyTooLarge rather than being silently
// truncated and forwarded short.
func TestLimitedReadCloserAbortsOnStreamingOverflow(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Repeat("x", 100)))
	limited := LimitedReadCloser(body, 10)

	_, err := io.ReadAll(limited)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))
}

func TestLimitedReadCloserAllowsBodyAtExactlyTheLimit(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Repeat("x", 10)))
	limited := LimitedReadCloser(body, 10)

	data, err := io.ReadAll(limited)
	require.NoError(t, err)
	assert.Len(t, data, 10)
}
