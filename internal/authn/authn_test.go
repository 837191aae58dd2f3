package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wharfd/wharfd/internal/plugins"
)

func newTestPlugin() *Plugin {
	return &Plugin{cfg: Config{JWTSecret: "test-secret-at-least-32-bytes-long", Issuer: "wharfd-test", TokenDuration: time.Hour}}
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	p := newTestPlugin()

	token, err := p.issueToken("user-1", []string{"admin"}, []string{"team-a"})
	require.NoError(t, err)

	subject, err := p.validateLocalJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject.ID)
	assert.Equal(t, []string{"admin"}, subject.Roles)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	p := newTestPlugin()
	token, err := p.issueToken("user-1", nil, nil)
	require.NoError(t, err)

	other := newTestPlugin()
	other.cfg.JWTSecret = "different-secret-also-32-bytes!!"
	_, err = other.validateLocalJWT(token)
	assert.Error(t, err)
}

func TestOnRequestInjectsIdentityHeader(t *testing.T) {
	p := newTestPlugin()
	token, err := p.issueToken("user-2", []string{"user"}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	result := p.onRequest(&plugins.Context{}, req)
	assert.Nil(t, result)
	assert.Contains(t, req.Header.Get("X-Identity"), `"user-2"`)
}

func TestOnRequestIgnoresMissingToken(t *testing.T) {
	p := newTestPlugin()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	result := p.onRequest(&plugins.Context{}, req)
	assert.Nil(t, result)
	assert.Empty(t, req.Header.Get("X-Identity"))
}

func TestVerifyRootKeyAgainstBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	require.NoError(t, err)

	p := &Plugin{cfg: Config{RootKeyBcryptHash: string(hash)}}
	assert.True(t, p.verifyRootKey("correct-horse"))
	assert.False(t, p.verifyRootKey("wrong"))
}

func TestVerifyTOTPAgainstGeneratedCode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "wharfd", AccountName: "user@example.com"})
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	assert.True(t, verifyTOTP(key.Secret(), code))
}
