// Package authn is a compile-time-registered plugin that authenticates
// incoming requests (local JWT or, when configured, an upstream OIDC
// provider's token) and injects the X-Identity header the authz PEP later
// consumes. Grounded on the teacher's internal/auth/jwt.go and oidc.go.
package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/plugins"
	"github.com/wharfd/wharfd/internal/policy"
)

const pluginName = "authn"

// Config is the authn plugin's manifest-derived configuration.
type Config struct {
	JWTSecret     string        `json:"jwtSecret"`
	Issuer        string        `json:"issuer"`
	TokenDuration time.Duration `json:"-"`
	TokenDurationStr string     `json:"tokenDuration"`

	OIDCProviderURL  string   `json:"oidcProviderURL"`
	OIDCClientID     string   `json:"oidcClientID"`
	OIDCClientSecret string   `json:"oidcClientSecret"`
	OIDCRedirectURL  string   `json:"oidcRedirectURL"`
	OIDCScopes       []string `json:"oidcScopes"`

	RootKeyBcryptHash string `json:"rootKeyBcryptHash"`
}

// Claims is the custom JWT payload, mirroring the teacher's shape minus the
// fields the spec's identity model doesn't carry.
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// Plugin issues and validates identity for incoming requests.
type Plugin struct {
	cfg      Config
	oidcAuth *oidcAuthenticator
}

func init() {
	plugins.RegisterFactory(pluginName, build)
}

func build() *plugins.Descriptor {
	log := logger.Named(pluginName)
	cfg := Config{Issuer: "wharfd", TokenDuration: 24 * time.Hour}
	publicRoutes := config.NewRouteMatcher([]string{"/authn/api/login"})

	if _, manifest, ok := config.FindOwnPluginDir(pluginName); ok {
		if err := config.DecodeExtra(manifest.Extra, &cfg); err != nil {
			log.Warn().Err(err).Msg("failed to decode authn plugin config, using defaults")
		}
		if !manifest.PublicRoutes.Empty() {
			publicRoutes = manifest.PublicRoutes
		}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "wharfd"
	}
	if d, err := time.ParseDuration(cfg.TokenDurationStr); err == nil {
		cfg.TokenDuration = d
	} else if cfg.TokenDuration == 0 {
		cfg.TokenDuration = 24 * time.Hour
	}

	p := &Plugin{cfg: cfg}

	if cfg.OIDCProviderURL != "" {
		auth, err := newOIDCAuthenticator(context.Background(), cfg)
		if err != nil {
			log.Warn().Err(err).Msg("OIDC authenticator unavailable, falling back to local JWT only")
		} else {
			p.oidcAuth = auth
		}
	}

	return &plugins.Descriptor{
		Name:                pluginName,
		BasePath:            "/authn",
		Routes:              p.routes,
		OnRequest:           p.onRequest,
		PublicRoutePatterns: publicRoutes,
	}
}

// onRequest resolves the caller's identity from a Bearer token (local JWT,
// or an OIDC-issued one when configured) and sets X-Identity as a JSON
// policy.Subject for authz to consume. No token means no identity header:
// authz's default-deny then applies unless a policy permits anonymous
// access.
func (p *Plugin) onRequest(_ *plugins.Context, req *http.Request) *plugins.HookResult {
	token := bearerToken(req)
	if token == "" {
		return nil
	}

	subject, err := p.validate(req.Context(), token)
	if err != nil {
		logger.Named(pluginName).Debug().Err(err).Msg("token validation failed")
		return nil
	}

	data, err := json.Marshal(subject)
	if err != nil {
		return nil
	}
	req.Header.Set("X-Identity", string(data))
	return nil
}

func (p *Plugin) validate(ctx context.Context, token string) (policy.Subject, error) {
	if p.oidcAuth != nil {
		if subject, err := p.oidcAuth.verify(ctx, token); err == nil {
			return subject, nil
		}
	}
	return p.validateLocalJWT(token)
}

func (p *Plugin) validateLocalJWT(tokenString string) (policy.Subject, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(p.cfg.JWTSecret), nil
	}, jwt.WithIssuer(p.cfg.Issuer))
	if err != nil || !parsed.Valid {
		return policy.Subject{}, fmt.Errorf("authn: invalid token: %w", err)
	}
	return policy.Subject{ID: claims.UserID, Roles: claims.Roles, Groups: claims.Groups}, nil
}

// issueToken signs a new local JWT, used by the login route.
func (p *Plugin) issueToken(userID string, roles, groups []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Roles:  roles,
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.TokenDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.cfg.JWTSecret))
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// verifyRootKey checks a bootstrap admin credential against the configured
// bcrypt hash, mirroring the teacher's golang.org/x/crypto bcrypt use for
// password verification.
func (p *Plugin) verifyRootKey(candidate string) bool {
	if p.cfg.RootKeyBcryptHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.cfg.RootKeyBcryptHash), []byte(candidate)) == nil
}

// verifyTOTP checks a step-up MFA code against a user's base32 secret.
func verifyTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

type oidcAuthenticator struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

func newOIDCAuthenticator(ctx context.Context, cfg Config) (*oidcAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDCProviderURL)
	if err != nil {
		return nil, fmt.Errorf("authn: oidc discovery: %w", err)
	}
	scopes := cfg.OIDCScopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &oidcAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
		oauth2: &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

func (a *oidcAuthenticator) verify(ctx context.Context, rawToken string) (policy.Subject, error) {
	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return policy.Subject{}, err
	}
	var claims struct {
		Subject string   `json:"sub"`
		Roles   []string `json:"roles"`
		Groups  []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return policy.Subject{}, err
	}
	return policy.Subject{ID: claims.Subject, Roles: claims.Roles, Groups: claims.Groups}, nil
}
