package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"prism-board/internal/clock"
)

const (
	defaultKeyCacheTTL = 15 * time.Minute
	defaultLeeway      = time.Minute
)

var (
	errNoVerifier        = errors.New("either a JWKS or a shared secret is required")
	errTokenExpired      = errors.New("token expired")
	errTokenNotYetValid  = errors.New("token not valid yet")
	errTokenAudience     = errors.New("invalid audience")
	errTokenIssuer       = errors.New("invalid issuer")
	errTokenMissingSub   = errors.New("missing sub")
	errEmptySigningInput = errors.New("secret and user id are required")
)

// Identity is what a verified token says about the caller. Email and Name
// seed the user record on first login.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// AuthConfig selects how bearer tokens are verified. A shared secret switches
// from RS256 against the JWKS to HS256.
type AuthConfig struct {
	JWKS         *keyfunc.JWKS
	SharedSecret []byte
	Audience     string
	Issuer       string
	KeyCacheTTL  time.Duration
	Leeway       time.Duration
	Clock        clock.Clock
}

// Auth turns Authorization headers into identities.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser
	keys   sync.Map
}

type cachedKey struct {
	key     any
	expires time.Time
}

// tokenClaims are the registered claims plus the profile claims identity
// providers add to access tokens.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.JWKS == nil && len(cfg.SharedSecret) == 0 {
		return nil, errNoVerifier
	}
	if cfg.KeyCacheTTL <= 0 {
		cfg.KeyCacheTTL = defaultKeyCacheTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = defaultLeeway
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	method := "RS256"
	if len(cfg.SharedSecret) > 0 {
		method = "HS256"
	}
	// Time based claims are checked in validate with the configured leeway.
	parser := jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation())
	return &Auth{cfg: cfg, parser: parser}, nil
}

// Authenticate verifies the bearer token in header.
func (a *Auth) Authenticate(header string) (Identity, error) {
	raw, err := bearerToken(header)
	if err != nil {
		return Identity{}, err
	}
	var claims tokenClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, a.verificationKey); err != nil {
		return Identity{}, err
	}
	if err := a.validate(&claims); err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

func (a *Auth) validate(c *tokenClaims) error {
	now := a.cfg.Clock.Now()
	switch {
	case !c.VerifyExpiresAt(now.Add(-a.cfg.Leeway), true):
		return errTokenExpired
	case !c.VerifyNotBefore(now.Add(a.cfg.Leeway), false), !c.VerifyIssuedAt(now.Add(a.cfg.Leeway), false):
		return errTokenNotYetValid
	case a.cfg.Audience != "" && !c.VerifyAudience(a.cfg.Audience, true):
		return errTokenAudience
	case a.cfg.Issuer != "" && !c.VerifyIssuer(a.cfg.Issuer, true):
		return errTokenIssuer
	case c.Subject == "":
		return errTokenMissingSub
	}
	return nil
}

// verificationKey resolves the key for a token. JWKS keys are cached per kid
// so a key rotation is picked up after KeyCacheTTL.
func (a *Auth) verificationKey(t *jwt.Token) (any, error) {
	if len(a.cfg.SharedSecret) > 0 {
		return a.cfg.SharedSecret, nil
	}
	now := a.cfg.Clock.Now()
	kid, _ := t.Header["kid"].(string)
	if kid != "" {
		if v, ok := a.keys.Load(kid); ok {
			if k := v.(cachedKey); now.Before(k.expires) {
				return k.key, nil
			}
			a.keys.Delete(kid)
		}
	}
	key, err := a.cfg.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		a.keys.Store(kid, cachedKey{key: key, expires: now.Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}

// SignToken issues an HS256 token for id, valid for ttl. The gen-token
// command and tests use it against a server running with a shared secret.
func SignToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 || id.UserID == "" {
		return "", errEmptySigningInput
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: id.Email,
		Name:  id.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
