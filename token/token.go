// Package token issues and validates the signed session tokens handed to
// agents after login.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a session token stays valid.
const DefaultTTL = 30 * 24 * time.Hour

const bearerPrefix = "Bearer "

var ErrNoSecret = errors.New("token signing secret is not configured")

var supportedAlgs = []string{jwt.SigningMethodHS256.Alg()}

// Claims is the identity carried inside a session token.
type Claims struct {
	AgentID string
	Name    string
}

type sessionClaims struct {
	jwt.RegisteredClaims

	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

type Config struct {
	// HMAC secret; required
	Secret []byte
	// zero means DefaultTTL
	TTL time.Duration
	// clock override, mostly for tests
	Now func() time.Time
}

// Issuer signs and verifies session tokens with a single process-wide secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	iss := &Issuer{
		secret: cfg.Secret,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}
	if iss.ttl <= 0 {
		iss.ttl = DefaultTTL
	}
	if iss.now == nil {
		iss.now = time.Now
	}
	return iss, nil
}

// GenerateSecret returns 32 random bytes, for use when no secret has been
// configured outside of production.
func GenerateSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (i *Issuer) Sign(c Claims) (string, error) {
	now := i.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.AgentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		AgentID: c.AgentID,
		Name:    c.Name,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return s, nil
}

// Verify returns the claims of a valid, unexpired token. Any failure (bad
// signature, expiry, wrong algorithm, garbage input) yields false.
func (i *Issuer) Verify(tokenString string) (*Claims, bool) {
	if tokenString == "" {
		return nil, false
	}
	p := jwt.NewParser(
		jwt.WithValidMethods(supportedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	tok, err := p.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, false
	}
	sc, ok := tok.Claims.(*sessionClaims)
	if !ok || sc.AgentID == "" {
		return nil, false
	}
	return &Claims{AgentID: sc.AgentID, Name: sc.Name}, true
}

// BearerToken extracts the token from an Authorization header value. Returns
// empty string if the header does not use the Bearer scheme.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return header[len(bearerPrefix):]
}

func FromRequest(req *http.Request) string {
	return BearerToken(req.Header.Get("Authorization"))
}
