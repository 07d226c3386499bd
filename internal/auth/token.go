package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthInvalid is returned for every bearer token failure. Callers
	// must not be able to tell a bad signature from an expired token.
	ErrAuthInvalid = errors.New("authentication failed")

	ErrMissingSecret = errors.New("jwt secret must not be empty")
)

// Claims are the token claims accepted by the control plane
type Claims struct {
	jwt.RegisteredClaims
}

// Identity is the authenticated caller
type Identity struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// TokenAuthenticator issues and verifies HS256 bearer tokens
type TokenAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenAuthenticator creates an authenticator bound to one secret and issuer
func NewTokenAuthenticator(secret, issuer string) (*TokenAuthenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	a := &TokenAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a, nil
}

// Issuer returns the expected issuer
func (a *TokenAuthenticator) Issuer() string {
	return a.issuer
}

// Issue signs a token for subject that expires after ttl
func (a *TokenAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a raw token string. Only HS256 is accepted regardless of
// the algorithm the token header claims.
func (a *TokenAuthenticator) Verify(raw string) (*Identity, error) {
	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrAuthInvalid
	}

	return &Identity{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
