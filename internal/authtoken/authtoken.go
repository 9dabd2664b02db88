// Package authtoken implements the signed short-lived WebSocket token
// scheme (§9a): a bare WebSocket client cannot set a custom header, so the
// one route that needs auth without a header carries a signed, expiring
// token as a query parameter instead. Adapted from the teacher's
// CDPSigningPayload / CDPTokenClaims JWT pattern.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime issued by Issue when the caller does not
// override it.
const DefaultTTL = 10 * time.Minute

var (
	// ErrInvalid is returned when the token is malformed or its signature
	// does not verify.
	ErrInvalid = errors.New("authtoken: invalid token")
	// ErrExpired is returned when the token's exp claim has passed.
	ErrExpired = errors.New("authtoken: token expired")
	// ErrBrowserMismatch is returned when the token's browser_id claim does
	// not match the browser_id in the request path.
	ErrBrowserMismatch = errors.New("authtoken: browser_id mismatch")
)

// claims extends jwt.RegisteredClaims with the one custom field the WS
// handler needs to check: which browser this token authorizes.
type claims struct {
	BrowserID string `json:"browser_id"`
	jwt.RegisteredClaims
}

// Signer issues and verifies browser-scoped WS tokens using a single HMAC
// secret, configured from BROWSERSTATION_API_KEY (or its Secrets-Manager
// equivalent).
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner constructs a Signer. ttl defaults to DefaultTTL when zero.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token authorizing WebSocket access to browserID
// until the configured TTL elapses.
func (s *Signer) Issue(browserID string) (string, error) {
	now := time.Now()
	c := claims{
		BrowserID: browserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("authtoken: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, expiry, and that its browser_id
// claim matches browserID. Callers (the WS handler) treat any error as
// TokenInvalid/TokenExpired and close(1008) after completing the handshake.
func (s *Signer) Verify(token, browserID string) error {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method)
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return ErrInvalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return ErrInvalid
	}
	if c.BrowserID != browserID {
		return ErrBrowserMismatch
	}
	return nil
}
