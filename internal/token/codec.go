// Package token signs and verifies the two stateless token shapes the
// service issues: short-lived access tokens and pending-registration tokens.
// Both are RS256 JWTs; the private key is required for signing while
// verification needs only the public key.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultPendingTTL = time.Hour

	typeAccess  = "access"
	typePending = "pending_registration"
)

// ErrInvalidToken covers every verification failure: bad signature, expiry,
// malformed input, or wrong token type. Callers never learn which.
var ErrInvalidToken = errors.New("token: invalid or expired token")

// AccessClaims is the payload carried by an access token.
type AccessClaims struct {
	UserID   int64  `json:"uid"`
	PublicID string `json:"pid"`
	Username string `json:"username,omitempty"`
	Type     string `json:"token_type"`
	jwt.RegisteredClaims
}

// PendingClaims represents a verified external identity that has no account
// yet. It authorizes only registration completion, never resource access.
type PendingClaims struct {
	Provider string `json:"provider"`
	Email    string `json:"email"`
	Type     string `json:"token_type"`
	jwt.RegisteredClaims
}

// Codec holds immutable key material and issuance policy. Construct once at
// startup and inject; key parse failure must abort the process.
type Codec struct {
	privateKey any
	publicKey  any
	issuer     string
	accessTTL  time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec) error

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(c *Codec) error {
		if ttl > 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithPendingTTL configures pending-registration token lifetime.
func WithPendingTTL(ttl time.Duration) Option {
	return func(c *Codec) error {
		if ttl > 0 {
			c.pendingTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec parses the PEM key pair and constructs a Codec. Both keys are
// required; absence is a configuration error, not a runtime fallback.
func NewCodec(privatePEM, publicPEM []byte, opts ...Option) (*Codec, error) {
	if len(privatePEM) == 0 || len(publicPEM) == 0 {
		return nil, errors.New("token: both private and public keys are required")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("token: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("token: parse public key: %w", err)
	}
	c := &Codec{
		privateKey: priv,
		publicKey:  pub,
		issuer:     "inkwell",
		accessTTL:  defaultAccessTTL,
		pendingTTL: defaultPendingTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AccessTTL reports the configured access token lifetime so the transport
// layer can set a matching cookie max-age.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// PendingTTL reports the pending-registration token lifetime.
func (c *Codec) PendingTTL() time.Duration { return c.pendingTTL }

// SignAccess issues an access token for the given user.
func (c *Codec) SignAccess(userID int64, publicID, username string) (string, error) {
	now := c.now().UTC()
	claims := AccessClaims{
		UserID:   userID,
		PublicID: publicID,
		Username: username,
		Type:     typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   publicID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("token: sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates signature, expiry and token type. All failures
// collapse into ErrInvalidToken.
func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(raw, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != typeAccess || claims.UserID == 0 || claims.PublicID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignPending issues a pending-registration token binding a provider identity
// to a proved email address.
func (c *Codec) SignPending(provider, subject, email string) (string, error) {
	now := c.now().UTC()
	claims := PendingClaims{
		Provider: provider,
		Email:    email,
		Type:     typePending,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.pendingTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("token: sign pending token: %w", err)
	}
	return signed, nil
}

// VerifyPending validates a pending-registration token.
func (c *Codec) VerifyPending(raw string) (*PendingClaims, error) {
	claims := &PendingClaims{}
	if err := c.verify(raw, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != typePending || claims.Provider == "" ||
		strings.TrimSpace(claims.Subject) == "" || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) verify(raw string, claims jwt.Claims) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return c.publicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
