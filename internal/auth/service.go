package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkwell.pub/internal/ids"
	"inkwell.pub/internal/token"
)

const defaultRefreshTTL = 24 * time.Hour * 14

// Service orchestrates the token codec and the persistence layer: identity
// resolution, registration, session minting, and refresh token lifecycle.
type Service struct {
	store      Store
	codec      *token.Codec
	now        func() time.Time
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. The codec must already hold valid keys;
// building one is the caller's fail-fast startup step.
func NewService(store Store, codec *token.Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	svc := &Service{
		store:      store,
		codec:      codec,
		now:        time.Now,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL reports the access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.codec.AccessTTL() }

// RefreshTTL reports the refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// PendingTTL reports the pending-registration token lifetime.
func (s *Service) PendingTTL() time.Duration { return s.codec.PendingTTL() }

// FindUser resolves a user by provider identity. Side-effect-free; a miss is
// ErrNotFound.
func (s *Service) FindUser(ctx context.Context, provider, subject string) (*User, error) {
	provider = strings.TrimSpace(provider)
	subject = strings.TrimSpace(subject)
	if provider == "" || subject == "" {
		return nil, ErrInvalidInput
	}
	return s.store.Users(ctx).FindByProviderSubject(ctx, provider, subject)
}

// RegisterUser creates the user and its provider binding atomically. The
// caller should have pre-checked username availability; a concurrent insert
// racing past that check still surfaces as ErrAlreadyExists, never as a raw
// constraint violation.
func (s *Service) RegisterUser(ctx context.Context, provider, subject, email, username string) (*User, error) {
	provider = strings.TrimSpace(provider)
	subject = strings.TrimSpace(subject)
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if provider == "" || subject == "" || email == "" || username == "" {
		return nil, ErrInvalidInput
	}
	u := &User{
		PublicID: ids.New(),
		Email:    email,
		Username: username,
	}
	identity := ProviderIdentity{Provider: provider, Subject: subject}
	if err := s.store.Users(ctx).CreateWithIdentity(ctx, u, identity); err != nil {
		return nil, err
	}
	return u, nil
}

// UsernameTaken reports whether a username is already claimed.
func (s *Service) UsernameTaken(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, ErrInvalidInput
	}
	_, err := s.store.Users(ctx).FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EmailTaken reports whether an email is claimed by a user other than
// excludeID (pass 0 to exclude nobody).
func (s *Service) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return false, ErrInvalidInput
	}
	u, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.ID != excludeID, nil
}

// MintAccessToken signs a fresh access token for the user.
func (s *Service) MintAccessToken(u *User) (string, error) {
	if u == nil {
		return "", ErrInvalidInput
	}
	return s.codec.SignAccess(u.ID, u.PublicID, u.Username)
}

// VerifyAccessToken validates a raw access token and reconstructs the
// lightweight identity embedded in it. Stateless: no store lookup happens,
// which keeps the guard's fast path free of I/O.
func (s *Service) VerifyAccessToken(raw string) (*User, error) {
	claims, err := s.codec.VerifyAccess(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &User{
		ID:       claims.UserID,
		PublicID: claims.PublicID,
		Username: claims.Username,
	}, nil
}

// GetUserByPublicID loads the full user record for a public id.
func (s *Service) GetUserByPublicID(ctx context.Context, publicID string) (*User, error) {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return nil, ErrInvalidInput
	}
	return s.store.Users(ctx).FindByPublicID(ctx, publicID)
}

// MintRefreshToken generates an opaque refresh credential, persists its hash
// and returns the raw value. Format is "<record id>.<secret>"; only the
// client ever holds the secret.
func (s *Service) MintRefreshToken(ctx context.Context, userID int64) (string, time.Time, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return "", time.Time{}, err
	}
	return rec.ID + "." + secret, rec.ExpiresAt, nil
}

// MintSession issues a matched access and refresh token pair for the user.
// Used at login and at registration completion; the guard's silent refresh
// path reissues access tokens only.
func (s *Service) MintSession(ctx context.Context, u *User) (TokenPair, error) {
	if u == nil {
		return TokenPair{}, ErrInvalidInput
	}
	accessToken, err := s.MintAccessToken(u)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshExp, err := s.MintRefreshToken(ctx, u.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  s.now().Add(s.codec.AccessTTL()),
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ValidateRefreshToken resolves a raw refresh credential to its owner.
// An expired record is deleted on the spot before reporting failure, so
// stale rows never accumulate ahead of their natural cleanup. All failure
// modes collapse into ErrInvalidToken.
func (s *Service) ValidateRefreshToken(ctx context.Context, raw string) (*User, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	store := s.store.RefreshTokens(ctx)
	rec, owner, err := store.FindWithOwner(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(rec.ExpiresAt) {
		_ = store.Delete(ctx, rec.ID)
		return nil, ErrInvalidToken
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return nil, ErrInvalidToken
	}
	return owner, nil
}

// RevokeRefreshToken deletes the presented refresh credential. Unknown or
// malformed values are a no-op; revocation is idempotent.
func (s *Service) RevokeRefreshToken(ctx context.Context, raw string) error {
	id, _, err := splitRefreshToken(raw)
	if err != nil {
		return nil
	}
	return s.store.RefreshTokens(ctx).Delete(ctx, id)
}

// RevokeAllRefreshTokens ends every session owned by the user.
func (s *Service) RevokeAllRefreshTokens(ctx context.Context, userID int64) error {
	return s.store.RefreshTokens(ctx).DeleteByUser(ctx, userID)
}

// MintPendingToken signs a pending-registration token for an external
// identity with no account yet.
func (s *Service) MintPendingToken(provider, subject, email string) (string, error) {
	provider = strings.TrimSpace(provider)
	subject = strings.TrimSpace(subject)
	email = strings.TrimSpace(strings.ToLower(email))
	if provider == "" || subject == "" || email == "" {
		return "", ErrInvalidInput
	}
	return s.codec.SignPending(provider, subject, email)
}

// CompleteRegistration consumes a pending-registration token plus a chosen
// username, creates the account and mints the initial session. A bad or
// expired token is ErrInvalidToken (the caller restarts the OAuth flow),
// and so is a replayed token whose identity or email already finished
// registration: signing in again resolves those to login. A taken username
// is ErrAlreadyExists and leaves no partial state behind.
func (s *Service) CompleteRegistration(ctx context.Context, pendingToken, username string) (*User, TokenPair, error) {
	claims, err := s.codec.VerifyPending(pendingToken)
	if err != nil {
		return nil, TokenPair{}, ErrInvalidToken
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, TokenPair{}, ErrInvalidInput
	}
	if _, err := s.FindUser(ctx, claims.Provider, claims.Subject); err == nil {
		return nil, TokenPair{}, ErrInvalidToken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, TokenPair{}, err
	}
	emailTaken, err := s.EmailTaken(ctx, claims.Email, 0)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if emailTaken {
		return nil, TokenPair{}, ErrInvalidToken
	}
	taken, err := s.UsernameTaken(ctx, username)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if taken {
		return nil, TokenPair{}, ErrAlreadyExists
	}
	u, err := s.RegisterUser(ctx, claims.Provider, claims.Subject, claims.Email, username)
	if errors.Is(err, ErrAlreadyExists) {
		// Insert-time race past the pre-checks. Only a username collision
		// is the caller's to resolve; identity or email collisions mean
		// the registration already happened.
		if nameTaken, uerr := s.UsernameTaken(ctx, username); uerr == nil && nameTaken {
			return nil, TokenPair{}, ErrAlreadyExists
		}
		return nil, TokenPair{}, ErrInvalidToken
	}
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.MintSession(ctx, u)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return u, pair, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
