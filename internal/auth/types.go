package auth

import "time"

// User is an account holder. Username stays empty between the OAuth callback
// and registration completion; email and username are each globally unique.
type User struct {
	ID        int64
	PublicID  string
	Email     string
	Username  string
	Bio       string
	Image     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderIdentity binds one external (provider, subject) pair to exactly one
// user. Composite-unique on (provider, subject).
type ProviderIdentity struct {
	Provider  string
	Subject   string
	UserID    int64
	CreatedAt time.Time
}

// RefreshToken is the persisted half of an opaque refresh credential. Only
// the sha256 of the client-held secret is stored; a database read compromise
// does not yield usable bearer tokens.
type RefreshToken struct {
	ID        string
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair carries the freshly minted session credentials along with their
// expirations so the transport layer can set matching cookie lifetimes.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
