package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages users and their provider bindings.
type UserStore interface {
	// CreateWithIdentity inserts the user and its provider binding in one
	// transaction. Unique violations surface as ErrAlreadyExists.
	CreateWithIdentity(ctx context.Context, u *User, identity ProviderIdentity) error
	Find(ctx context.Context, id int64) (*User, error)
	FindByPublicID(ctx context.Context, publicID string) (*User, error)
	FindByProviderSubject(ctx context.Context, provider, subject string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// RefreshTokenStore manages refresh token lifecycle. Records are keyed by the
// token id; deletes are idempotent.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// FindWithOwner resolves the token record and its owning user in a
	// single round trip.
	FindWithOwner(ctx context.Context, id string) (*RefreshToken, *User, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) error
}
