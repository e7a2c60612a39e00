package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(ctx context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens(ctx context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

const userColumns = `id, public_id, email, coalesce(username, ''), bio, image, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.PublicID, &u.Email, &u.Username, &u.Bio, &u.Image, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) CreateWithIdentity(ctx context.Context, u *User, identity ProviderIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into users(public_id, email, username, bio, image)
		values ($1, $2, nullif($3, ''), $4, $5)
		returning id, created_at, updated_at
	`, u.PublicID, u.Email, u.Username, u.Bio, u.Image).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return translateUnique(err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into provider_identities(provider, subject, user_id)
		values ($1, $2, $3)
	`, identity.Provider, identity.Subject, u.ID); err != nil {
		return translateUnique(err)
	}

	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByPublicID(ctx context.Context, publicID string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where public_id=$1`, publicID))
}

func (s *userStore) FindByProviderSubject(ctx context.Context, provider, subject string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select u.id, u.public_id, u.email, coalesce(u.username, ''), u.bio, u.image, u.created_at, u.updated_at
		from users u
		join provider_identities pi on pi.user_id = u.id
		where pi.provider=$1 and pi.subject=$2
	`, provider, subject))
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	err := s.db.QueryRowContext(ctx, `
		insert into refresh_tokens(id, user_id, token_hash, expires_at)
		values ($1, $2, $3, $4)
		returning created_at
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt).Scan(&tok.CreatedAt)
	if err != nil {
		return translateUnique(err)
	}
	return nil
}

func (s *refreshTokenStore) FindWithOwner(ctx context.Context, id string) (*RefreshToken, *User, error) {
	row := s.db.QueryRowContext(ctx, `
		select rt.id, rt.user_id, rt.token_hash, rt.expires_at, rt.created_at,
		       u.id, u.public_id, u.email, coalesce(u.username, ''), u.bio, u.image, u.created_at, u.updated_at
		from refresh_tokens rt
		join users u on u.id = rt.user_id
		where rt.id=$1
	`, id)
	var (
		tok RefreshToken
		u   User
	)
	err := row.Scan(
		&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt,
		&u.ID, &u.PublicID, &u.Email, &u.Username, &u.Bio, &u.Image, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &tok, &u, nil
}

func (s *refreshTokenStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id=$1`, id)
	return err
}

func (s *refreshTokenStore) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return err
}

// translateUnique maps a Postgres unique violation to ErrAlreadyExists so a
// registration race never crosses the service boundary as a raw driver error.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}
