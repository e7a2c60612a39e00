// Package oauth implements the federated-login callback flow: exchanging a
// provider authorization code for a verified identity assertion and deciding
// whether the caller is a returning user or a brand-new identity.
package oauth

import (
	"context"
	"errors"
)

// Identity is the normalized assertion a provider returns after a successful
// code exchange: proof that the subject controls the email.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}

// Provider is the contract every external identity provider implements.
// Implementations return identity facts only; user creation, linking and
// session management stay out of this layer.
type Provider interface {
	// Name returns the provider identifier (e.g. "google").
	Name() string

	// AuthCodeURL returns the provider authorization URL for the given
	// anti-forgery state value.
	AuthCodeURL(state string) string

	// Exchange swaps the authorization code for provider credentials and
	// returns the verified identity assertion.
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Exchange failure modes the flow maps to boundary reason codes.
var (
	// ErrNoIDToken: the provider token response carried no identity
	// assertion at all.
	ErrNoIDToken = errors.New("oauth: provider returned no id_token")

	// ErrInvalidAssertion: the assertion failed verification or lacked the
	// required subject/email claims.
	ErrInvalidAssertion = errors.New("oauth: invalid identity assertion")
)
