package oauth

import (
	"context"
	"errors"
	"fmt"

	"inkwell.pub/internal/auth"
)

// ResultKind is the terminal state of a callback evaluation.
type ResultKind int

const (
	// ResultLogin: known identity, session minted.
	ResultLogin ResultKind = iota
	// ResultPendingRegistration: identity proved an email but has no
	// account; a pending token authorizes registration completion.
	ResultPendingRegistration
	// ResultError: the flow terminated before identity resolution.
	ResultError
)

// Reason codes surfaced to the boundary on terminal errors. Provider-internal
// detail never leaves the flow.
const (
	ReasonAccessDenied = "access_denied"
	ReasonNoCode       = "no_code"
	ReasonNoIDToken    = "no_id_token"
	ReasonInvalidToken = "invalid_token"
)

// Result carries the outcome of one callback.
type Result struct {
	Kind ResultKind

	// Login
	User *auth.User
	Pair auth.TokenPair

	// PendingRegistration
	PendingToken string
	Email        string

	// Error
	Reason string
}

// Flow drives the OAuth callback: code exchange, identity resolution, and
// the login versus pending-registration decision. Account creation is
// deliberately deferred to registration completion, so abandoning the flow
// never leaves an orphan account behind.
type Flow struct {
	provider Provider
	svc      *auth.Service
}

// NewFlow wires a provider to the auth service.
func NewFlow(provider Provider, svc *auth.Service) (*Flow, error) {
	if provider == nil {
		return nil, errors.New("oauth: provider is required")
	}
	if svc == nil {
		return nil, errors.New("oauth: auth service is required")
	}
	return &Flow{provider: provider, svc: svc}, nil
}

// AuthCodeURL returns the provider authorization URL for the state value.
func (f *Flow) AuthCodeURL(state string) string {
	return f.provider.AuthCodeURL(state)
}

// ProviderName returns the wired provider's identifier.
func (f *Flow) ProviderName() string { return f.provider.Name() }

// HandleCallback evaluates one provider callback. providerErr is the error
// parameter the provider redirected back with, if any. The returned error is
// reserved for infrastructure failures; every protocol-level failure is a
// ResultError with a coarse reason code.
func (f *Flow) HandleCallback(ctx context.Context, code, providerErr string) (*Result, error) {
	if providerErr != "" {
		reason := ReasonAccessDenied
		if providerErr != "access_denied" {
			reason = ReasonInvalidToken
		}
		return &Result{Kind: ResultError, Reason: reason}, nil
	}
	if code == "" {
		return &Result{Kind: ResultError, Reason: ReasonNoCode}, nil
	}

	identity, err := f.provider.Exchange(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoIDToken):
			return &Result{Kind: ResultError, Reason: ReasonNoIDToken}, nil
		default:
			return &Result{Kind: ResultError, Reason: ReasonInvalidToken}, nil
		}
	}
	// A pending token asserts ownership of the email. An identity the
	// provider itself did not verify cannot make that claim.
	if !identity.EmailVerified {
		return &Result{Kind: ResultError, Reason: ReasonInvalidToken}, nil
	}

	user, err := f.svc.FindUser(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		pair, err := f.svc.MintSession(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("oauth: mint session: %w", err)
		}
		return &Result{Kind: ResultLogin, User: user, Pair: pair}, nil

	case errors.Is(err, auth.ErrNotFound):
		pending, err := f.svc.MintPendingToken(identity.Provider, identity.Subject, identity.Email)
		if err != nil {
			return nil, fmt.Errorf("oauth: mint pending token: %w", err)
		}
		return &Result{
			Kind:         ResultPendingRegistration,
			PendingToken: pending,
			Email:        identity.Email,
		}, nil

	default:
		return nil, fmt.Errorf("oauth: resolve identity: %w", err)
	}
}
