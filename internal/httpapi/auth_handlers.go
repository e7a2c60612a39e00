package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"inkwell.pub/internal/audit"
	"inkwell.pub/internal/auth"
	"inkwell.pub/internal/oauth"
	"inkwell.pub/internal/obs"
)

type registerRequest struct {
	Username string `json:"username"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Image    string `json:"image,omitempty"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:       u.PublicID,
		Username: u.Username,
		Email:    u.Email,
		Bio:      u.Bio,
		Image:    u.Image,
	}
}

// handleLogin starts the OAuth flow: anti-forgery state cookie plus a
// redirect to the provider's authorization URL.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	state := uuid.NewString()
	a.cookies.set(w, stateCookie, state, stateTTL)
	http.Redirect(w, r, a.flow.AuthCodeURL(state), http.StatusFound)
}

// handleCallback terminates the OAuth flow. Known identity: session cookies
// and a redirect into the application. Unknown identity: a pending
// registration cookie and a redirect to the username picker. Every failure
// redirects to the login page with a coarse reason code only.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	if state == "" || state != cookieValue(r, stateCookie) {
		a.cookies.clear(w, stateCookie)
		a.callbackError(w, r, "invalid_state")
		return
	}
	a.cookies.clear(w, stateCookie)

	res, err := a.flow.HandleCallback(r.Context(), query.Get("code"), query.Get("error"))
	if err != nil {
		obs.LogRequest(map[string]any{
			"level":      "error",
			"msg":        "oauth callback failed",
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		a.callbackError(w, r, oauth.ReasonInvalidToken)
		return
	}

	switch res.Kind {
	case oauth.ResultLogin:
		a.setSessionCookies(w, res.Pair.AccessToken, res.Pair.RefreshToken)
		obs.LoginsTotal.WithLabelValues("login").Inc()
		_ = audit.LogEvent(auth.ContextWithUser(r.Context(), res.User), "auth.login",
			map[string]any{"provider": a.flow.ProviderName()})
		http.Redirect(w, r, a.appURL, http.StatusFound)

	case oauth.ResultPendingRegistration:
		a.cookies.set(w, pendingCookie, res.PendingToken, a.svc.PendingTTL())
		obs.LoginsTotal.WithLabelValues("pending").Inc()
		_ = audit.LogEvent(r.Context(), "auth.registration_pending",
			map[string]any{"provider": a.flow.ProviderName()})
		http.Redirect(w, r, a.registerURL, http.StatusFound)

	default:
		a.callbackError(w, r, res.Reason)
	}
}

func (a *API) callbackError(w http.ResponseWriter, r *http.Request, reason string) {
	obs.LoginsTotal.WithLabelValues("error").Inc()
	obs.CallbackErrorsTotal.WithLabelValues(reason).Inc()
	_ = audit.LogEvent(r.Context(), "auth.callback_error", map[string]any{"reason": reason})
	http.Redirect(w, r, a.loginURL+"?error="+reason, http.StatusFound)
}

// handleRegister completes a pending registration with the chosen username.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	pending := cookieValue(r, pendingCookie)
	if pending == "" {
		writeError(w, r, http.StatusBadRequest, "no pending registration")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, r, http.StatusBadRequest, "username is required")
		return
	}

	user, pair, err := a.svc.CompleteRegistration(r.Context(), pending, req.Username)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidToken):
		// Expired or tampered: the caller must restart the OAuth flow.
		a.cookies.clear(w, pendingCookie)
		writeError(w, r, http.StatusBadRequest, "registration expired, sign in again")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid username")
		return
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "username is not available")
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "registration failed")
		return
	}

	a.cookies.clear(w, pendingCookie)
	a.setSessionCookies(w, pair.AccessToken, pair.RefreshToken)
	obs.RegistrationsTotal.Inc()
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), "auth.registered",
		map[string]any{"provider": a.flow.ProviderName()})

	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserResponse(user)})
}

// handleUsernameAvailable is the pre-check the registration page polls.
func (a *API) handleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, r, http.StatusBadRequest, "username is required")
		return
	}
	taken, err := a.svc.UsernameTaken(r.Context(), username)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":  username,
		"available": !taken,
	})
}

// handleLogout revokes the presented refresh token and clears the session.
// Safe to call without a session; revocation is idempotent.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if raw := cookieValue(r, refreshCookie); raw != "" {
		if err := a.svc.RevokeRefreshToken(r.Context(), raw); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	a.clearSessionCookies(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleLogoutAll ends every session of the authenticated user.
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.svc.RevokeAllRefreshTokens(r.Context(), user.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	a.clearSessionCookies(w)
	_ = audit.LogEvent(r.Context(), "auth.logout_all", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out_everywhere"})
}

// handleMe returns the authenticated user's full profile.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	session, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.svc.GetUserByPublicID(r.Context(), session.PublicID)
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func (a *API) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	a.cookies.set(w, accessCookie, accessToken, a.svc.AccessTTL())
	a.cookies.set(w, refreshCookie, refreshToken, a.svc.RefreshTTL())
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	a.cookies.clear(w, accessCookie)
	a.cookies.clear(w, refreshCookie)
	a.cookies.clear(w, pendingCookie)
}
