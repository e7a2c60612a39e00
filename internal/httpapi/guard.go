package httpapi

import (
	"errors"
	"net/http"

	"inkwell.pub/internal/audit"
	"inkwell.pub/internal/auth"
	"inkwell.pub/internal/obs"
)

// withSession is the access guard. Evaluation order is strict and
// short-circuits on first success:
//
//  1. valid access cookie: attach identity, allow. Zero I/O.
//  2. valid refresh cookie: reissue the access cookie silently, attach
//     identity, allow. The refresh token itself is not rotated.
//  3. otherwise: deny with 401.
//
// The caller is never told whether an access token was expired, absent or
// forged.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := cookieValue(r, accessCookie); raw != "" {
			if user, err := a.svc.VerifyAccessToken(raw); err == nil {
				next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
				return
			}
		}

		if raw := cookieValue(r, refreshCookie); raw != "" {
			user, err := a.svc.ValidateRefreshToken(r.Context(), raw)
			switch {
			case err == nil:
				accessToken, err := a.svc.MintAccessToken(user)
				if err != nil {
					writeError(w, r, http.StatusInternalServerError, "authentication error")
					return
				}
				a.cookies.set(w, accessCookie, accessToken, a.svc.AccessTTL())
				obs.SilentRefreshTotal.Inc()
				ctx := auth.ContextWithUser(r.Context(), user)
				_ = audit.LogEvent(ctx, "auth.silent_refresh", nil)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			case errors.Is(err, auth.ErrInvalidToken):
				// fall through to deny
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
				return
			}
		}

		obs.GuardDenialsTotal.Inc()
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	})
}
