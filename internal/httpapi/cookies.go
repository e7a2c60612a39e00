package httpapi

import (
	"net/http"
	"time"
)

// Cookie names are contractual; clients and the content application rely on
// them.
const (
	accessCookie  = "access-token"
	refreshCookie = "refresh-token"
	pendingCookie = "pending-registration"
	stateCookie   = "oauth-state"
)

const stateTTL = 10 * time.Minute

// CookieConfig controls the attributes shared by every auth cookie. Domain
// may name a parent domain for cross-subdomain session sharing; Secure is
// expected everywhere except local development.
type CookieConfig struct {
	Domain string
	Secure bool
}

func (c CookieConfig) set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
