package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"inkwell.pub/internal/auth"
	"inkwell.pub/internal/oauth"
	"inkwell.pub/internal/obs"
)

// ReadyProbe reports backend readiness (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options configures the HTTP layer.
type Options struct {
	Auth    *auth.Service
	Flow    *oauth.Flow
	Cookies CookieConfig
	Ready   ReadyProbe
	Version string

	// Redirect targets after the OAuth callback.
	AppURL      string
	RegisterURL string
	LoginURL    string
}

// API is the HTTP boundary: routing, cookie handling and the access guard.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	flow    *oauth.Flow
	cookies CookieConfig
	ready   ReadyProbe
	version string

	appURL      string
	registerURL string
	loginURL    string
}

// New wires routes. Auth endpoints are public; /v1/me and logout-everywhere
// sit behind the access guard.
func New(opts Options) *API {
	a := &API{
		mux:         http.NewServeMux(),
		svc:         opts.Auth,
		flow:        opts.Flow,
		cookies:     opts.Cookies,
		ready:       opts.Ready,
		version:     opts.Version,
		appURL:      opts.AppURL,
		registerURL: opts.RegisterURL,
		loginURL:    opts.LoginURL,
	}
	if a.appURL == "" {
		a.appURL = "/"
	}
	if a.registerURL == "" {
		a.registerURL = "/register"
	}
	if a.loginURL == "" {
		a.loginURL = "/login"
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/callback", a.handleCallback)
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/username", a.handleUsernameAvailable)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.Handle("/v1/auth/logout-all", a.withSession(http.HandlerFunc(a.handleLogoutAll)))
	a.mux.Handle("/v1/me", a.withSession(http.HandlerFunc(a.handleMe)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = SecurityHeaders(h)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "inkwell-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "inkwell-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
