package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkwell.pub/internal/oauth"
)

func TestLoginRedirectsToProvider(t *testing.T) {
	fx := newAPIFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	state := responseCookie(t, rec, stateCookie)
	if state == nil || state.Value == "" {
		t.Fatal("expected a state cookie")
	}
	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "state="+state.Value) {
		t.Fatalf("authorization URL must carry the state cookie value: %s", loc)
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=attacker&code=code-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "legit"})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?error=invalid_state" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	if c := responseCookie(t, rec, accessCookie); c != nil {
		t.Fatal("no session may be established on a state mismatch")
	}
}

func TestCallbackMissingStateCookie(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=some&code=code-1", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if loc := rec.Header().Get("Location"); loc != "/login?error=invalid_state" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
}

func TestCallbackUnknownIdentity(t *testing.T) {
	fx := newAPIFixture(t)
	fx.provider.identities["code-1"] = &oauth.Identity{
		Provider: "google", Subject: "g-1", Email: "a@x.com", EmailVerified: true,
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=s1&code=code-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/register" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	pending := responseCookie(t, rec, pendingCookie)
	if pending == nil || pending.Value == "" {
		t.Fatal("expected a pending registration cookie")
	}
	if !pending.HttpOnly {
		t.Fatal("pending cookie must be HttpOnly")
	}
	if c := responseCookie(t, rec, accessCookie); c != nil {
		t.Fatal("unknown identity must not receive a session")
	}
	if fx.store.UserCount() != 0 {
		t.Fatal("unknown identity must not create an account")
	}
}

func TestCallbackKnownIdentity(t *testing.T) {
	fx := newAPIFixture(t)
	fx.provider.identities["code-1"] = &oauth.Identity{
		Provider: "google", Subject: "g-1", Email: "a@x.com", EmailVerified: true,
	}
	fx.registerUser(t, "g-1", "a@x.com", "alice")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=s1&code=code-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/app" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
	access := responseCookie(t, rec, accessCookie)
	refresh := responseCookie(t, rec, refreshCookie)
	if access == nil || refresh == nil {
		t.Fatal("expected full session cookies")
	}
	if _, err := fx.svc.VerifyAccessToken(access.Value); err != nil {
		t.Fatalf("access cookie must verify: %v", err)
	}
	if _, err := fx.svc.ValidateRefreshToken(context.Background(), refresh.Value); err != nil {
		t.Fatalf("refresh cookie must validate: %v", err)
	}
}

func TestCallbackProviderDenied(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=s1&error=access_denied", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if loc := rec.Header().Get("Location"); loc != "/login?error=access_denied" {
		t.Fatalf("unexpected redirect: %s", loc)
	}
}

func TestRegisterCompletesSession(t *testing.T) {
	fx := newAPIFixture(t)
	pending, err := fx.svc.MintPendingToken("google", "g-1", "a@x.com")
	if err != nil {
		t.Fatalf("MintPendingToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"alice"}`))
	req.AddCookie(&http.Cookie{Name: pendingCookie, Value: pending})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		User userResponse `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.User.Username != "alice" || body.User.Email != "a@x.com" || body.User.ID == "" {
		t.Fatalf("unexpected user: %+v", body.User)
	}

	access := responseCookie(t, rec, accessCookie)
	refresh := responseCookie(t, rec, refreshCookie)
	if access == nil || refresh == nil {
		t.Fatal("expected full session cookies")
	}
	cleared := responseCookie(t, rec, pendingCookie)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatal("pending cookie must be cleared")
	}

	// The minted session is immediately usable.
	me := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	me.AddCookie(&http.Cookie{Name: accessCookie, Value: access.Value})
	meRec := httptest.NewRecorder()
	fx.handler.ServeHTTP(meRec, me)
	if meRec.Code != http.StatusOK {
		t.Fatalf("/v1/me after registration: %d", meRec.Code)
	}
}

func TestRegisterReplayAfterCompletion(t *testing.T) {
	fx := newAPIFixture(t)
	pending, err := fx.svc.MintPendingToken("google", "g-1", "a@x.com")
	if err != nil {
		t.Fatalf("MintPendingToken: %v", err)
	}

	first := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"alice"}`))
	first.AddCookie(&http.Cookie{Name: pendingCookie, Value: pending})
	firstRec := httptest.NewRecorder()
	fx.handler.ServeHTTP(firstRec, first)
	if firstRec.Code != http.StatusCreated {
		t.Fatalf("first registration: status = %d, want 201", firstRec.Code)
	}

	// Same still-valid pending cookie, a username nobody holds: the replay
	// must be rejected as a bad request, not a username conflict.
	second := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"bob"}`))
	second.AddCookie(&http.Cookie{Name: pendingCookie, Value: pending})
	secondRec := httptest.NewRecorder()
	fx.handler.ServeHTTP(secondRec, second)

	if secondRec.Code != http.StatusBadRequest {
		t.Fatalf("replay: status = %d, want 400: %s", secondRec.Code, secondRec.Body.String())
	}
	cleared := responseCookie(t, secondRec, pendingCookie)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatal("replayed pending cookie must be cleared")
	}
	if fx.store.UserCount() != 1 {
		t.Fatalf("replay must not create an account, have %d users", fx.store.UserCount())
	}
}

func TestRegisterWithoutPendingCookie(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"alice"}`))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRegisterGarbagePendingToken(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"alice"}`))
	req.AddCookie(&http.Cookie{Name: pendingCookie, Value: "garbage"})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	cleared := responseCookie(t, rec, pendingCookie)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatal("bad pending cookie must be cleared")
	}
	if fx.store.UserCount() != 0 {
		t.Fatal("no account may be created from a bad pending token")
	}
}

func TestRegisterUsernameConflict(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerUser(t, "g-0", "taken@x.com", "alice")

	pending, err := fx.svc.MintPendingToken("google", "g-1", "a@x.com")
	if err != nil {
		t.Fatalf("MintPendingToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"alice"}`))
	req.AddCookie(&http.Cookie{Name: pendingCookie, Value: pending})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	// The pending cookie survives a conflict; the caller retries with a
	// different name.
	if c := responseCookie(t, rec, pendingCookie); c != nil && c.MaxAge < 0 {
		t.Fatal("pending cookie must survive a username conflict")
	}
}

func TestRegisterEmptyUsername(t *testing.T) {
	fx := newAPIFixture(t)
	pending, err := fx.svc.MintPendingToken("google", "g-1", "a@x.com")
	if err != nil {
		t.Fatalf("MintPendingToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"  "}`))
	req.AddCookie(&http.Cookie{Name: pendingCookie, Value: pending})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUsernameAvailability(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerUser(t, "g-1", "a@x.com", "alice")

	check := func(username string, wantAvailable bool) {
		t.Helper()
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/username?username="+username, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Username  string `json:"username"`
			Available bool   `json:"available"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Available != wantAvailable {
			t.Fatalf("available(%s) = %v, want %v", username, body.Available, wantAvailable)
		}
	}

	check("alice", false)
	check("bob", true)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/username", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing username: status = %d, want 400", rec.Code)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	fx := newAPIFixture(t)
	_, pair := fx.registerUser(t, "g-1", "a@x.com", "alice")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: pair.RefreshToken})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	for _, name := range []string{accessCookie, refreshCookie, pendingCookie} {
		c := responseCookie(t, rec, name)
		if c == nil || c.MaxAge >= 0 {
			t.Fatalf("cookie %s must be cleared", name)
		}
	}
	if _, err := fx.svc.ValidateRefreshToken(context.Background(), pair.RefreshToken); err == nil {
		t.Fatal("refresh token must be revoked after logout")
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	fx := newAPIFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("logout must be safe without a session: %d", rec.Code)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	fx := newAPIFixture(t)
	user, pair := fx.registerUser(t, "g-1", "a@x.com", "alice")

	otherPair, err := fx.svc.MintSession(context.Background(), user)
	if err != nil {
		t.Fatalf("MintSession: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout-all", nil)
	req.AddCookie(&http.Cookie{Name: accessCookie, Value: pair.AccessToken})
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	for _, raw := range []string{pair.RefreshToken, otherPair.RefreshToken} {
		if _, err := fx.svc.ValidateRefreshToken(context.Background(), raw); err == nil {
			t.Fatal("every refresh token must be revoked")
		}
	}
}

func TestLogoutAllRequiresSession(t *testing.T) {
	fx := newAPIFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/logout-all", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthEndpointMethods(t *testing.T) {
	fx := newAPIFixture(t)

	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/v1/auth/login"},
		{http.MethodPost, "/v1/auth/callback"},
		{http.MethodGet, "/v1/auth/register"},
		{http.MethodPost, "/v1/auth/username"},
		{http.MethodGet, "/v1/auth/logout"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		fx.handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status = %d, want 405", tc.method, tc.path, rec.Code)
		}
		if rec.Header().Get("Allow") == "" {
			t.Fatalf("%s %s: Allow header missing", tc.method, tc.path)
		}
	}
}
