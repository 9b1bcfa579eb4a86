package login

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	httpmiddleware "github.com/wolfeidau/academy/internal/http"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
	"github.com/wolfeidau/academy/internal/store/memory"
	"golang.org/x/oauth2"
)

// createTestSession creates a user with a session and returns the session ID
func createTestSession(t *testing.T, stores store.Stores, userID, email string, expiresIn time.Duration) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	_, err := stores.Users.Upsert(ctx, &models.User{
		ID:       userID,
		Provider: models.ProviderGitHub,
		Email:    email,
		Name:     "Test User",
		Roles:    []string{"student"},
	})
	require.NoError(t, err)

	sessionID, err := uuid.NewV7()
	require.NoError(t, err)

	err = stores.Sessions.Create(ctx, &models.Session{
		SessionID:  sessionID,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiresIn),
		LastUsedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	return sessionID
}

func newTestGithub(t *testing.T, stores store.Stores, opts ...Option) *Github {
	t.Helper()
	gh, err := NewGithub("test-client-id", "test-client-secret", "http://localhost/auth/callback/github", stores, 24*time.Hour, opts...)
	require.NoError(t, err)
	return gh
}

func requestWithSession(target string, sessionID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	return r
}

func TestNewGithub(t *testing.T) {
	gh := newTestGithub(t, memory.NewStores())

	require.Equal(t, "test-client-id", gh.config.ClientID)
	require.Equal(t, "http://localhost/auth/callback/github", gh.config.RedirectURL)
	require.Contains(t, gh.config.Scopes, "user:email")
	require.Equal(t, 24*time.Hour, gh.sessionTTL)
	require.True(t, gh.secureCookies)
}

func TestNewGithub_invalid(t *testing.T) {
	_, err := NewGithub("id", "secret", "http://localhost/cb", store.Stores{}, time.Hour)
	require.ErrorContains(t, err, "all stores")

	_, err = NewGithub("", "secret", "http://localhost/cb", memory.NewStores(), time.Hour)
	require.ErrorContains(t, err, "client ID")

	_, err = NewGithub("id", "secret", "http://localhost/cb", memory.NewStores(), 0)
	require.ErrorContains(t, err, "session TTL")
}

func TestGithub_saveState_roundTrip(t *testing.T) {
	gh := newTestGithub(t, memory.NewStores())

	w := httptest.NewRecorder()
	state := gh.saveState(w, "/dashboard/courses/abc?tab=notes")
	require.Greater(t, len(state), 10)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, stateCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.True(t, cookies[0].Secure)

	r := httptest.NewRequest(http.MethodGet, "/auth/callback/github", nil)
	r.AddCookie(cookies[0])

	gotState, callback, err := loadState(r)
	require.NoError(t, err)
	require.Equal(t, state, gotState)
	require.Equal(t, "/dashboard/courses/abc?tab=notes", callback)
}

func TestGithub_saveState_randomness(t *testing.T) {
	gh := newTestGithub(t, memory.NewStores())

	states := make(map[string]bool)
	for range 10 {
		states[gh.saveState(httptest.NewRecorder(), "/dashboard")] = true
	}

	require.Len(t, states, 10)
}

func TestGithub_SignInHandler(t *testing.T) {
	gh := newTestGithub(t, memory.NewStores())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/signin?callbackUrl="+url.QueryEscape("//evil.example.com"), nil)

	gh.SignInHandler(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.Contains(t, location, "github.com/login/oauth/authorize")
	require.Contains(t, location, "client_id=test-client-id")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	r = httptest.NewRequest(http.MethodGet, "/auth/callback/github", nil)
	r.AddCookie(cookies[0])
	_, callback, err := loadState(r)
	require.NoError(t, err)
	require.Equal(t, "/dashboard", callback)
}

func TestGithub_SignInHandler_alreadySignedIn(t *testing.T) {
	stores := memory.NewStores()
	gh := newTestGithub(t, stores)
	sessionID := createTestSession(t, stores, "github:1", "test@example.com", time.Hour)

	w := httptest.NewRecorder()
	r := requestWithSession("/auth/signin?callbackUrl=%2Fdashboard%2Fprofile", sessionID.String())

	gh.SignInHandler(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/dashboard/profile", w.Header().Get("Location"))
}

func TestGithub_CallbackHandler_invalidRequest(t *testing.T) {
	gh := newTestGithub(t, memory.NewStores())

	tests := []struct {
		name   string
		target string
		cookie *http.Cookie
	}{
		{name: "missing state", target: "/auth/callback/github?code=some-code"},
		{name: "missing code", target: "/auth/callback/github?state=some-state"},
		{name: "missing state cookie", target: "/auth/callback/github?state=some-state&code=some-code"},
		{
			name:   "state mismatch",
			target: "/auth/callback/github?state=wrong-state&code=some-code",
			cookie: &http.Cookie{Name: stateCookieName, Value: "correct-state.L2Rhc2hib2FyZA"},
		},
		{
			name:   "malformed state cookie",
			target: "/auth/callback/github?state=some-state&code=some-code",
			cookie: &http.Cookie{Name: stateCookieName, Value: "some-state"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}

			gh.CallbackHandler(w, r)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Contains(t, w.Body.String(), "Authentication failed")
		})
	}
}

// newFakeGithub serves the OAuth token endpoint and the user APIs.
func newFakeGithub(t *testing.T, user map[string]any, emails []githubEmail) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer","scope":"user:email"}`))
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("GET /user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(emails)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fakeEndpoint(srv *httptest.Server) Option {
	return WithEndpoint(oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, srv.URL)
}

func TestGithub_CallbackHandler_success(t *testing.T) {
	srv := newFakeGithub(t,
		map[string]any{"id": 42, "login": "octo", "name": "", "avatar_url": "https://avatars.example.com/42"},
		[]githubEmail{
			{Email: "unverified@example.com", Primary: true, Verified: false},
			{Email: "octo@example.com", Primary: true, Verified: true},
		},
	)

	stores := memory.NewStores()
	gh := newTestGithub(t, stores, fakeEndpoint(srv), WithInsecureCookies())

	// start sign-in to obtain the state cookie
	w := httptest.NewRecorder()
	gh.SignInHandler(w, httptest.NewRequest(http.MethodGet, "/auth/signin?callbackUrl="+url.QueryEscape("/dashboard/courses/abc123?tab=notes"), nil))
	require.Equal(t, http.StatusFound, w.Code)

	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(authURL.String(), srv.URL))
	state := authURL.Query().Get("state")
	stateCookie := w.Result().Cookies()[0]
	require.False(t, stateCookie.Secure)

	// complete the callback
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/callback/github?code=good-code&state="+state, nil)
	r.AddCookie(stateCookie)
	r.Header.Set("User-Agent", "test-browser")
	r.RemoteAddr = "203.0.113.5:4444"

	httpmiddleware.ClientIPMiddleware()(http.HandlerFunc(gh.CallbackHandler)).ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	require.Equal(t, "/dashboard/courses/abc123?tab=notes", w.Header().Get("Location"))

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)

	user, err := stores.Users.Get(context.Background(), "github:42")
	require.NoError(t, err)
	require.Equal(t, "octo@example.com", user.Email)
	require.Equal(t, "octo", user.Name)

	sessionID, err := uuid.Parse(sessionCookie.Value)
	require.NoError(t, err)
	session, err := stores.Sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5", session.IPAddress)
	require.Equal(t, "test-browser", session.UserAgent)

	identity, err := gh.ResolveSession(requestWithSession("/dashboard", sessionCookie.Value))
	require.NoError(t, err)
	require.Equal(t, "github:42", identity.UserID)
	require.Empty(t, identity.EnrolledCourses)
}

func TestGithub_CallbackHandler_badCode(t *testing.T) {
	srv := newFakeGithub(t, map[string]any{"id": 42}, nil)
	gh := newTestGithub(t, memory.NewStores(), fakeEndpoint(srv))

	w := httptest.NewRecorder()
	state := gh.saveState(w, "/dashboard")

	r := httptest.NewRequest(http.MethodGet, "/auth/callback/github?code=bad-code&state="+state, nil)
	r.AddCookie(w.Result().Cookies()[0])
	w = httptest.NewRecorder()

	gh.CallbackHandler(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGithub_CallbackHandler_noEmail(t *testing.T) {
	srv := newFakeGithub(t, map[string]any{"id": 7, "login": "ghost"}, []githubEmail{})
	gh := newTestGithub(t, memory.NewStores(), fakeEndpoint(srv))

	w := httptest.NewRecorder()
	state := gh.saveState(w, "/dashboard")

	r := httptest.NewRequest(http.MethodGet, "/auth/callback/github?code=good-code&state="+state, nil)
	r.AddCookie(w.Result().Cookies()[0])
	w = httptest.NewRecorder()

	gh.CallbackHandler(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Email address required")
}

func TestGithub_SignOutHandler(t *testing.T) {
	stores := memory.NewStores()
	gh := newTestGithub(t, stores)
	sessionID := createTestSession(t, stores, "github:1", "test@example.com", time.Hour)

	w := httptest.NewRecorder()
	gh.SignOutHandler(w, requestWithSession("/auth/signout", sessionID.String()))

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, SessionCookieName, cookies[0].Name)
	require.Negative(t, cookies[0].MaxAge)

	_, err := stores.Sessions.Get(context.Background(), sessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	// signing out without a session still clears the cookie
	w = httptest.NewRecorder()
	gh.SignOutHandler(w, httptest.NewRequest(http.MethodPost, "/auth/signout", nil))
	require.Equal(t, http.StatusFound, w.Code)
}

func TestResolver_GetSession(t *testing.T) {
	stores := memory.NewStores()
	resolver, err := NewResolver(stores)
	require.NoError(t, err)

	valid := createTestSession(t, stores, "github:1", "test@example.com", time.Hour)
	expired := createTestSession(t, stores, "github:2", "old@example.com", -time.Hour)
	missing := uuid.Must(uuid.NewV7())

	tests := []struct {
		name    string
		cookie  string
		wantErr error
	}{
		{name: "valid", cookie: valid.String()},
		{name: "expired", cookie: expired.String(), wantErr: ErrExpiredSession},
		{name: "not a uuid", cookie: "not-a-uuid", wantErr: ErrInvalidSession},
		{name: "unknown session", cookie: missing.String(), wantErr: ErrInvalidSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := resolver.GetSession(requestWithSession("/", tt.cookie))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, session)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.cookie, session.SessionID.String())
		})
	}

	_, err = resolver.GetSession(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestResolver_ResolveSession(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	resolver, err := NewResolver(stores)
	require.NoError(t, err)

	sessionID := createTestSession(t, stores, "github:1", "test@example.com", time.Hour)
	require.NoError(t, stores.Enrollments.Enroll(ctx, &models.Enrollment{UserID: "github:1", CourseID: "abc123"}))

	before, err := stores.Sessions.Get(ctx, sessionID)
	require.NoError(t, err)

	identity, err := resolver.ResolveSession(requestWithSession("/dashboard", sessionID.String()))
	require.NoError(t, err)
	require.Equal(t, "github:1", identity.UserID)
	require.Equal(t, sessionID.String(), identity.SessionID)
	require.Equal(t, "test@example.com", identity.Email)
	require.True(t, identity.IsEnrolled("abc123"))
	require.Equal(t, []string{"student"}, identity.Roles)

	after, err := stores.Sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, after.LastUsedAt.After(before.LastUsedAt))
}

func TestResolver_ResolveSession_missingUser(t *testing.T) {
	stores := memory.NewStores()
	resolver, err := NewResolver(stores)
	require.NoError(t, err)

	sessionID := uuid.Must(uuid.NewV7())
	require.NoError(t, stores.Sessions.Create(context.Background(), &models.Session{
		SessionID: sessionID,
		UserID:    "github:gone",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err = resolver.ResolveSession(requestWithSession("/dashboard", sessionID.String()))
	require.ErrorIs(t, err, ErrInvalidSession)
}
