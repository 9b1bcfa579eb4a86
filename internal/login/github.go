// Package login implements GitHub sign-in and the cookie backed server-side sessions
// the access guard resolves identities from.
package login

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/guard"
	httpmiddleware "github.com/wolfeidau/academy/internal/http"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
	"github.com/wolfeidau/academy/internal/telemetry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookieName   = "state"
	stateCookieMaxAge = 300 // 5 minutes, enough for the OAuth round trip

	defaultAPIBaseURL = "https://api.github.com"
)

// Option customises the GitHub provider.
type Option func(*Github)

// WithEndpoint points the provider at a different OAuth endpoint and REST API,
// used for GitHub Enterprise and tests.
func WithEndpoint(endpoint oauth2.Endpoint, apiBaseURL string) Option {
	return func(g *Github) {
		g.config.Endpoint = endpoint
		g.apiBaseURL = strings.TrimSuffix(apiBaseURL, "/")
	}
}

// WithInsecureCookies drops the Secure cookie attribute for plain HTTP development servers.
func WithInsecureCookies() Option {
	return func(g *Github) {
		g.secureCookies = false
	}
}

// Github signs users in with GitHub OAuth and issues server-side sessions.
type Github struct {
	*Resolver

	config        *oauth2.Config
	sessionTTL    time.Duration
	apiBaseURL    string
	secureCookies bool
}

func NewGithub(clientID, clientSecret, callbackURL string, stores store.Stores, sessionTTL time.Duration, opts ...Option) (*Github, error) {
	if err := stores.Validate(); err != nil {
		return nil, fmt.Errorf("all stores are required: %w", err)
	}

	if clientID == "" || clientSecret == "" || callbackURL == "" {
		return nil, fmt.Errorf("client ID, client secret, and callback URL are required")
	}

	if sessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be greater than 0")
	}

	g := &Github{
		Resolver: &Resolver{stores: stores},
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		sessionTTL:    sessionTTL,
		apiBaseURL:    defaultAPIBaseURL,
		secureCookies: true,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// saveState stores a random state and the sanitised callback path in a short-lived cookie.
func (g *Github) saveState(w http.ResponseWriter, callbackPath string) string {
	state := rand.Text()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state + "." + base64.RawURLEncoding.EncodeToString([]byte(callbackPath)),
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   stateCookieMaxAge,
	})

	return state
}

// loadState returns the state and callback path saved by saveState.
func loadState(r *http.Request) (state, callbackPath string, err error) {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return "", "", err
	}

	state, encoded, ok := strings.Cut(cookie.Value, ".")
	if !ok || state == "" {
		return "", "", errors.New("malformed state cookie")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("malformed state cookie: %w", err)
	}

	return state, guard.SafeCallbackPath(string(raw)), nil
}

func (g *Github) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// SignInHandler starts the OAuth flow. Users who already hold a valid session go straight
// to their callback.
func (g *Github) SignInHandler(w http.ResponseWriter, r *http.Request) {
	callbackPath := guard.CallbackFromQuery(r.URL.Query())

	if _, err := g.GetSession(r); err == nil {
		log.Debug().Str("callback", callbackPath).Msg("Already signed in")
		http.Redirect(w, r, callbackPath, http.StatusFound)
		return
	}

	log.Debug().Str("callback", callbackPath).Msg("Initiating GitHub OAuth flow")

	state := g.saveState(w, callbackPath)

	http.Redirect(w, r, g.config.AuthCodeURL(state), http.StatusFound)
}

func (g *Github) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("OAuth callback received")

	state := r.FormValue("state")
	code := r.FormValue("code")

	if state == "" || code == "" {
		log.Warn().Msg("OAuth callback missing state or code")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	savedState, callbackPath, err := loadState(r)
	if err != nil {
		log.Warn().Err(err).Msg("OAuth callback missing state cookie")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if state != savedState {
		log.Warn().Msg("OAuth callback state mismatch")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	g.clearCookie(w, stateCookieName)

	token, err := g.config.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to exchange OAuth code for token")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	userInfo, err := g.getUserInfo(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch user info from GitHub")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if userInfo.Email == "" {
		log.Warn().Int64("github_id", userInfo.ID).Msg("GitHub user info missing email address")
		http.Error(w, "Email address required", http.StatusBadRequest)
		return
	}

	session, err := g.createSession(r, userInfo)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.SessionID.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(g.sessionTTL.Seconds()),
	})

	log.Info().
		Str("user", session.UserID).
		Str("callback", callbackPath).
		Msg("User signed in")

	http.Redirect(w, r, callbackPath, http.StatusFound)
}

// createSession upserts the GitHub user and starts a new session for them.
func (g *Github) createSession(r *http.Request, info *UserInfo) (*models.Session, error) {
	ctx := r.Context()
	providerUserID := strconv.FormatInt(info.ID, 10)

	name := info.Name
	if name == "" {
		name = info.Login
	}

	user, err := g.stores.Users.Upsert(ctx, &models.User{
		ID:             models.UserID(models.ProviderGitHub, providerUserID),
		Provider:       models.ProviderGitHub,
		ProviderUserID: providerUserID,
		Email:          info.Email,
		Name:           name,
		Image:          info.AvatarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	session := &models.Session{
		SessionID:  sessionID,
		UserID:     user.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.sessionTTL),
		LastUsedAt: now,
		UserAgent:  r.UserAgent(),
		IPAddress:  httpmiddleware.ClientIPFromContext(ctx),
	}

	if err := g.stores.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	telemetry.GetMetrics().SessionsCreatedTotal.Add(ctx, 1)

	return session, nil
}

// SignOutHandler ends the current session and returns the user to the home page.
func (g *Github) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if sessionID, err := uuid.Parse(cookie.Value); err == nil {
			err := g.stores.Sessions.Delete(r.Context(), sessionID)
			if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
				log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to delete session")
			}
		}
	}

	g.clearCookie(w, SessionCookieName)

	http.Redirect(w, r, "/", http.StatusFound)
}

// UserInfo is the subset of the GitHub user the site keeps.
type UserInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (g *Github) getUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var userInfo UserInfo
	if err := g.getJSON(ctx, token, "/user", &userInfo); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	if userInfo.ID == 0 {
		return nil, errors.New("GitHub user info missing id")
	}

	// private emails are only listed on /user/emails
	if userInfo.Email == "" {
		var emails []githubEmail
		if err := g.getJSON(ctx, token, "/user/emails", &emails); err != nil {
			return nil, fmt.Errorf("failed to fetch user emails: %w", err)
		}
		for _, email := range emails {
			if email.Primary && email.Verified {
				userInfo.Email = email.Email
				break
			}
		}
	}

	return &userInfo, nil
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *Github) getJSON(ctx context.Context, token *oauth2.Token, path string, v any) error {
	client := g.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub API returned HTTP %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
