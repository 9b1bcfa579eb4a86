package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/guard"
)

// TokenTTL is the lifetime of issued access tokens.
const TokenTTL = time.Hour

// Handler serves the token and key discovery endpoints.
type Handler struct {
	keyManager *KeyManager
	sessions   guard.SessionResolver
	issuer     string
	audience   string
}

// NewHandler creates the token endpoints. sessions resolves the cookie session tokens are
// issued for; issuer is the site base URL and audience the access API base URL.
func NewHandler(keyManager *KeyManager, sessions guard.SessionResolver, issuer, audience string) *Handler {
	return &Handler{
		keyManager: keyManager,
		sessions:   sessions,
		issuer:     issuer,
		audience:   audience,
	}
}

// DiscoveryHandler serves /.well-known/openid-configuration.
func (h *Handler) DiscoveryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		config := map[string]any{
			"issuer":                                h.issuer,
			"jwks_uri":                              h.issuer + "/.well-known/jwks.json",
			"token_endpoint":                        h.issuer + "/auth/token",
			"response_types_supported":              []string{"token"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"ES256"},
		}

		w.Header().Set("Cache-Control", "public, max-age=86400")
		writeJSON(w, http.StatusOK, config)
	}
}

// JWKSHandler serves /.well-known/jwks.json.
func (h *Handler) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwk, err := h.keyManager.JWK()
		if err != nil {
			log.Error().Err(err).Msg("Failed to build JWK")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, map[string]any{"keys": []JWK{jwk}})
	}
}

// TokenResponse is the body returned by the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenHandler issues an access token for the signed-in user at POST /auth/token.
func (h *Handler) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		identity, err := h.sessions.ResolveSession(r)
		if err != nil || identity == nil {
			log.Debug().Err(err).Msg("Token request without valid session")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		now := time.Now()
		claims := claimsFromIdentity(identity)
		claims.Issuer = h.issuer
		claims.Audience = jwt.ClaimStrings{h.audience}
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.NotBefore = jwt.NewNumericDate(now)
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(TokenTTL))

		tokenString, err := h.keyManager.SignJWT(claims)
		if err != nil {
			log.Error().Err(err).Msg("Failed to sign JWT")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		log.Info().Str("user", identity.UserID).Msg("Issued access token")

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, TokenResponse{
			AccessToken: tokenString,
			TokenType:   "Bearer",
			ExpiresIn:   int(TokenTTL.Seconds()),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
