package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/authn"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token session revoked")
)

var (
	_ guard.SessionResolver = (*JWTResolver)(nil)
	_ guard.SessionResolver = (*DualResolver)(nil)
)

// JWTResolver resolves identities from bearer access tokens. Tokens are only honoured
// while the session they were issued for is still live.
type JWTResolver struct {
	keyManager *KeyManager
	stores     store.Stores
	issuer     string
	audience   string
}

// NewJWTResolver creates a bearer token resolver.
func NewJWTResolver(keyManager *KeyManager, stores store.Stores, issuer, audience string) *JWTResolver {
	return &JWTResolver{
		keyManager: keyManager,
		stores:     stores,
		issuer:     issuer,
		audience:   audience,
	}
}

// Verify parses and validates tokenString.
func (v *JWTResolver) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != v.keyManager.Kid() {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return v.keyManager.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims, nil
}

// ResolveSession implements guard.SessionResolver for requests carrying a bearer token.
func (v *JWTResolver) ResolveSession(r *http.Request) (*models.Identity, error) {
	tokenString, ok := authn.BearerToken(r)
	if !ok {
		return nil, ErrMissingToken
	}

	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	return v.identity(r.Context(), claims)
}

func (v *JWTResolver) identity(ctx context.Context, claims *Claims) (*models.Identity, error) {
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed sid", ErrInvalidToken)
	}

	session, err := v.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrSessionExpired) {
			return nil, ErrRevokedToken
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if session.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: subject does not own session", ErrInvalidToken)
	}

	user, err := v.stores.Users.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrRevokedToken
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	courses, err := v.stores.Enrollments.ListCourseIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	// roles and profile come from the store so changes apply before the token expires
	return models.NewIdentity(user, session, courses), nil
}

// DualResolver prefers a bearer token and falls back to the session cookie. A request
// that presents a bearer token is judged on that token alone: an invalid token never
// falls back to the cookie.
type DualResolver struct {
	bearer *JWTResolver
	cookie guard.SessionResolver
}

// NewDualResolver combines bearer and cookie resolution.
func NewDualResolver(bearer *JWTResolver, cookie guard.SessionResolver) *DualResolver {
	return &DualResolver{bearer: bearer, cookie: cookie}
}

func hasBearer(r *http.Request) bool {
	scheme, _, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	return ok && strings.EqualFold(scheme, "Bearer")
}

// ResolveSession implements guard.SessionResolver.
func (d *DualResolver) ResolveSession(r *http.Request) (*models.Identity, error) {
	if hasBearer(r) {
		identity, err := d.bearer.ResolveSession(r)
		if err != nil {
			log.Debug().Err(err).Msg("Dual auth: bearer token rejected")
			return nil, err
		}
		return identity, nil
	}

	return d.cookie.ResolveSession(r)
}

// AuthFunc adapts the resolver for authn.NewMiddleware. Anonymous requests pass through
// without info so handlers can answer with a sign-in decision rather than a 401.
func (d *DualResolver) AuthFunc() authn.AuthFunc {
	return func(ctx context.Context, r *http.Request) (any, error) {
		identity, err := d.ResolveSession(r)
		if err != nil || identity == nil {
			return nil, nil
		}
		return identity, nil
	}
}

// IdentityFromContext returns the identity stored by the authn middleware.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := authn.GetInfo(ctx).(*models.Identity)
	return identity, ok && identity != nil
}
