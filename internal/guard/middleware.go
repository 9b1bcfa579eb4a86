package guard

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/telemetry"
)

// RequireSession protects a page so only signed-in users reach it.
// Anonymous requests are redirected to sign-in with a callback to the requested URL.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, identity := g.Check(r.Context(), r, nil)
		if redirect(w, r, decision) {
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// OptionalSession resolves the session when there is one and never redirects.
// Public pages and JSON endpoints that answer anonymous callers themselves use it.
func (g *Guard) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity := g.Resolve(r); identity != nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCourse protects a course page. The course id is read from the path wildcard param.
// Unknown courses go to the dashboard, courses the user is not enrolled in go to their
// purchase page.
func (g *Guard) RequireCourse(param string, gate EntitlementGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, identity := g.Check(r.Context(), r, Course(r.PathValue(param)))
			decision = gate.Check(identity, decision)
			if redirect(w, r, decision) {
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin protects admin pages with policy. Signed-in users the policy rejects are
// sent back to the dashboard.
func (g *Guard) RequireAdmin(policy AdminPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, identity := g.Check(r.Context(), r, nil)
			if decision.Kind == KindAllow && !policy.IsAdmin(identity) {
				log.Info().
					Str("user", identity.UserID).
					Str("policy", policy.Name()).
					Str("path", r.URL.Path).
					Msg("Admin access denied")
				telemetry.RecordGuardDecision(r.Context(), "admin_denied")
				decision = RedirectToFallback(DashboardPath)
			}
			if redirect(w, r, decision) {
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// redirect writes the redirect for d and reports whether it did.
func redirect(w http.ResponseWriter, r *http.Request, d Decision) bool {
	if !d.IsRedirect() {
		return false
	}

	log.Debug().
		Str("path", r.URL.Path).
		Str("decision", d.Kind.String()).
		Str("location", d.Location).
		Msg("Redirecting request")

	http.Redirect(w, r, d.Location, http.StatusFound)
	return true
}
