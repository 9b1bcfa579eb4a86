package guard

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/telemetry"
)

// Rule is the entitlement needed to view a resource.
type Rule int

const (
	// RuleNone only requires the resource to exist.
	RuleNone Rule = iota

	// RuleEnrollment requires the identity to be enrolled in the resource.
	RuleEnrollment
)

// Resource identifies a protected resource and the rule guarding it.
type Resource struct {
	ID   string
	Rule Rule
}

// Course returns an enrollment-gated course resource.
func Course(id string) *Resource {
	return &Resource{ID: id, Rule: RuleEnrollment}
}

// SessionResolver resolves the identity behind a request.
// Implementations return an error when there is no valid session.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*models.Identity, error)
}

// ResourceLookup resolves resource ids to catalog metadata.
type ResourceLookup interface {
	GetByID(id string) (*models.Course, bool)
}

// Guard evaluates access to protected routes.
type Guard struct {
	sessions SessionResolver
	lookup   ResourceLookup
}

// New creates a guard backed by the given session resolver and resource lookup.
func New(sessions SessionResolver, lookup ResourceLookup) *Guard {
	return &Guard{
		sessions: sessions,
		lookup:   lookup,
	}
}

// Evaluate decides what to do with a request for requestPath.
//
// Rules apply in order: no identity redirects to sign-in, an unknown resource redirects
// to the dashboard, and everything else is allowed. For enrollment-gated resources the
// allow decision carries RequiredCourse for the entitlement gate to check.
func (g *Guard) Evaluate(identity *models.Identity, requestPath string, resource *Resource) Decision {
	if identity == nil {
		return RedirectToSignIn(requestPath)
	}

	if resource == nil {
		return Allow()
	}

	if resource.ID == "" || g.lookup == nil {
		return RedirectToFallback(DashboardPath)
	}

	if _, ok := g.lookup.GetByID(resource.ID); !ok {
		return RedirectToFallback(DashboardPath)
	}

	decision := Allow()
	if resource.Rule == RuleEnrollment {
		decision.RequiredCourse = resource.ID
	}
	return decision
}

// Resolve returns the identity for r, or nil when there is none.
// Resolver failures are treated the same as an absent session.
func (g *Guard) Resolve(r *http.Request) *models.Identity {
	if g.sessions == nil {
		return nil
	}

	identity, err := g.sessions.ResolveSession(r)
	if err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("No session for request")
		return nil
	}

	return identity
}

// Check resolves the session for r and evaluates it against resource.
func (g *Guard) Check(ctx context.Context, r *http.Request, resource *Resource) (Decision, *models.Identity) {
	identity := g.Resolve(r)
	decision := g.Evaluate(identity, r.URL.RequestURI(), resource)
	telemetry.RecordGuardDecision(ctx, decision.Kind.String())
	return decision, identity
}
