package guard

import "github.com/wolfeidau/academy/internal/models"

// EntitlementGate checks the entitlement an allow decision forwards.
// Identities missing the entitlement are sent to the course purchase page.
type EntitlementGate struct{}

// Check returns d unchanged unless it requires a course the identity is not enrolled in.
func (EntitlementGate) Check(identity *models.Identity, d Decision) Decision {
	if d.Kind != KindAllow || d.RequiredCourse == "" {
		return d
	}

	if identity.IsEnrolled(d.RequiredCourse) {
		return d
	}

	return RedirectToFallback(CoursePath(d.RequiredCourse))
}
